package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/BTreeMap/VoterBot/internal/models"
)

// S3API is the subset of the S3 client used by S3Backend.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config holds construction parameters for an S3 backend. When AccessKeyID
// is empty, credentials come from the default AWS chain.
type S3Config struct {
	Region    string
	Endpoint  string // optional; set for MinIO and other S3-compatible stores
	PathStyle bool

	AccessKeyID     string
	SecretAccessKey string
}

// S3Backend stores the state as a single object.
type S3Backend struct {
	client S3API
	bucket string
	key    string
}

// NewS3Backend creates an S3 backend using the default AWS configuration.
func NewS3Backend(ctx context.Context, bucket, key string, cfg S3Config) (*S3Backend, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 bucket and key required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewS3BackendWithClient(client, bucket, key), nil
}

// NewS3BackendWithClient creates an S3 backend over an existing client.
func NewS3BackendWithClient(client S3API, bucket, key string) *S3Backend {
	return &S3Backend{client: client, bucket: bucket, key: key}
}

// Location returns the s3:// URL of the state object.
func (b *S3Backend) Location() string {
	return "s3://" + b.bucket + "/" + b.key
}

// Load fetches the state object. A missing object yields the default state.
func (b *S3Backend) Load(ctx context.Context) (*models.ScheduleState, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(b.key)})
	if isNotFound(err) {
		slog.Debug("S3Backend.Load: no state object, using defaults", "location", b.Location())
		return models.DefaultScheduleState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state %s: %w", b.Location(), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read state %s: %w", b.Location(), err)
	}
	st, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Location(), err)
	}
	return st, nil
}

// Save uploads the state object. A single PUT replaces the object atomically.
func (b *S3Backend) Save(ctx context.Context, st *models.ScheduleState) error {
	data, err := Encode(st)
	if err != nil {
		return err
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("failed to put state %s: %w", b.Location(), err)
	}
	slog.Debug("S3Backend.Save: state written", "location", b.Location(), "used", len(st.UsedIDs), "queue_index", st.QueueIndex)
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}
