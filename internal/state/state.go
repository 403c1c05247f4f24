// Package state persists the posting scheduler's progress.
//
// The schedule state is a small indented JSON document. It can live on the
// local filesystem or in an S3-compatible bucket; both backends share the same
// encoding and the same load semantics: a missing document yields the default
// state, and fields absent from the document keep their default values.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BTreeMap/VoterBot/internal/models"
	"github.com/BTreeMap/VoterBot/internal/util"
)

// DefaultPath is the local state file used when no location is configured.
const DefaultPath = "state/state.json"

// Backend loads and saves the schedule state.
type Backend interface {
	// Load returns the persisted state, or defaults if none exists.
	Load(ctx context.Context) (*models.ScheduleState, error)
	// Save replaces the persisted state.
	Save(ctx context.Context, st *models.ScheduleState) error
	// Location describes where the state lives, for logging.
	Location() string
}

// Encode renders the state as indented UTF-8 JSON with a trailing newline.
func Encode(st *models.ScheduleState) ([]byte, error) {
	c := st.Clone()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a state document, merging it over the defaults.
func Decode(data []byte) (*models.ScheduleState, error) {
	st := models.DefaultScheduleState()
	if len(bytes.TrimSpace(data)) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	st.Normalize()
	return st, nil
}

// Open returns the backend for location: "s3://bucket/key" selects S3,
// anything else is a local file path. An empty location means DefaultPath.
func Open(ctx context.Context, location string) (Backend, error) {
	if bucket, key, ok := ParseS3URL(location); ok {
		cfg := S3Config{
			Region:    util.GetenvDefault("AWS_REGION", "us-east-1"),
			Endpoint:  util.GetenvDefault("VOTERBOT_S3_ENDPOINT", ""),
			PathStyle: util.ParseBoolEnv("VOTERBOT_S3_PATH_STYLE", false),

			AccessKeyID:     util.GetenvDefault("VOTERBOT_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: util.GetenvDefault("VOTERBOT_S3_SECRET_ACCESS_KEY", ""),
		}
		return NewS3Backend(ctx, bucket, key, cfg)
	}
	if strings.HasPrefix(location, "s3://") {
		return nil, fmt.Errorf("invalid S3 state location %q: want s3://bucket/key", location)
	}
	if location == "" {
		location = DefaultPath
	}
	return NewLocalBackend(location), nil
}

// ParseS3URL splits "s3://bucket/key" into bucket and key.
func ParseS3URL(location string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(location, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", false
	}
	return bucket, key, true
}
