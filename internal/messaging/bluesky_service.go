package messaging

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/VoterBot/internal/bluesky"
	"github.com/BTreeMap/VoterBot/internal/models"
)

// BlueskyAPI is the subset of the Bluesky client used by BlueskyService.
type BlueskyAPI interface {
	CreateSession(ctx context.Context, identifier, password string) (*bluesky.Session, error)
	CreatePost(ctx context.Context, session *bluesky.Session, text string, createdAt time.Time) (string, error)
}

// ServiceOption configures a publisher.
type ServiceOption func(*serviceOpts)

type serviceOpts struct {
	policy RetryPolicy
	now    func() time.Time
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) ServiceOption {
	return func(o *serviceOpts) { o.policy = p }
}

// WithNow overrides the clock used to stamp posts.
func WithNow(now func() time.Time) ServiceOption {
	return func(o *serviceOpts) { o.now = now }
}

func applyServiceOpts(opts []ServiceOption) serviceOpts {
	cfg := serviceOpts{policy: DefaultRetryPolicy(), now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// BlueskyService implements Publisher by posting to Bluesky.
type BlueskyService struct {
	client BlueskyAPI
	opts   serviceOpts

	mu      sync.Mutex
	session *bluesky.Session
	handle  string
}

// NewBlueskyService creates a BlueskyService over the given client.
func NewBlueskyService(client BlueskyAPI, opts ...ServiceOption) *BlueskyService {
	cfg := applyServiceOpts(opts)
	if cfg.policy.Retryable == nil {
		cfg.policy.Retryable = blueskyRetryable
	}
	return &BlueskyService{client: client, opts: cfg}
}

// Channel returns ChannelBluesky.
func (s *BlueskyService) Channel() string {
	return ChannelBluesky
}

// Authenticate creates a session unless one is already active for the handle.
func (s *BlueskyService) Authenticate(ctx context.Context, creds models.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil && s.handle == creds.Handle {
		slog.Debug("BlueskyService.Authenticate: reusing active session", "handle", creds.Handle)
		return nil
	}
	session, err := s.client.CreateSession(ctx, creds.Handle, creds.Secret)
	if err != nil {
		slog.Error("BlueskyService.Authenticate: login failed", "handle", creds.Handle, "error", err)
		return err
	}
	s.session = session
	s.handle = creds.Handle
	slog.Info("BlueskyService.Authenticate: logged in", "handle", creds.Handle)
	return nil
}

// Publish posts text and returns the post's AT URI.
func (s *BlueskyService) Publish(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return "", ErrNotAuthenticated
	}

	createdAt := s.opts.now()
	res := Retry(ctx, s.opts.policy, func(ctx context.Context) (string, error) {
		return s.client.CreatePost(ctx, session, text, createdAt)
	})
	if err := res.AsError(ChannelBluesky); err != nil {
		slog.Error("BlueskyService.Publish: giving up", "attempts", res.Attempts, "error", res.Err)
		return "", err
	}
	slog.Info("BlueskyService.Publish: posted", "uri", res.Ref, "attempts", res.Attempts)
	return res.Ref, nil
}

// blueskyRetryable retries transport failures, rate limiting and server errors.
func blueskyRetryable(err error) bool {
	if code := bluesky.StatusCode(err); code != 0 {
		return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, bluesky.ErrNoSession)
}
