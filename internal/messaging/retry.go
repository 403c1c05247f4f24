package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Default retry settings: three attempts, sleeping 2s then 4s between them.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 2
	DefaultBackoffUnit = time.Second
)

// RetryPolicy bounds a publish attempt loop.
type RetryPolicy struct {
	MaxAttempts int
	Base        int
	Unit        time.Duration
	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Retryable reports whether a failure may be retried. Nil retries everything.
	Retryable func(err error) bool
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Base:        DefaultBackoffBase,
		Unit:        DefaultBackoffUnit,
	}
}

// Delay returns the wait after the given failed attempt (1-based): Unit * Base^attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.Unit
	for i := 0; i < attempt; i++ {
		d *= time.Duration(p.Base)
	}
	return d
}

// Result is the outcome of a retried publish.
type Result struct {
	Ref      string
	Attempts int
	Err      error
}

// OK reports whether the publish succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// AsError returns nil on success and a *PublishError otherwise.
func (r Result) AsError(channel string) error {
	if r.Err == nil {
		return nil
	}
	return &PublishError{Channel: channel, Attempts: r.Attempts, Err: r.Err}
}

// Retry calls fn until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (string, error)) Result {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ref, err := fn(ctx)
		if err == nil {
			return Result{Ref: ref, Attempts: attempt}
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			slog.Warn("messaging.Retry: non-retryable failure", "attempt", attempt, "error", err)
			return Result{Attempts: attempt, Err: err}
		}
		if attempt == maxAttempts {
			break
		}
		delay := p.Delay(attempt)
		slog.Warn("messaging.Retry: attempt failed, backing off", "attempt", attempt, "max_attempts", maxAttempts, "delay", delay, "error", err)
		if err := sleep(ctx, delay); err != nil {
			return Result{Attempts: attempt, Err: fmt.Errorf("%w (last failure: %v)", err, lastErr)}
		}
	}
	return Result{Attempts: maxAttempts, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
