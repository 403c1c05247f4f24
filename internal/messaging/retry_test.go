package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type recordedSleeps struct {
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestRetryBackoffSchedule(t *testing.T) {
	sleeps := &recordedSleeps{}
	p := DefaultRetryPolicy()
	p.Sleep = sleeps.sleep

	calls := 0
	boom := errors.New("network down")
	res := Retry(context.Background(), p, func(context.Context) (string, error) {
		calls++
		return "", boom
	})

	if res.OK() {
		t.Fatal("expected failure")
	}
	if calls != 3 || res.Attempts != 3 {
		t.Errorf("calls = %d, attempts = %d, want 3", calls, res.Attempts)
	}
	if diff := cmp.Diff([]time.Duration{2 * time.Second, 4 * time.Second}, sleeps.delays); diff != "" {
		t.Errorf("sleep schedule mismatch (-want +got):\n%s", diff)
	}

	err := res.AsError("bluesky")
	var pubErr *PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("AsError() = %v, want *PublishError", err)
	}
	if pubErr.Attempts != 3 || !errors.Is(err, boom) {
		t.Errorf("PublishError = %+v", pubErr)
	}
}

func TestRetrySucceedsAfterFailure(t *testing.T) {
	sleeps := &recordedSleeps{}
	p := DefaultRetryPolicy()
	p.Sleep = sleeps.sleep

	calls := 0
	res := Retry(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("transient")
		}
		return "at://post", nil
	})
	if !res.OK() || res.Ref != "at://post" || res.Attempts != 2 {
		t.Errorf("result = %+v", res)
	}
	if res.AsError("bluesky") != nil {
		t.Error("AsError() should be nil on success")
	}
	if len(sleeps.delays) != 1 || sleeps.delays[0] != 2*time.Second {
		t.Errorf("delays = %v", sleeps.delays)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	p := DefaultRetryPolicy()
	p.Sleep = func(context.Context, time.Duration) error {
		t.Fatal("should not sleep after a permanent error")
		return nil
	}
	permanent := errors.New("bad request")
	p.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	res := Retry(context.Background(), p, func(context.Context) (string, error) { return "", permanent })
	if res.Attempts != 1 || !errors.Is(res.Err, permanent) {
		t.Errorf("result = %+v", res)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := RetryPolicy{MaxAttempts: 5, Base: 2, Unit: time.Hour}

	res := Retry(ctx, p, func(context.Context) (string, error) { return "", errors.New("offline") })
	if res.Attempts != 1 || !errors.Is(res.Err, context.Canceled) {
		t.Errorf("result = %+v", res)
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{Base: 2, Unit: time.Millisecond}
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 8 * time.Millisecond}
	for attempt, w := range want {
		if got := p.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestRetryZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	res := Retry(context.Background(), RetryPolicy{}, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if calls != 1 || !res.OK() {
		t.Errorf("calls = %d, result = %+v", calls, res)
	}
}
