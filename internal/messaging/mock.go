package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BTreeMap/VoterBot/internal/models"
)

// MockPublisher is an in-memory Publisher for tests and local runs.
type MockPublisher struct {
	mu sync.Mutex

	// AuthErr is returned by Authenticate when set.
	AuthErr error
	// Failures are returned, in order, by successive publish attempts.
	Failures []error
	// Policy is the retry policy applied to Failures.
	Policy RetryPolicy

	AuthCalls int
	Attempts  int
	Published []string
	Creds     models.Credentials
	authed    bool
}

// NewMockPublisher creates a MockPublisher that never sleeps between attempts.
func NewMockPublisher() *MockPublisher {
	p := DefaultRetryPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return &MockPublisher{Policy: p}
}

// Channel returns "mock".
func (m *MockPublisher) Channel() string {
	return "mock"
}

// Authenticate records the credentials.
func (m *MockPublisher) Authenticate(ctx context.Context, creds models.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AuthCalls++
	if m.AuthErr != nil {
		return m.AuthErr
	}
	m.Creds = creds
	m.authed = true
	return nil
}

// Publish consumes scripted failures through Retry, then records the text.
func (m *MockPublisher) Publish(ctx context.Context, text string) (string, error) {
	m.mu.Lock()
	authed := m.authed
	m.mu.Unlock()
	if !authed {
		return "", ErrNotAuthenticated
	}
	res := Retry(ctx, m.Policy, func(ctx context.Context) (string, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.Attempts++
		if len(m.Failures) > 0 {
			err := m.Failures[0]
			m.Failures = m.Failures[1:]
			return "", err
		}
		m.Published = append(m.Published, text)
		return fmt.Sprintf("mock://post/%d", len(m.Published)), nil
	})
	return res.Ref, res.AsError(m.Channel())
}
