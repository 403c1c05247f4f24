// Package messaging publishes rendered posts to a remote channel.
//
// A Publisher authenticates once per process and submits text with a bounded
// number of retries. Every implementation reports success as an opaque
// reference string (an AT URI for Bluesky, a message SID for Twilio).
package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/BTreeMap/VoterBot/internal/models"
)

// Publish channels.
const (
	ChannelBluesky = "bluesky"
	ChannelTwilio  = "twilio"
)

var (
	// ErrNotAuthenticated is returned by Publish before a successful Authenticate.
	ErrNotAuthenticated = errors.New("publisher is not authenticated")
	// ErrUnknownChannel is returned for an unsupported channel name.
	ErrUnknownChannel = errors.New("unknown publish channel")
)

// Publisher defines a pluggable publish gateway.
type Publisher interface {
	// Authenticate establishes a session. Calling it again with the same
	// credentials while a session is active is a no-op.
	Authenticate(ctx context.Context, creds models.Credentials) error

	// Publish submits text and returns the remote reference. Transient
	// failures are retried internally; a *PublishError is returned once
	// attempts are exhausted.
	Publish(ctx context.Context, text string) (string, error)

	// Channel names the destination, e.g. "bluesky".
	Channel() string
}

// PublishError reports a publish that failed after every attempt.
type PublishError struct {
	Channel  string
	Attempts int
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s publish failed after %d attempt(s): %v", e.Channel, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
