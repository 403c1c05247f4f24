package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/BTreeMap/VoterBot/internal/models"
	"github.com/BTreeMap/VoterBot/internal/twiliowhatsapp"
)

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// SenderFactory builds a Twilio sender from an account SID and auth token.
type SenderFactory func(accountSID, authToken string) (twiliowhatsapp.Sender, error)

// NewTwilioSenderFactory returns a SenderFactory that sends from the given
// WhatsApp number through the real Twilio API.
func NewTwilioSenderFactory(from string) SenderFactory {
	return func(accountSID, authToken string) (twiliowhatsapp.Sender, error) {
		return twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(accountSID),
			twiliowhatsapp.WithAuthToken(authToken),
			twiliowhatsapp.WithFromWhats(from),
		)
	}
}

// TwilioService implements Publisher by sending each post as a WhatsApp
// message to a single recipient.
type TwilioService struct {
	factory SenderFactory
	to      string
	opts    serviceOpts

	mu     sync.Mutex
	sender twiliowhatsapp.Sender
	sid    string
}

// NewTwilioService creates a TwilioService delivering to recipient.
func NewTwilioService(factory SenderFactory, recipient string, opts ...ServiceOption) (*TwilioService, error) {
	to, err := CanonicalizeRecipient(recipient)
	if err != nil {
		return nil, err
	}
	return &TwilioService{factory: factory, to: to, opts: applyServiceOpts(opts)}, nil
}

// CanonicalizeRecipient strips everything but digits from a phone number and
// requires at least 6 digits.
func CanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return "+" + canonical, nil
}

// Channel returns ChannelTwilio.
func (s *TwilioService) Channel() string {
	return ChannelTwilio
}

// Authenticate builds the Twilio client. Handle is the account SID and Secret
// the auth token.
func (s *TwilioService) Authenticate(ctx context.Context, creds models.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sender != nil && s.sid == creds.Handle {
		return nil
	}
	sender, err := s.factory(creds.Handle, creds.Secret)
	if err != nil {
		return fmt.Errorf("failed to create Twilio client: %w", err)
	}
	s.sender = sender
	s.sid = creds.Handle
	slog.Info("TwilioService.Authenticate: client ready", "to", s.to)
	return nil
}

// Publish sends text and returns the Twilio message SID.
func (s *TwilioService) Publish(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	sender := s.sender
	s.mu.Unlock()
	if sender == nil {
		return "", ErrNotAuthenticated
	}

	res := Retry(ctx, s.opts.policy, func(ctx context.Context) (string, error) {
		return sender.SendMessage(ctx, s.to, text)
	})
	if err := res.AsError(ChannelTwilio); err != nil {
		slog.Error("TwilioService.Publish: giving up", "attempts", res.Attempts, "error", res.Err)
		return "", err
	}
	slog.Info("TwilioService.Publish: sent", "sid", res.Ref, "attempts", res.Attempts)
	return res.Ref, nil
}
