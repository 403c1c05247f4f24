package twiliowhatsapp

import (
	"context"
	"errors"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	sid, err := mock.SendMessage(ctx, "+6421000000", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid != "SM00000000000000000000000000000001" {
		t.Errorf("unexpected sid %q", sid)
	}

	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", mock.SentMessages[0].Body)
	}
}

func TestMockClient_ScriptedErrors(t *testing.T) {
	mock := NewMockClient()
	boom := errors.New("boom")
	mock.Errors = []error{boom, nil}

	if _, err := mock.SendMessage(context.Background(), "1", "a"); !errors.Is(err, boom) {
		t.Fatalf("expected scripted error, got %v", err)
	}
	if _, err := mock.SendMessage(context.Background(), "1", "b"); err != nil {
		t.Fatalf("expected success after scripted nil, got %v", err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].Body != "b" {
		t.Errorf("unexpected sent messages %+v", mock.SentMessages)
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token")); err == nil {
		t.Error("expected error without from number")
	}

	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token"), WithFromWhats("+14155238886"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.fromWhats != "whatsapp:+14155238886" {
		t.Errorf("fromWhats = %q", c.fromWhats)
	}
}

func TestNewClientFromEnv(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AC999")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("TWILIO_FROM_NUMBER", "whatsapp:+100")

	c, err := NewClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.fromWhats != "whatsapp:+100" {
		t.Errorf("fromWhats = %q", c.fromWhats)
	}
}

func TestAddress(t *testing.T) {
	tests := map[string]string{
		"+6421000000":          "whatsapp:+6421000000",
		" whatsapp:+64210000 ": "whatsapp:+64210000",
	}
	for in, want := range tests {
		if got := Address(in); got != want {
			t.Errorf("Address(%q) = %q, want %q", in, got, want)
		}
	}
}
