package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"go.uber.org/zap"
)

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{}, nil
}

func newTestEmailSender(ses *fakeSES) *EmailSender {
	return &EmailSender{
		config: EmailConfig{
			FromEmail:  "no-reply@carebridge.example",
			FromName:   "CareBridge",
			AppBaseURL: "https://carebridge.example",
		},
		client:  ses,
		logger:  zap.NewNop(),
		enabled: true,
	}
}

func TestSendResetLink(t *testing.T) {
	ses := &fakeSES{}
	sender := newTestEmailSender(ses)

	err := sender.SendResetLink(context.Background(), "user@example.com", "token-123", 10*time.Minute)
	if err != nil {
		t.Fatalf("SendResetLink: %v", err)
	}

	if len(ses.inputs) != 1 {
		t.Fatalf("expected 1 send, got %d", len(ses.inputs))
	}
	input := ses.inputs[0]

	if got := input.Destination.ToAddresses; len(got) != 1 || got[0] != "user@example.com" {
		t.Fatalf("to addresses = %v", got)
	}
	if got := *input.FromEmailAddress; !strings.Contains(got, "no-reply@carebridge.example") {
		t.Fatalf("from = %q", got)
	}

	text := *input.Content.Simple.Body.Text.Data
	if !strings.Contains(text, "https://carebridge.example/auth/reset-password?token=token-123") {
		t.Fatalf("body missing reset link: %q", text)
	}
	if !strings.Contains(text, "10 minutes") {
		t.Fatalf("body missing expiry: %q", text)
	}
}

func TestDisabledEmailSenderDropsSilently(t *testing.T) {
	sender := NewEmailSender(EmailConfig{}, nil, zap.NewNop())

	err := sender.SendResetLink(context.Background(), "user@example.com", "token-123", 10*time.Minute)
	if err != nil {
		t.Fatalf("disabled sender returned error: %v", err)
	}
}
