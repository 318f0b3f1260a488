package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"
)

// sesAPI is the slice of the SESv2 client the sender uses.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailConfig configures the SES reset-link sender.
type EmailConfig struct {
	FromEmail  string
	FromName   string
	AppBaseURL string
}

// EmailSender delivers password reset links through Amazon SES. A sender
// constructed without a from address is disabled and drops every message
// after logging it.
type EmailSender struct {
	config  EmailConfig
	client  sesAPI
	logger  *zap.Logger
	enabled bool
}

func NewEmailSender(cfg EmailConfig, client *sesv2.Client, logger *zap.Logger) *EmailSender {
	if logger == nil {
		logger = zap.NewNop()
	}

	enabled := cfg.FromEmail != "" && client != nil
	if !enabled {
		logger.Warn("email sender disabled: from address or ses client not configured")
	}

	return &EmailSender{
		config:  cfg,
		client:  client,
		logger:  logger,
		enabled: enabled,
	}
}

// SendResetLink delivers a reset link built from the app base URL and the
// session's reset token.
func (s *EmailSender) SendResetLink(ctx context.Context, email, token string, expiresIn time.Duration) error {
	if !s.enabled {
		s.logger.Info("email skipped, sender disabled", zap.String("email", email))
		return nil
	}

	minutes := int(expiresIn.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	resetLink := fmt.Sprintf("%s/auth/reset-password?token=%s", s.config.AppBaseURL, token)

	subject := "Reset your CareBridge password"
	textBody := fmt.Sprintf(`We received a request to reset the password for your CareBridge account.

Open the link below to choose a new password:
%s

The link expires in %d minutes.

If you did not request a password reset, you can safely ignore this email.
`, resetLink, minutes)
	htmlBody := fmt.Sprintf(`<p>We received a request to reset the password for your CareBridge account.</p>
<p><a href="%s">Reset your password</a></p>
<p>The link expires in %d minutes.</p>
<p>If you did not request a password reset, you can safely ignore this email.</p>
`, resetLink, minutes)

	fromAddress := s.config.FromEmail
	if s.config.FromName != "" {
		fromAddress = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.FromEmail)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(textBody),
						Charset: aws.String("UTF-8"),
					},
					Html: &types.Content{
						Data:    aws.String(htmlBody),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("ses send: %w", err)
	}

	return nil
}
