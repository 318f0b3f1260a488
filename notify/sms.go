package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SMSConfig configures the HTTP SMS gateway client.
type SMSConfig struct {
	BaseURL  string
	APIKey   string
	SenderID string
	Timeout  time.Duration
}

// SMSSender delivers OTP codes through a form-POST SMS gateway. A sender
// constructed without a base URL is disabled and drops every message
// after logging it.
type SMSSender struct {
	config  SMSConfig
	client  *http.Client
	logger  *zap.Logger
	enabled bool
}

func NewSMSSender(cfg SMSConfig, logger *zap.Logger) *SMSSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	enabled := cfg.BaseURL != "" && cfg.APIKey != ""
	if !enabled {
		logger.Warn("sms sender disabled: gateway url or api key not configured")
	}

	return &SMSSender{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		enabled: enabled,
	}
}

// Send posts one message to the gateway.
func (s *SMSSender) Send(ctx context.Context, phone, message string) error {
	if !s.enabled {
		s.logger.Info("sms skipped, sender disabled", zap.String("phone", maskPhone(phone)))
		return nil
	}

	form := url.Values{}
	form.Set("to", phone)
	form.Set("message", message)
	if s.config.SenderID != "" {
		form.Set("sender_id", s.config.SenderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("sms gateway: status %d", resp.StatusCode)
	}

	return nil
}

// SendOTP formats and delivers a one-time verification code.
func (s *SMSSender) SendOTP(ctx context.Context, phone, otp string, expiresIn time.Duration) error {
	minutes := int(expiresIn.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	message := fmt.Sprintf(
		"Your CareBridge password reset code is %s. It expires in %d minutes. Do not share this code with anyone.",
		otp, minutes,
	)
	return s.Send(ctx, phone, message)
}

func maskPhone(phone string) string {
	if len(phone) < 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
