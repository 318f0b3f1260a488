package resetd

import (
	"errors"
	"time"
)

// Config collects the tunables of the reset engine. Zero values are filled
// from defaultConfig by the builder; Validate rejects combinations that
// would weaken the workflow guarantees.
type Config struct {
	Reset     ResetConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

// ResetConfig bounds a single reset session.
type ResetConfig struct {
	// SessionTTL is the validity window applied on every session write.
	SessionTTL time.Duration
	// ResendAfter is the hint returned to clients for OTP resend pacing.
	ResendAfter time.Duration
	// OTPDigits is the OTP length for phone resets.
	OTPDigits int
	// MaxOTPAttempts bounds failed OTP checks before the session is burned.
	MaxOTPAttempts int
	// KeyPrefix namespaces session keys in Redis.
	KeyPrefix string
}

// RateLimitConfig bounds reset requests per identifier and method.
type RateLimitConfig struct {
	// MaxRequests per identifier+method within Window.
	MaxRequests int
	// Window is the rolling throttle window.
	Window time.Duration
	// KeyPrefix namespaces rate-limit keys in Redis.
	KeyPrefix string
}

// AuditConfig controls the buffered audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events instead of applying backpressure to the
	// request path. Dropped events are counted, see Engine.AuditDropped.
	DropIfFull bool
}

func defaultConfig() Config {
	return Config{
		Reset: ResetConfig{
			SessionTTL:     10 * time.Minute,
			ResendAfter:    time.Minute,
			OTPDigits:      6,
			MaxOTPAttempts: 3,
			KeyPrefix:      "pr",
		},
		RateLimit: RateLimitConfig{
			MaxRequests: 3,
			Window:      time.Hour,
			KeyPrefix:   "prl",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	// All fields are value types today; the copy is kept behind a helper so
	// future reference fields get deep-copied in one place.
	return cfg
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Reset.SessionTTL <= 0 {
		return errors.New("Reset.SessionTTL must be positive")
	}
	if c.Reset.ResendAfter < 0 || c.Reset.ResendAfter > c.Reset.SessionTTL {
		return errors.New("Reset.ResendAfter must be within the session window")
	}
	if c.Reset.OTPDigits < 6 || c.Reset.OTPDigits > 10 {
		return errors.New("Reset.OTPDigits must be between 6 and 10")
	}
	if c.Reset.MaxOTPAttempts < 1 {
		return errors.New("Reset.MaxOTPAttempts must be at least 1")
	}
	if c.Reset.KeyPrefix == "" {
		return errors.New("Reset.KeyPrefix required")
	}
	if c.RateLimit.MaxRequests < 1 {
		return errors.New("RateLimit.MaxRequests must be at least 1")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("RateLimit.Window must be positive")
	}
	if c.RateLimit.KeyPrefix == "" {
		return errors.New("RateLimit.KeyPrefix required")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit.BufferSize must be positive when audit is enabled")
	}
	return nil
}
