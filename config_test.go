package resetd

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		problem string
	}{
		{"zero session ttl", func(c *Config) { c.Reset.SessionTTL = 0 }, "SessionTTL"},
		{"resend beyond window", func(c *Config) { c.Reset.ResendAfter = 11 * time.Minute }, "ResendAfter"},
		{"otp too short", func(c *Config) { c.Reset.OTPDigits = 4 }, "OTPDigits"},
		{"otp too long", func(c *Config) { c.Reset.OTPDigits = 12 }, "OTPDigits"},
		{"no attempts", func(c *Config) { c.Reset.MaxOTPAttempts = 0 }, "MaxOTPAttempts"},
		{"empty session prefix", func(c *Config) { c.Reset.KeyPrefix = "" }, "Reset.KeyPrefix"},
		{"no requests allowed", func(c *Config) { c.RateLimit.MaxRequests = 0 }, "MaxRequests"},
		{"zero window", func(c *Config) { c.RateLimit.Window = 0 }, "Window"},
		{"empty limit prefix", func(c *Config) { c.RateLimit.KeyPrefix = "" }, "RateLimit.KeyPrefix"},
		{"audit without buffer", func(c *Config) { c.Audit.BufferSize = 0 }, "BufferSize"},
	}

	for _, tc := range cases {
		cfg := defaultConfig()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: Validate accepted a bad config", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.problem) {
			t.Errorf("%s: error %q does not name %q", tc.name, err, tc.problem)
		}
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	_, client := newTestRedisClient(t)

	b := New().WithRedis(client).WithDirectory(newMockDirectory())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("first Build: %v", err)
	}
	t.Cleanup(engine.Close)

	if _, err := b.Build(); err == nil {
		t.Fatal("second Build succeeded")
	}
}

func TestBuilderRequiresRedisAndDirectory(t *testing.T) {
	if _, err := New().Build(); err == nil {
		t.Fatal("Build without redis succeeded")
	}

	_, client := newTestRedisClient(t)
	if _, err := New().WithRedis(client).Build(); err == nil {
		t.Fatal("Build without directory succeeded")
	}
}

func TestBuilderRejectsInvalidConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Reset.OTPDigits = 3

	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("Build accepted an invalid config")
	}
}
