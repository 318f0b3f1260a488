package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSendOTPPostsForm(t *testing.T) {
	var (
		gotAPIKey  string
		gotTo      string
		gotMessage string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		gotAPIKey = r.Header.Get("apiKey")
		gotTo = r.PostFormValue("to")
		gotMessage = r.PostFormValue("message")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sender := NewSMSSender(SMSConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
	}, zap.NewNop())

	err := sender.SendOTP(context.Background(), "+8801712345678", "123456", 10*time.Minute)
	if err != nil {
		t.Fatalf("SendOTP: %v", err)
	}

	if gotAPIKey != "test-key" {
		t.Fatalf("apiKey header = %q", gotAPIKey)
	}
	if gotTo != "+8801712345678" {
		t.Fatalf("to = %q", gotTo)
	}
	if !strings.Contains(gotMessage, "123456") {
		t.Fatalf("message does not carry the code: %q", gotMessage)
	}
	if !strings.Contains(gotMessage, "10 minutes") {
		t.Fatalf("message does not carry the expiry: %q", gotMessage)
	}
}

func TestSendOTPGatewayFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sender := NewSMSSender(SMSConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
	}, zap.NewNop())

	err := sender.SendOTP(context.Background(), "+8801712345678", "123456", 10*time.Minute)
	if err == nil {
		t.Fatal("expected error for gateway failure")
	}
}

func TestDisabledSenderDropsSilently(t *testing.T) {
	sender := NewSMSSender(SMSConfig{}, zap.NewNop())

	err := sender.SendOTP(context.Background(), "+8801712345678", "123456", 10*time.Minute)
	if err != nil {
		t.Fatalf("disabled sender returned error: %v", err)
	}
}

func TestMaskPhone(t *testing.T) {
	if got := maskPhone("+8801712345678"); got != "**********5678" {
		t.Fatalf("maskPhone = %q", got)
	}
	if got := maskPhone("12"); got != "****" {
		t.Fatalf("maskPhone short = %q", got)
	}
}
