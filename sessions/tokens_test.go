package sessions

import (
	"strings"
	"testing"
	"time"
)

func newTestTokenManager(t *testing.T) *TokenManager {
	t.Helper()
	m, err := NewTokenManager(TokenConfig{
		Secret:    []byte(strings.Repeat("s", 32)),
		AccessTTL: 15 * time.Minute,
		Issuer:    "carebridge",
	})
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	return m
}

func TestIssueParseRoundTrip(t *testing.T) {
	m := newTestTokenManager(t)

	token, err := m.Issue(testSession("sess-1", "user-1"))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := m.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UID != "user-1" || claims.SID != "sess-1" || claims.Role != "USER" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	m := newTestTokenManager(t)

	token, err := m.Issue(testSession("sess-1", "user-1"))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other, err := NewTokenManager(TokenConfig{
		Secret:    []byte(strings.Repeat("x", 32)),
		AccessTTL: 15 * time.Minute,
		Issuer:    "carebridge",
	})
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}

	if _, err := other.Parse(token); err == nil {
		t.Fatal("token signed with a different secret was accepted")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	m := newTestTokenManager(t)

	for _, token := range []string{"", "garbage", "a.b.c"} {
		if _, err := m.Parse(token); err == nil {
			t.Fatalf("accepted %q", token)
		}
	}
}

func TestNewTokenManagerRejectsShortSecret(t *testing.T) {
	_, err := NewTokenManager(TokenConfig{
		Secret:    []byte("short"),
		AccessTTL: 15 * time.Minute,
	})
	if err == nil {
		t.Fatal("expected error for short secret")
	}
}
