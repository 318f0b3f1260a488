package password

import (
	"strings"
	"testing"
)

func newTestHasher(t *testing.T) *Argon2 {
	t.Helper()
	h, err := NewArgon2(Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	return h
}

func TestHashVerifyRoundTrip(t *testing.T) {
	h := newTestHasher(t)

	encoded, err := h.Hash("Sup3rSecret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=") {
		t.Fatalf("unexpected PHC prefix: %s", encoded)
	}

	ok, err := h.Verify("Sup3rSecret", encoded)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("correct password rejected")
	}

	ok, err = h.Verify("Sup3rSecret2", encoded)
	if err != nil {
		t.Fatalf("Verify wrong password: %v", err)
	}
	if ok {
		t.Fatal("wrong password accepted")
	}
}

func TestHashProducesUniqueSalts(t *testing.T) {
	h := newTestHasher(t)

	first, err := h.Hash("Sup3rSecret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	second, err := h.Hash("Sup3rSecret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if first == second {
		t.Fatal("two hashes of the same password are identical")
	}
}

func TestHashRejectsEmptyPassword(t *testing.T) {
	h := newTestHasher(t)

	if _, err := h.Hash(""); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestNewArgon2RejectsWeakParams(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"low memory", Config{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}},
		{"zero time", Config{Memory: 8 * 1024, Time: 0, Parallelism: 1, SaltLength: 16, KeyLength: 32}},
		{"zero parallelism", Config{Memory: 8 * 1024, Time: 1, Parallelism: 0, SaltLength: 16, KeyLength: 32}},
		{"short salt", Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 32}},
		{"short key", Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 8}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewArgon2(tc.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	h := newTestHasher(t)

	cases := []string{
		"",
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA",
	}
	for _, encoded := range cases {
		if _, err := h.Verify("whatever", encoded); err == nil {
			t.Fatalf("expected error for %q", encoded)
		}
	}
}

func TestNeedsUpgrade(t *testing.T) {
	weak := newTestHasher(t)

	encoded, err := weak.Hash("Sup3rSecret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	strong, err := NewArgon2(DefaultConfig())
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}

	upgrade, err := strong.NeedsUpgrade(encoded)
	if err != nil {
		t.Fatalf("NeedsUpgrade: %v", err)
	}
	if !upgrade {
		t.Fatal("expected upgrade for weaker hash")
	}

	current, err := strong.Hash("Sup3rSecret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	upgrade, err = strong.NeedsUpgrade(current)
	if err != nil {
		t.Fatalf("NeedsUpgrade: %v", err)
	}
	if upgrade {
		t.Fatal("unexpected upgrade for current hash")
	}
}
