package auth

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestVerifier(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("bot-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	v, err := NewVerifier(string(hash))
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	if err := v.Verify("bot-secret"); err != nil {
		t.Fatalf("expected key to verify: %v", err)
	}
	if err := v.Verify("bot-secret"); err != nil {
		t.Fatalf("expected cached key to verify: %v", err)
	}
	if err := v.Verify("wrong"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
	if err := v.Verify(""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected invalid key for empty input, got %v", err)
	}
}

func TestVerifierWithoutHash(t *testing.T) {
	v, err := NewVerifier("")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if v.Configured() {
		t.Fatalf("expected unconfigured verifier")
	}
	if err := v.Verify("anything"); !errors.Is(err, ErrNoKeyConfigured) {
		t.Fatalf("expected ErrNoKeyConfigured, got %v", err)
	}
}

func TestNewVerifierRejectsMalformedHash(t *testing.T) {
	if _, err := NewVerifier("not-a-bcrypt-hash"); err == nil {
		t.Fatalf("expected error for malformed hash")
	}
}

func TestHashKey(t *testing.T) {
	hash, err := HashKey("k")
	if err != nil {
		t.Fatalf("hash key: %v", err)
	}
	v, err := NewVerifier(hash)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if err := v.Verify("k"); err != nil {
		t.Fatalf("verify: %v", err)
	}
}
