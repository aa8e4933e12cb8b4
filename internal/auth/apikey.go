// Package auth verifies the API key presented by chat bots calling the
// command API.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidKey is returned for keys that do not match the configured hash.
	ErrInvalidKey = errors.New("invalid api key")
	// ErrNoKeyConfigured is returned by Verify when no hash was configured.
	ErrNoKeyConfigured = errors.New("no api key configured")
)

// Verifier checks API keys against a bcrypt hash. Keys that verified once are
// remembered by digest so that bcrypt runs once per key.
type Verifier struct {
	hash     []byte
	accepted sync.Map
}

// NewVerifier validates hash. An empty hash yields a verifier that rejects
// every key.
func NewVerifier(hash string) (*Verifier, error) {
	if hash == "" {
		return &Verifier{}, nil
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid api key hash: %w", err)
	}
	return &Verifier{hash: []byte(hash)}, nil
}

// HashKey returns the bcrypt hash to configure for key.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Configured reports whether a hash was provided.
func (v *Verifier) Configured() bool {
	return len(v.hash) > 0
}

// Verify returns nil when key matches the configured hash.
func (v *Verifier) Verify(key string) error {
	if !v.Configured() {
		return ErrNoKeyConfigured
	}
	if key == "" {
		return ErrInvalidKey
	}
	digest := sha256.Sum256([]byte(key))
	if _, ok := v.accepted.Load(digest); ok {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(key)); err != nil {
		return ErrInvalidKey
	}
	v.accepted.Store(digest, struct{}{})
	return nil
}
