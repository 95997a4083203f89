// Package credential wraps the one-way password hash. Plaintext never
// leaves this package: callers hand it in and get back a hash or a verdict.
package credential

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Cost is the bcrypt work factor used for all new hashes.
const Cost = 12

// MinPasswordLength is the only password rule this service enforces.
const MinPasswordLength = 8

// ErrWeakPassword is returned by CheckPolicy when the plaintext fails a rule.
// The message names the failed rule; surfacing it to clients is safe.
var ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLength)

// dummyHash is a bcrypt hash of an unguessable throwaway value. Verify
// compares against it when no real hash exists so that "no password" and
// "wrong password" burn the same work.
var dummyHash = mustHash("tollgate-dummy-credential")

// Verifier hashes and verifies passwords with a fixed bcrypt work factor.
type Verifier struct{}

// NewVerifier creates a Verifier.
func NewVerifier() *Verifier {
	return &Verifier{}
}

// CheckPolicy validates the plaintext against the password rules.
func (v *Verifier) CheckPolicy(plaintext string) error {
	if len(plaintext) < MinPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

// Hash derives a bcrypt hash from the plaintext.
func (v *Verifier) Hash(plaintext string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), Cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// Verify reports whether plaintext matches hash. An empty hash always
// fails, but still performs a comparison so the two failure modes are
// indistinguishable by timing.
func (v *Verifier) Verify(plaintext, hash string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(plaintext))
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false
	}
	return err == nil
}

func mustHash(s string) []byte {
	h, err := bcrypt.GenerateFromPassword([]byte(s), Cost)
	if err != nil {
		panic(err)
	}
	return h
}
