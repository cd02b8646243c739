// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package account

import (
	"crypto/subtle"
	"errors"
	"regexp"
	"sync"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt cost factor for new hashes.
const PasswordCost = 10

var bcryptHashPattern = regexp.MustCompile(`^\$2[aby]\$`)

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a bcrypt hash of the password.
	Hash(password string) (string, error)

	// Verify checks password against a stored value, which is either a
	// bcrypt hash or a legacy plaintext password.
	Verify(password, stored string) (bool, error)

	// NeedsUpgrade returns true if stored is not a bcrypt hash.
	NeedsUpgrade(stored string) bool
}

// IsBcryptHash reports whether stored looks like a bcrypt hash.
func IsBcryptHash(stored string) bool {
	return bcryptHashPattern.MatchString(stored)
}

// BcryptHasher implements PasswordHasher with bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher at PasswordCost.
func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{cost: PasswordCost}
}

// Hash produces a bcrypt hash of the password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").Wrap(err)
	}
	return string(hash), nil
}

// Verify checks password against stored. Plaintext values are compared in
// constant time.
func (h *BcryptHasher) Verify(password, stored string) (bool, error) {
	if stored == "" {
		return false, nil
	}
	if !IsBcryptHash(stored) {
		return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1, nil
	}

	err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
}

// NeedsUpgrade returns true for legacy plaintext values.
func (h *BcryptHasher) NeedsUpgrade(stored string) bool {
	return !IsBcryptHash(stored)
}

// dummyHash is verified against when a username does not exist so that
// unknown and known users take the same time to reject.
var dummyHash = sync.OnceValue(func() string {
	hash, err := bcrypt.GenerateFromPassword([]byte("flow-timing-equalizer"), PasswordCost)
	if err != nil {
		return ""
	}
	return string(hash)
})
