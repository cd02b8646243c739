// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package account

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Input constraints.
const (
	MinPasswordLength = 6
	// MaxPasswordBytes is the longest password bcrypt accepts.
	MaxPasswordBytes = 72
)

var (
	usernamePattern   = regexp.MustCompile(`^[a-zA-Z0-9_]{3,24}$`)
	licenseKeyPattern = regexp.MustCompile(`^[A-Za-z0-9-]{10,128}$`)
)

// UserRecord is one registered account. Field names match the persisted
// JSON document.
type UserRecord struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password"`
	LicenseKey   string    `json:"license_key"`
	CreatedAt    time.Time `json:"created_at"`
	// LastHWIDReset is the unix time of the last successful reset, nil if never.
	LastHWIDReset *int64 `json:"last_hwid_reset,omitempty"`
}

// Store persists the full collection of user records.
//
// ReplaceAll must be atomic: after a failed call readers observe the
// previous collection. Implementations do not serialize writers; callers do.
type Store interface {
	ListAll(ctx context.Context) ([]UserRecord, error)
	ReplaceAll(ctx context.Context, records []UserRecord) error
}

// IndexByUsername returns the index of the record whose username matches
// case-insensitively, or -1.
func IndexByUsername(records []UserRecord, username string) int {
	for i := range records {
		if strings.EqualFold(records[i].Username, username) {
			return i
		}
	}
	return -1
}

// IndexByLicenseKey returns the index of the record bound to key, or -1.
func IndexByLicenseKey(records []UserRecord, key string) int {
	for i := range records {
		if records[i].LicenseKey == key {
			return i
		}
	}
	return -1
}

// RegisterInput is the raw registration form.
type RegisterInput struct {
	Username   string
	Password   string
	LicenseKey string
}

// Normalize trims the username and license key. Passwords are kept verbatim.
func (in RegisterInput) Normalize() RegisterInput {
	return RegisterInput{
		Username:   strings.TrimSpace(in.Username),
		Password:   in.Password,
		LicenseKey: strings.TrimSpace(in.LicenseKey),
	}
}

// Validate checks field shapes in the order users see the messages.
func (in RegisterInput) Validate() error {
	if in.Username == "" || in.Password == "" || in.LicenseKey == "" {
		return validationError("missing_field", "Username, password, and Luarmor License Key are required.")
	}
	if !ValidUsername(in.Username) {
		return validationError("username", "Username must be 3-24 chars and use letters, numbers, or underscores.")
	}
	if utf8.RuneCountInString(in.Password) < MinPasswordLength {
		return validationError("password", "Password must be at least 6 characters.")
	}
	if len(in.Password) > MaxPasswordBytes {
		return validationError("password", "Password must be at most 72 bytes.")
	}
	if !ValidLicenseKey(in.LicenseKey) {
		return validationError("license_key", "License key format is invalid.")
	}
	return nil
}

// ValidUsername reports whether name is 3-24 letters, digits or underscores.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// ValidLicenseKey reports whether key is 10-128 letters, digits or hyphens.
func ValidLicenseKey(key string) bool {
	return licenseKeyPattern.MatchString(key)
}
