// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package account

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// MinSecretLength is the shortest signing secret the session manager accepts.
const MinSecretLength = 16

// DefaultSessionTTL is the lifetime of an issued session token.
const DefaultSessionTTL = 24 * time.Hour

// Session is the identity carried by a verified token.
type Session struct {
	Username   string
	LicenseKey string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// sessionClaims is the signed token payload.
type sessionClaims struct {
	Username   string `json:"username"`
	LicenseKey string `json:"license_key"`
	jwt.RegisteredClaims
}

// SessionManager issues and verifies stateless HS256 session tokens.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithSessionClock overrides the clock used for issuing and verifying.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) { m.now = now }
}

// NewSessionManager creates a SessionManager. A ttl of zero uses DefaultSessionTTL.
func NewSessionManager(secret string, ttl time.Duration, opts ...SessionOption) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	m := &SessionManager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Configured reports whether the secret is long enough to sign tokens.
func (m *SessionManager) Configured() bool {
	return len(m.secret) >= MinSecretLength
}

func (m *SessionManager) notConfigured() error {
	return oops.Code(CodeAuthNotConfigured).
		Public(MsgAuthNotConfigured).
		Errorf("session secret shorter than %d characters", MinSecretLength)
}

// Issue signs a token for the given identity.
func (m *SessionManager) Issue(username, licenseKey string) (string, error) {
	if !m.Configured() {
		return "", m.notConfigured()
	}

	now := m.now()
	claims := sessionClaims{
		Username:   username,
		LicenseKey: licenseKey,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", oops.Code("AUTH_TOKEN_SIGN_FAILED").Public(MsgInternal).Wrap(err)
	}
	return token, nil
}

// Verify checks the signature and expiry of token and returns its identity.
func (m *SessionManager) Verify(token string) (*Session, error) {
	if !m.Configured() {
		return nil, m.notConfigured()
	}
	if token == "" {
		return nil, oops.Code(CodeTokenMissing).Public(MsgTokenMissing).Errorf("session token is empty")
	}

	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, oops.Code(CodeTokenInvalid).Public(MsgTokenInvalid).Wrap(err)
	}
	if claims.Username == "" {
		return nil, oops.Code(CodeTokenInvalid).Public(MsgTokenInvalid).Errorf("token has no username")
	}

	session := &Session{
		Username:   claims.Username,
		LicenseKey: claims.LicenseKey,
		ExpiresAt:  claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.Time
	}
	return session, nil
}
