// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package web

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/flowscripts/flow/internal/account"
)

const sessionKey = "flow.session"

// SessionVerifier validates bearer tokens.
type SessionVerifier interface {
	Verify(token string) (*account.Session, error)
}

// requireSession admits requests carrying a valid bearer token and stores
// the session for handlers. The verifier fails closed when the signing
// secret is unusable.
func requireSession(v SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := v.Verify(bearerToken(c.GetHeader("Authorization")))
		if err != nil {
			respondError(c, err, nil)
			return
		}
		c.Set(sessionKey, session)
		c.Next()
	}
}

func bearerToken(header string) string {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func sessionFrom(c *gin.Context) *account.Session {
	s, _ := c.MustGet(sessionKey).(*account.Session)
	return s
}
