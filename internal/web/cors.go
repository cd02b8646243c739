// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package web

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, Authorization"
	corsMaxAge  = 600
)

// PublicOrigin is the hosted site, always allowed.
const PublicOrigin = "https://flow-website.onrender.com"

// DefaultOrigins returns the origins allowed out of the box for a server
// listening on port.
func DefaultOrigins(port int) []string {
	origins := []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	if port > 0 && port != 3000 {
		p := strconv.Itoa(port)
		origins = append(origins, "http://localhost:"+p, "http://127.0.0.1:"+p)
	}
	return append(origins, PublicOrigin)
}

// originMatcher decides whether a browser origin may call the API.
// Entries are exact origins or glob patterns such as https://*.example.com.
type originMatcher struct {
	exact    []string
	patterns []glob.Glob
}

func newOriginMatcher(origins []string) (*originMatcher, error) {
	m := &originMatcher{}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		if !strings.ContainsAny(o, "*?[{") {
			if !slices.Contains(m.exact, o) {
				m.exact = append(m.exact, o)
			}
			continue
		}
		g, err := glob.Compile(o)
		if err != nil {
			return nil, oops.Code("CORS_PATTERN_INVALID").With("pattern", o).Wrap(err)
		}
		m.patterns = append(m.patterns, g)
	}
	return m, nil
}

func (m *originMatcher) allowed(origin string) bool {
	if slices.Contains(m.exact, origin) {
		return true
	}
	for _, g := range m.patterns {
		if g.Match(origin) {
			return true
		}
	}
	return false
}

// cors admits requests without an Origin header and requests from allowed
// origins; every other origin is refused with 403.
func cors(m *originMatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if !m.allowed(origin) {
			fail(c, http.StatusForbidden, MsgOriginBlocked)
			return
		}

		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Max-Age", strconv.Itoa(corsMaxAge))
			h.Set("Content-Length", "0")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
