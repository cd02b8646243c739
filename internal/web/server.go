// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

// Package web exposes the Flow HTTP API and serves the landing page.
package web

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/flowscripts/flow/internal/observability"
)

// Deps are the collaborators of the router.
type Deps struct {
	Accounts  AccountService
	Sessions  SessionVerifier
	Telemetry TelemetrySource
	Team      TeamSource
	Egress    IPResolver

	Logger  *slog.Logger
	Metrics *observability.Metrics

	StaticDir      string
	BodyLimitBytes int64
	// Origins are the browser origins allowed to call the API.
	Origins  []string
	APILimit Limit
	// AuthLimit applies to login and register on top of APILimit.
	AuthLimit Limit

	// Now is the rate limiter clock; nil means time.Now.
	Now func() time.Time
}

// NewRouter builds the gin engine serving the API and static assets.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.Accounts == nil || deps.Sessions == nil || deps.Telemetry == nil || deps.Team == nil || deps.Egress == nil {
		return nil, oops.Code("WEB_DEPS_MISSING").Errorf("router requires accounts, sessions, telemetry, team and egress")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins, err := newOriginMatcher(deps.Origins)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	// Only the socket peer identifies a client; forwarded headers are
	// ignored.
	if err := r.SetTrustedProxies(nil); err != nil {
		return nil, oops.Code("WEB_INIT_FAILED").Wrap(err)
	}
	r.HandleMethodNotAllowed = false

	r.Use(
		requestContext(logger),
		recovery(),
		accessLog(),
		observe(deps.Metrics),
		securityHeaders(),
		cors(origins),
		bodyLimit(deps.BodyLimitBytes),
	)

	h := &handlers{
		accounts:  deps.Accounts,
		telemetry: deps.Telemetry,
		team:      deps.Team,
		egress:    deps.Egress,
	}
	authLimiter := rateLimit(newClientLimiter(deps.AuthLimit, deps.Now))
	auth := requireSession(deps.Sessions)

	apiLimiter := rateLimit(newClientLimiter(deps.APILimit, deps.Now))
	api := r.Group("/api", apiLimiter)
	api.POST("/register", authLimiter, h.register)
	api.POST("/login", authLimiter, h.login)
	api.POST("/redeem", auth, h.redeem)
	api.POST("/reset_hwid", auth, h.resetHWID)
	api.GET("/stats", auth, h.stats)
	api.GET("/public/telemetry", h.publicTelemetry)
	api.GET("/public/team-profiles", h.teamProfiles)
	api.GET("/public/server-ip", h.serverIP)

	// Unknown /api paths share the API budget.
	r.NoRoute(apiPathsOnly(apiLimiter), staticFiles(deps.StaticDir))
	return r, nil
}
