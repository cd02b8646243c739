// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package web

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowscripts/flow/internal/logging"
	"github.com/flowscripts/flow/internal/observability"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

const (
	loggerKey      = "flow.logger"
	maxInboundIDLn = 64
	tracerName     = "github.com/flowscripts/flow/internal/web"
)

func loggerFrom(c *gin.Context) *slog.Logger {
	if l, ok := c.Get(loggerKey); ok {
		if logger, ok := l.(*slog.Logger); ok {
			return logger
		}
	}
	return slog.Default()
}

// requestContext assigns a request id, opens a server span and attaches
// both to the request context so log records carry them.
func requestContext(logger *slog.Logger) gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxInboundIDLn {
			id = ulid.Make().String()
		}
		c.Header(RequestIDHeader, id)

		ctx := logging.WithRequestID(c.Request.Context(), id)
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+routeOf(c),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Request.Method),
				attribute.String("url.path", c.Request.URL.Path),
				attribute.String("flow.request_id", id),
			))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Set(loggerKey, logger)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

// accessLog logs one line per request: Info for success, Warn for client
// errors, Error for server errors.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		attrs := []any{
			"method", c.Request.Method,
			"route", routeOf(c),
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if errs := c.Errors.ByType(gin.ErrorTypeAny); len(errs) > 0 {
			attrs = append(attrs, "error", errs.String())
		}
		loggerFrom(c).Log(c.Request.Context(), level, "http request", attrs...)
	}
}

// observe records request counters and latency by route template.
func observe(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.ObserveRequest(c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start))
	}
}

// recovery converts panics into the generic 500 body.
func recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		loggerFrom(c).ErrorContext(c.Request.Context(), "panic recovered",
			"panic", fmt.Sprint(recovered),
			"path", c.Request.URL.Path)
		if c.Writer.Written() {
			c.Abort()
			return
		}
		fail(c, http.StatusInternalServerError, MsgInternal)
	})
}

// bodyLimit caps request bodies; decoders see *http.MaxBytesError past
// the limit.
func bodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// contentSecurityPolicy allows inline scripts and styles used by the landing
// page plus the font, CDN and avatar hosts it loads from.
const contentSecurityPolicy = "default-src 'self';" +
	"script-src 'self' 'unsafe-inline';" +
	"script-src-attr 'unsafe-inline';" +
	"style-src 'self' 'unsafe-inline' https://fonts.googleapis.com https://cdnjs.cloudflare.com;" +
	"font-src 'self' data: https://fonts.gstatic.com https://cdnjs.cloudflare.com;" +
	"img-src 'self' data: https://cdn.discordapp.com https://media.discordapp.net https://placehold.co;" +
	"connect-src 'self';" +
	"object-src 'none';" +
	"frame-ancestors 'none';" +
	"base-uri 'self';" +
	"form-action 'self';" +
	"upgrade-insecure-requests"

var securityHeaderValues = [][2]string{
	{"Content-Security-Policy", contentSecurityPolicy},
	{"Cross-Origin-Opener-Policy", "same-origin"},
	{"Cross-Origin-Resource-Policy", "cross-origin"},
	{"Origin-Agent-Cluster", "?1"},
	{"Referrer-Policy", "no-referrer"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-DNS-Prefetch-Control", "off"},
	{"X-Download-Options", "noopen"},
	{"X-Frame-Options", "SAMEORIGIN"},
	{"X-Permitted-Cross-Domain-Policies", "none"},
	{"X-XSS-Protection", "0"},
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		for _, kv := range securityHeaderValues {
			h.Set(kv[0], kv[1])
		}
		c.Next()
	}
}

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
