// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

// Package telemetry turns raw Luarmor project statistics into the public
// homepage counters.
package telemetry

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/flowscripts/flow/internal/cache"
	"github.com/flowscripts/flow/internal/luarmor"
)

// Error codes.
const (
	CodeNotConfigured  = "TELEMETRY_NOT_CONFIGURED"
	CodeUpstreamFailed = "TELEMETRY_UPSTREAM_FAILED"
)

// Client-facing messages.
const (
	MsgNotConfigured  = "Luarmor API key is not configured"
	MsgUpstreamFailed = "Could not fetch Luarmor telemetry"
)

// SeriesLength is the number of trailing execution points published.
const SeriesLength = 30

const cacheKey = "project"

// Payload is the public telemetry document.
type Payload struct {
	Success             bool      `json:"success"`
	Source              string    `json:"source"`
	RefreshedAt         time.Time `json:"refreshed_at"`
	FrequencySeconds    float64   `json:"frequency_seconds"`
	Users               float64   `json:"users"`
	Scripts             float64   `json:"scripts"`
	ObfuscationsMonthly float64   `json:"obfuscations_monthly"`
	ThreatsBlocked      float64   `json:"threats_blocked"`
	MonthlyExecutions   float64   `json:"monthly_executions"`
	TodayExecutions     float64   `json:"today_executions"`
	YesterdayExecutions float64   `json:"yesterday_executions"`
	DailyChangePct      float64   `json:"daily_change_pct"`
	TrafficSeries       []float64 `json:"traffic_series"`
	ResetAtUnix         float64   `json:"reset_at_unix"`
	Cached              bool      `json:"cached,omitempty"`
}

// Aggregate derives the payload from raw stats.
func Aggregate(stats *luarmor.ProjectStats, now time.Time) Payload {
	executions := make([]float64, len(stats.ExecutionData.Executions))
	var monthly float64
	for i, n := range stats.ExecutionData.Executions {
		executions[i] = n.Float64()
		monthly += executions[i]
	}

	var today, yesterday float64
	if n := len(executions); n > 0 {
		today = executions[n-1]
		if n > 1 {
			yesterday = executions[n-2]
		}
	}

	var change float64
	if yesterday > 0 {
		change = math.Round((today-yesterday)/yesterday*100*100) / 100
	}

	series := executions
	if len(series) > SeriesLength {
		series = series[len(series)-SeriesLength:]
	}

	return Payload{
		Success:             true,
		Source:              "luarmor",
		RefreshedAt:         now.UTC(),
		FrequencySeconds:    stats.ExecutionData.Frequency.Float64(),
		Users:               stats.Stats.Users.Float64(),
		Scripts:             stats.Stats.Scripts.Float64(),
		ObfuscationsMonthly: stats.Stats.Obfuscations.Float64(),
		ThreatsBlocked:      stats.Stats.AttacksBlocked.Float64(),
		MonthlyExecutions:   monthly,
		TodayExecutions:     today,
		YesterdayExecutions: yesterday,
		DailyChangePct:      change,
		TrafficSeries:       series,
		ResetAtUnix:         stats.Stats.ResetAt.Float64(),
	}
}

// StatsSource fetches raw project statistics.
type StatsSource interface {
	HasAPIKey() bool
	FetchProjectStats(ctx context.Context) (*luarmor.ProjectStats, error)
}

// Service serves cached telemetry.
type Service struct {
	source StatsSource
	cache  *cache.Cache[Payload]
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the refresh timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a Service.
func NewService(source StatsSource, c *cache.Cache[Payload], opts ...Option) (*Service, error) {
	if source == nil {
		return nil, oops.Errorf("stats source is required")
	}
	if c == nil {
		return nil, oops.Errorf("cache is required")
	}
	s := &Service{source: source, cache: c, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Snapshot returns the current payload, from cache when fresh. Cached
// payloads are marked Cached. Failures are never cached.
func (s *Service) Snapshot(ctx context.Context) (*Payload, error) {
	if !s.source.HasAPIKey() {
		return nil, oops.Code(CodeNotConfigured).Public(MsgNotConfigured).Errorf("luarmor api key is not configured")
	}

	payload, hit, err := s.cache.GetOrFetch(ctx, cacheKey, func(ctx context.Context) (Payload, error) {
		stats, err := s.source.FetchProjectStats(ctx)
		if err != nil {
			return Payload{}, err
		}
		return Aggregate(stats, s.now()), nil
	})
	if err != nil {
		status := luarmor.StatusOf(err)
		if status == 0 {
			status = http.StatusInternalServerError
		}
		s.logger.WarnContext(ctx, "telemetry refresh failed", "upstream_status", status, "error", err)
		return nil, oops.Code(CodeUpstreamFailed).
			With("upstream_status", status).
			Public(MsgUpstreamFailed).
			Wrap(err)
	}

	payload.Cached = hit
	return &payload, nil
}

// UpstreamStatus returns the upstream HTTP status recorded on a Snapshot
// error, or 0.
func UpstreamStatus(err error) int {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return 0
	}
	status, _ := oopsErr.Context()["upstream_status"].(int)
	return status
}
