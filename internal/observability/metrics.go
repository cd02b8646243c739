// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flow"

// Metrics holds the application counters and histograms.
//
// Every recording method accepts a nil receiver, so components built
// without a metrics server (tests, the CLI) need no special casing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	UpstreamRequests    *prometheus.CounterVec
	CacheLookups        *prometheus.CounterVec
	AccountEvents       *prometheus.CounterVec
}

// NewMetrics creates the application metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &Metrics{
		HTTPRequestsTotal: counter("http_requests_total",
			"HTTP requests by method, matched route and status.", "method", "route", "status"),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and matched route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		UpstreamRequests: counter("upstream_requests_total",
			"Outbound calls to Luarmor, Discord and ipify by outcome.", "upstream", "outcome"),
		CacheLookups: counter("cache_lookups_total",
			"Response cache lookups by cache and result.", "cache", "result"),
		AccountEvents: counter("account_events_total",
			"Account lifecycle events.", "event"),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.UpstreamRequests,
		m.CacheLookups,
		m.AccountEvents,
	)
	return m
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RecordUpstream records the outcome of one outbound call.
func (m *Metrics) RecordUpstream(upstream, outcome string) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(upstream, outcome).Inc()
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

// RecordAccountEvent records an account event: registered, login,
// login_failed, password_upgraded or hwid_reset.
func (m *Metrics) RecordAccountEvent(event string) {
	if m == nil {
		return
	}
	m.AccountEvents.WithLabelValues(event).Inc()
}
