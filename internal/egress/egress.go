// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

// Package egress discovers the public IP the server uses for outbound
// calls, which operators must allow-list upstream.
package egress

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/flowscripts/flow/internal/observability"
)

// Defaults for Resolver.
const (
	DefaultURL     = "https://api64.ipify.org?format=json"
	DefaultTimeout = 8 * time.Second
)

const (
	upstreamName = "ipify"
	userAgent    = "Flow Server IP Check"
)

// CodeLookupFailed is returned when the IP service cannot be reached.
const CodeLookupFailed = "EGRESS_LOOKUP_FAILED"

// MsgLookupFailed is the client-facing failure message.
const MsgLookupFailed = "Could not resolve server IP"

// Resolver queries an ipify-compatible endpoint.
type Resolver struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
	Metrics *observability.Metrics
}

// Lookup returns the egress IP. A well-formed response without an ip
// yields nil.
func (r *Resolver) Lookup(ctx context.Context) (*string, error) {
	endpoint := r.URL
	if endpoint == "" {
		endpoint = DefaultURL
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, r.fail("network", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, r.fail("network", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, r.fail("rejected", oops.With("status", resp.StatusCode).Errorf("ip service returned %d", resp.StatusCode))
	}

	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err != nil {
		return nil, r.fail("rejected", err)
	}

	r.Metrics.RecordUpstream(upstreamName, "ok")
	if body.IP == "" {
		return nil, nil
	}
	return &body.IP, nil
}

func (r *Resolver) fail(outcome string, err error) error {
	r.Metrics.RecordUpstream(upstreamName, outcome)
	return oops.Code(CodeLookupFailed).Public(MsgLookupFailed).Wrap(err)
}
