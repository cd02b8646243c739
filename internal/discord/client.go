// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

// Package discord looks up Discord users for the public team section.
package discord

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/flowscripts/flow/internal/observability"
)

// Defaults for Config.
const (
	DefaultBaseURL = "https://discord.com/api/v10"
	DefaultTimeout = 12 * time.Second
)

const (
	upstreamName = "discord"
	userAgent    = "Flow Team Avatar Sync (https://localhost)"
	maxBodyBytes = 64 << 10
)

// CodeRequestFailed is the error code of every failed lookup.
const CodeRequestFailed = "DISCORD_REQUEST_FAILED"

// User is the subset of the Discord user object Flow displays.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	GlobalName    string `json:"global_name"`
	Avatar        string `json:"avatar"`
	Discriminator string `json:"discriminator"`
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Metrics    *observability.Metrics
}

// Client calls the Discord REST API with a bot token.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	metrics *observability.Metrics
}

// NewClient creates a Client. Zero values fall back to the defaults.
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
		metrics: cfg.Metrics,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c
}

// FetchUser returns the user with the given snowflake id.
func (c *Client) FetchUser(ctx context.Context, id, botToken string) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, oops.Code(CodeRequestFailed).With("user_id", id).Wrap(err)
	}
	req.Header.Set("Authorization", "Bot "+botToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordUpstream(upstreamName, "network")
		return nil, oops.Code(CodeRequestFailed).With("user_id", id).Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.metrics.RecordUpstream(upstreamName, "network")
		return nil, oops.Code(CodeRequestFailed).With("user_id", id).Wrap(err)
	}
	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordUpstream(upstreamName, "rejected")
		return nil, oops.Code(CodeRequestFailed).
			With("user_id", id).
			With("status", resp.StatusCode).
			Errorf("discord returned status %d", resp.StatusCode)
	}

	var u User
	if err := json.Unmarshal(body, &u); err != nil {
		c.metrics.RecordUpstream(upstreamName, "rejected")
		return nil, oops.Code(CodeRequestFailed).With("user_id", id).Wrap(err)
	}
	c.metrics.RecordUpstream(upstreamName, "ok")
	return &u, nil
}
