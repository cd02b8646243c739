// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

// Package luarmor is a client for the Luarmor license API.
//
// Calls are never retried. Each one is bounded by the client timeout and is
// detached from the caller's cancellation, so a client disconnect does not
// abort an upstream mutation that is already in flight.
package luarmor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flowscripts/flow/internal/observability"
)

// DefaultBaseURL is the public Luarmor v3 API.
const DefaultBaseURL = "https://api.luarmor.net/v3"

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
	userAgent      = "Flow Backend"
	upstreamName   = "luarmor"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	ProjectID  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Metrics    *observability.Metrics
}

// Client talks to the Luarmor API.
type Client struct {
	baseURL   string
	apiKey    string
	projectID string
	timeout   time.Duration
	http      *http.Client
	metrics   *observability.Metrics
}

// NewClient creates a Client. Zero values fall back to defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		projectID: cfg.ProjectID,
		timeout:   cfg.Timeout,
		http:      cfg.HTTPClient,
		metrics:   cfg.Metrics,
	}
}

// HasAPIKey reports whether an API key is configured.
func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

// KeyInfo is the subset of a Luarmor user record Flow consumes.
type KeyInfo struct {
	UserKey         string `json:"user_key"`
	Status          string `json:"status"`
	Banned          Number `json:"banned"`
	BanReason       string `json:"ban_reason"`
	TotalExecutions Number `json:"total_executions"`
	TotalResets     Number `json:"total_resets"`
	LastReset       Number `json:"last_reset"`
	AuthExpire      Number `json:"auth_expire"`
	DiscordID       string `json:"discord_id"`
	Note            string `json:"note"`
}

// IsBanned reports whether upstream flags the key as banned.
func (k *KeyInfo) IsBanned() bool {
	return k.Banned == 1
}

type usersResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Users   []KeyInfo `json:"users"`
}

type resetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	UserKey string `json:"user_key"`
}

// ProjectStats is the raw project-wide statistics document.
type ProjectStats struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Stats   struct {
		Users          Number `json:"users"`
		Scripts        Number `json:"scripts"`
		Obfuscations   Number `json:"obfuscations"`
		AttacksBlocked Number `json:"attacks_blocked"`
		ResetAt        Number `json:"reset_at"`
	} `json:"stats"`
	ExecutionData struct {
		Frequency  Number   `json:"frequency"`
		Executions []Number `json:"executions"`
	} `json:"execution_data"`
}

// LookupByKey fetches the project user bound to key.
func (c *Client) LookupByKey(ctx context.Context, key string) (*KeyInfo, error) {
	if !c.HasAPIKey() {
		return nil, c.fail(&Error{Kind: KindAuthBlocked, Detail: "api key not configured"})
	}

	status, body, err := c.do(ctx, http.MethodGet, c.usersURL(key), nil)
	if err != nil {
		return nil, c.fail(err)
	}
	if gwErr := classify(status, body); gwErr != nil {
		return nil, c.fail(gwErr)
	}

	var resp usersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, c.fail(&Error{Kind: KindRejected, Status: status, Detail: "malformed response", Err: err})
	}
	if status != http.StatusOK || !resp.Success {
		return nil, c.fail(&Error{Kind: KindRejected, Status: status, Detail: resp.Message})
	}
	if len(resp.Users) == 0 {
		return nil, c.fail(&Error{Kind: KindNotFound, Status: status, Detail: "no user for key"})
	}

	c.metrics.RecordUpstream(upstreamName, "ok")
	info := resp.Users[0]
	return &info, nil
}

// ResetHWID asks upstream to unbind the hardware id of key. Upstream may
// rotate the key; the returned value is the key to store from now on.
func (c *Client) ResetHWID(ctx context.Context, key string) (string, error) {
	if !c.HasAPIKey() {
		return "", c.fail(&Error{Kind: KindAuthBlocked, Detail: "api key not configured"})
	}

	payload, err := json.Marshal(map[string]string{"action": "reset_hwid"})
	if err != nil {
		return "", c.fail(&Error{Kind: KindRejected, Detail: "encode request", Err: err})
	}

	status, body, err := c.do(ctx, http.MethodPost, c.usersURL(key), payload)
	if err != nil {
		return "", c.fail(err)
	}
	if gwErr := classify(status, body); gwErr != nil {
		return "", c.fail(gwErr)
	}

	var resp resetResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", c.fail(&Error{Kind: KindRejected, Status: status, Detail: "malformed response", Err: err})
	}
	if status != http.StatusOK || !resp.Success || resp.UserKey == "" {
		return "", c.fail(&Error{Kind: KindRejected, Status: status, Detail: resp.Message})
	}

	c.metrics.RecordUpstream(upstreamName, "ok")
	return resp.UserKey, nil
}

// FetchProjectStats fetches project-wide telemetry for the API key.
func (c *Client) FetchProjectStats(ctx context.Context) (*ProjectStats, error) {
	if !c.HasAPIKey() {
		return nil, c.fail(&Error{Kind: KindAuthBlocked, Detail: "api key not configured"})
	}

	endpoint := c.baseURL + "/keys/" + url.PathEscape(c.apiKey) + "/stats?noUsers=false"
	status, body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, c.fail(err)
	}
	if gwErr := classify(status, body); gwErr != nil {
		return nil, c.fail(gwErr)
	}

	var stats ProjectStats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, c.fail(&Error{Kind: KindRejected, Status: status, Detail: "malformed response", Err: err})
	}
	if status != http.StatusOK || !stats.Success {
		return nil, c.fail(&Error{Kind: KindRejected, Status: status, Detail: stats.Message})
	}

	c.metrics.RecordUpstream(upstreamName, "ok")
	return &stats, nil
}

func (c *Client) usersURL(key string) string {
	return c.baseURL + "/projects/" + url.PathEscape(c.projectID) + "/users?user_key=" + url.QueryEscape(key)
}

// do performs one request and returns the status and body. Only transport
// failures are returned as errors.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return 0, nil, &Error{Kind: KindNetwork, Detail: "build request", Err: err}
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &Error{Kind: KindNetwork, Detail: err.Error(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, &Error{Kind: KindNetwork, Status: resp.StatusCode, Detail: "read body", Err: err}
	}
	return resp.StatusCode, body, nil
}

// classify maps responses that cannot be decoded as a normal answer.
func classify(status int, body []byte) *Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: KindAuthBlocked, Status: status, Detail: snippet(body)}
	case bytes.Contains(body, []byte("Not Authorized")) && !bytes.HasPrefix(bytes.TrimSpace(body), []byte("{")):
		return &Error{Kind: KindAuthBlocked, Status: status, Detail: snippet(body)}
	case status >= http.StatusInternalServerError:
		return &Error{Kind: KindNetwork, Status: status, Detail: snippet(body)}
	}
	return nil
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}

func (c *Client) fail(err error) error {
	kind, _ := KindOf(err)
	c.metrics.RecordUpstream(upstreamName, kind.String())
	return err
}
