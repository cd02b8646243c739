// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // gomega convention

	"github.com/flowscripts/flow/internal/account"
	"github.com/flowscripts/flow/internal/cache"
	"github.com/flowscripts/flow/internal/discord"
	"github.com/flowscripts/flow/internal/egress"
	"github.com/flowscripts/flow/internal/luarmor"
	"github.com/flowscripts/flow/internal/team"
	"github.com/flowscripts/flow/internal/telemetry"
	"github.com/flowscripts/flow/internal/web"
)

const (
	testAPIKey    = "luarmor-api-key"
	testProjectID = "flowproject"
	testSecret    = "integration-secret-0123456789"
)

// clock is a settable time source shared by the stack.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeLuarmor emulates the subset of the Luarmor API Flow calls. Resets
// rotate the key by appending "-R".
type fakeLuarmor struct {
	mu         sync.Mutex
	keys       map[string]luarmor.KeyInfo
	resets     int
	statsCalls int
}

func newFakeLuarmor(keys ...string) *fakeLuarmor {
	f := &fakeLuarmor{keys: map[string]luarmor.KeyInfo{}}
	for _, k := range keys {
		f.keys[k] = luarmor.KeyInfo{UserKey: k, Status: "active", TotalExecutions: 42}
	}
	return f
}

func (f *fakeLuarmor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("Authorization") != testAPIKey {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "Not Authorized")
		return
	}

	switch {
	case r.URL.Path == "/keys/"+testAPIKey+"/stats":
		f.statsCalls++
		writeJSON(w, map[string]any{
			"success": true,
			"stats": map[string]any{
				"users": 120, "scripts": "3", "obfuscations": 7, "attacks_blocked": 9, "reset_at": 1767225600,
			},
			"execution_data": map[string]any{
				"frequency":  86400,
				"executions": []any{100, "150"},
			},
		})
	case r.URL.Path == "/projects/"+testProjectID+"/users":
		key := r.URL.Query().Get("user_key")
		info, ok := f.keys[key]
		if r.Method == http.MethodGet {
			users := []luarmor.KeyInfo{}
			if ok {
				users = append(users, info)
			}
			writeJSON(w, map[string]any{"success": true, "users": users})
			return
		}
		if !ok {
			writeJSON(w, map[string]any{"success": false, "message": "user not found"})
			return
		}
		f.resets++
		delete(f.keys, key)
		info.UserKey = key + "-R"
		f.keys[info.UserKey] = info
		writeJSON(w, map[string]any{"success": true, "user_key": info.UserKey})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeLuarmor) counts() (resets, statsCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets, f.statsCalls
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// stack is a fully wired Flow server backed by fakes for every upstream.
type stack struct {
	server  *httptest.Server
	luarmor *fakeLuarmor
	gateway *httptest.Server
	clock   *clock
}

func newStack(st account.Store, envDir string, keys ...string) *stack {
	s := &stack{
		luarmor: newFakeLuarmor(keys...),
		clock:   &clock{t: time.Now().UTC().Truncate(time.Second)},
	}
	s.gateway = httptest.NewServer(s.luarmor)

	gateway := luarmor.NewClient(luarmor.Config{
		BaseURL:   s.gateway.URL,
		APIKey:    testAPIKey,
		ProjectID: testProjectID,
		Timeout:   5 * time.Second,
	})
	sessions := account.NewSessionManager(testSecret, time.Hour)
	accounts, err := account.NewService(st, gateway, account.NewBcryptHasher(), sessions,
		account.WithClock(s.clock.Now))
	Expect(err).NotTo(HaveOccurred())

	telemetrySvc, err := telemetry.NewService(gateway,
		cache.New[telemetry.Payload]("telemetry", 30*time.Second, cache.WithClock(s.clock.Now)),
		telemetry.WithClock(s.clock.Now))
	Expect(err).NotTo(HaveOccurred())

	teamSvc, err := team.NewService(team.DefaultRoster(),
		discord.NewClient(discord.Config{}),
		discord.TokenResolver{EnvFile: filepath.Join(envDir, ".env")},
		cache.New[team.Payload]("team_profiles", 2*time.Minute))
	Expect(err).NotTo(HaveOccurred())

	router, err := web.NewRouter(web.Deps{
		Accounts:       accounts,
		Sessions:       sessions,
		Telemetry:      telemetrySvc,
		Team:           teamSvc,
		Egress:         &egress.Resolver{URL: s.gateway.URL + "/unreachable"},
		StaticDir:      envDir,
		BodyLimitBytes: 64 << 10,
		Origins:        web.DefaultOrigins(3000),
		APILimit:       web.Limit{Requests: 280, Window: 15 * time.Minute},
		AuthLimit:      web.Limit{Requests: 25, Window: 15 * time.Minute},
	})
	Expect(err).NotTo(HaveOccurred())

	s.server = httptest.NewServer(router)
	return s
}

func (s *stack) Close() {
	s.server.Close()
	s.gateway.Close()
}

// call performs a JSON request and decodes the JSON response.
func (s *stack) call(method, path string, body any, token string) (int, map[string]any) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	Expect(err).NotTo(HaveOccurred())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	Expect(strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json")).To(BeTrue())
	var out map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return resp.StatusCode, out
}
