// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/flowscripts/flow/internal/account"
	"github.com/flowscripts/flow/internal/egress"
	"github.com/flowscripts/flow/internal/observability"
	"github.com/flowscripts/flow/internal/team"
	"github.com/flowscripts/flow/internal/telemetry"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type mockAccounts struct {
	mock.Mock
}

func (m *mockAccounts) Register(ctx context.Context, in account.RegisterInput) error {
	return m.Called(ctx, in).Error(0)
}

func (m *mockAccounts) Login(ctx context.Context, username, password string) (*account.LoginResult, error) {
	args := m.Called(ctx, username, password)
	res, _ := args.Get(0).(*account.LoginResult)
	return res, args.Error(1)
}

func (m *mockAccounts) ResetHWID(ctx context.Context, username string) error {
	return m.Called(ctx, username).Error(0)
}

func (m *mockAccounts) GetStats(ctx context.Context, username string) (*account.Stats, error) {
	args := m.Called(ctx, username)
	stats, _ := args.Get(0).(*account.Stats)
	return stats, args.Error(1)
}

type stubTelemetry struct {
	payload *telemetry.Payload
	err     error
}

func (s stubTelemetry) Snapshot(context.Context) (*telemetry.Payload, error) { return s.payload, s.err }

type stubTeam struct {
	payload *team.Payload
	err     error
}

func (s stubTeam) Profiles(context.Context) (*team.Payload, error) { return s.payload, s.err }

type stubEgress struct {
	ip  *string
	err error
}

func (s stubEgress) Lookup(context.Context) (*string, error) { return s.ip, s.err }

type fixture struct {
	router   *gin.Engine
	accounts *mockAccounts
	sessions *account.SessionManager
	metrics  *observability.Metrics
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		accounts: &mockAccounts{},
		sessions: account.NewSessionManager(testSecret, time.Hour),
		metrics:  observability.NewMetrics(prometheus.NewRegistry()),
	}
	ip := "203.0.113.7"
	deps := Deps{
		Accounts:       f.accounts,
		Sessions:       f.sessions,
		Telemetry:      stubTelemetry{payload: &telemetry.Payload{Success: true, Source: "luarmor"}},
		Team:           stubTeam{payload: &team.Payload{Success: true, Source: "discord"}},
		Egress:         stubEgress{ip: &ip},
		Metrics:        f.metrics,
		StaticDir:      t.TempDir(),
		BodyLimitBytes: 1024,
		Origins:        DefaultOrigins(3000),
		APILimit:       Limit{Requests: 1000, Window: time.Minute},
		AuthLimit:      Limit{Requests: 1000, Window: time.Minute},
	}
	if mutate != nil {
		mutate(&deps)
	}
	r, err := NewRouter(deps)
	require.NoError(t, err)
	f.router = r
	t.Cleanup(func() { f.accounts.AssertExpectations(t) })
	return f
}

func (f *fixture) do(method, target, body string, header http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[http.CanonicalHeaderKey(k)] = v
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) bearer(t *testing.T, username string) http.Header {
	t.Helper()
	token, err := f.sessions.Issue(username, "KEY")
	require.NoError(t, err)
	return http.Header{"Authorization": {"Bearer " + token}}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func assertFailure(t *testing.T, w *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	assert.Equal(t, status, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, msg, body["message"])
}

func TestNewRouter_RequiresDeps(t *testing.T) {
	_, err := NewRouter(Deps{})
	require.Error(t, err)
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"success", nil, http.StatusOK, account.MsgRegistered},
		{
			"validation",
			oops.Code(account.CodeValidation).Public("Password must be at least 6 characters.").Errorf("short"),
			http.StatusBadRequest, "Password must be at least 6 characters.",
		},
		{
			"conflict",
			oops.Code(account.CodeConflict).Public(account.MsgUsernameTaken).Errorf("taken"),
			http.StatusBadRequest, account.MsgUsernameTaken,
		},
		{
			"network failure is a server error",
			oops.Code(account.CodeUpstreamNetwork).Public(account.MsgRegisterNetwork).Errorf("timeout"),
			http.StatusInternalServerError, account.MsgRegisterNetwork,
		},
		{
			"blocked",
			oops.Code(account.CodeUpstreamBlocked).Public(account.MsgUpstreamBlocked).Errorf("403"),
			http.StatusInternalServerError, account.MsgUpstreamBlocked,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.accounts.On("Register", mock.Anything, account.RegisterInput{
				Username: "flowuser", Password: "hunter22", LicenseKey: "KEY",
			}).Return(tt.err).Once()

			w := f.do(http.MethodPost, "/api/register",
				`{"username":"flowuser","password":"hunter22","license_key":"KEY"}`, nil)

			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.err == nil, body["success"])
			assert.Equal(t, tt.message, body["message"])
		})
	}
}

func TestRegister_NonStringFields(t *testing.T) {
	f := newFixture(t, nil)
	f.accounts.On("Register", mock.Anything, account.RegisterInput{
		Username: "flowuser", Password: "123456", LicenseKey: "",
	}).Return(oops.Code(account.CodeValidation).Public("required").Errorf("missing")).Once()

	w := f.do(http.MethodPost, "/api/register", `{"username":"flowuser","password":123456,"license_key":null}`, nil)
	assertFailure(t, w, http.StatusBadRequest, "required")
}

func TestRegister_MalformedBody(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(http.MethodPost, "/api/register", `{"username":`, nil)
	assertFailure(t, w, http.StatusBadRequest, MsgMalformedBody)
}

func TestRegister_BodyTooLarge(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(http.MethodPost, "/api/register", `{"username":"`+strings.Repeat("a", 2048)+`"}`, nil)
	assertFailure(t, w, http.StatusRequestEntityTooLarge, MsgBodyTooLarge)
}

func TestLogin(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture(t, nil)
		f.accounts.On("Login", mock.Anything, "flowuser", "hunter22").
			Return(&account.LoginResult{Token: "tok", Username: "flowuser"}, nil).Once()

		w := f.do(http.MethodPost, "/api/login", `{"username":"flowuser","password":"hunter22"}`, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "tok", body["token"])
		assert.Equal(t, map[string]any{"username": "flowuser"}, body["user"])
	})

	t.Run("invalid credentials", func(t *testing.T) {
		f := newFixture(t, nil)
		f.accounts.On("Login", mock.Anything, "flowuser", "wrong").
			Return(nil, oops.Code(account.CodeInvalidCredentials).Public(account.MsgInvalidCredentials).Errorf("bad")).Once()

		w := f.do(http.MethodPost, "/api/login", `{"username":"flowuser","password":"wrong"}`, nil)
		assertFailure(t, w, http.StatusBadRequest, account.MsgInvalidCredentials)
	})

	t.Run("auth not configured", func(t *testing.T) {
		f := newFixture(t, nil)
		f.accounts.On("Login", mock.Anything, "", "").
			Return(nil, oops.Code(account.CodeAuthNotConfigured).Public(account.MsgAuthNotConfigured).Errorf("no secret")).Once()

		w := f.do(http.MethodPost, "/api/login", "", nil)
		assertFailure(t, w, http.StatusInternalServerError, account.MsgAuthNotConfigured)
	})

	t.Run("non-oops error is generic", func(t *testing.T) {
		f := newFixture(t, nil)
		f.accounts.On("Login", mock.Anything, "a", "b").Return(nil, assert.AnError).Once()

		w := f.do(http.MethodPost, "/api/login", `{"username":"a","password":"b"}`, nil)
		assertFailure(t, w, http.StatusInternalServerError, MsgInternal)
	})
}

func TestAuthenticatedRoutes_Tokens(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		f := newFixture(t, nil)
		w := f.do(http.MethodPost, "/api/reset_hwid", "{}", nil)
		assertFailure(t, w, http.StatusUnauthorized, account.MsgTokenMissing)
	})

	t.Run("invalid token", func(t *testing.T) {
		f := newFixture(t, nil)
		w := f.do(http.MethodGet, "/api/stats", "", http.Header{"Authorization": {"Bearer garbage"}})
		assertFailure(t, w, http.StatusForbidden, account.MsgTokenInvalid)
	})

	t.Run("token from another secret", func(t *testing.T) {
		f := newFixture(t, nil)
		other := account.NewSessionManager("ffffffffffffffffffffffffffffffff", time.Hour)
		token, err := other.Issue("flowuser", "KEY")
		require.NoError(t, err)

		w := f.do(http.MethodGet, "/api/stats", "", http.Header{"Authorization": {"Bearer " + token}})
		assertFailure(t, w, http.StatusForbidden, account.MsgTokenInvalid)
	})

	t.Run("unconfigured secret fails closed", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) { d.Sessions = account.NewSessionManager("short", time.Hour) })
		w := f.do(http.MethodGet, "/api/stats", "", http.Header{"Authorization": {"Bearer anything"}})
		assertFailure(t, w, http.StatusInternalServerError, account.MsgAuthNotConfigured)
	})
}

func TestResetHWID(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture(t, nil)
		f.accounts.On("ResetHWID", mock.Anything, "flowuser").Return(nil).Once()

		w := f.do(http.MethodPost, "/api/reset_hwid", "{}", f.bearer(t, "flowuser"))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, account.MsgResetDone, decode(t, w)["message"])
	})

	t.Run("cooldown", func(t *testing.T) {
		f := newFixture(t, nil)
		f.accounts.On("ResetHWID", mock.Anything, "flowuser").
			Return(oops.Code(account.CodeCooldownActive).Public("HWID is on cooldown for 23h 59m").Errorf("cooldown")).Once()

		w := f.do(http.MethodPost, "/api/reset_hwid", "{}", f.bearer(t, "flowuser"))
		assertFailure(t, w, http.StatusBadRequest, "HWID is on cooldown for 23h 59m")
	})

	t.Run("user missing", func(t *testing.T) {
		f := newFixture(t, nil)
		f.accounts.On("ResetHWID", mock.Anything, "ghost").
			Return(oops.Code(account.CodeNotFound).Public(account.MsgUserNotFound).Errorf("gone")).Once()

		w := f.do(http.MethodPost, "/api/reset_hwid", "", f.bearer(t, "ghost"))
		assertFailure(t, w, http.StatusNotFound, account.MsgUserNotFound)
	})
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil)
	f.accounts.On("GetStats", mock.Anything, "flowuser").
		Return(&account.Stats{Executions: 42, HWIDStatus: "Ready", KeyStatus: "active"}, nil).Once()

	w := f.do(http.MethodGet, "/api/stats", "", f.bearer(t, "flowuser"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"executions":42,"hwid_status":"Ready","key_status":"active"}`, w.Body.String())
}

func TestRedeemStub(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(http.MethodPost, "/api/redeem", `{"key":"anything"}`, f.bearer(t, "flowuser"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"message":"Under construction.","key_data":{"status":"Active"}}`, w.Body.String())
}

func TestPublicTelemetry(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) {
			d.Telemetry = stubTelemetry{err: oops.Code(telemetry.CodeNotConfigured).Public(telemetry.MsgNotConfigured).Errorf("no key")}
		})
		w := f.do(http.MethodGet, "/api/public/telemetry", "", nil)
		assertFailure(t, w, http.StatusInternalServerError, telemetry.MsgNotConfigured)
	})

	t.Run("upstream failure carries status", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) {
			d.Telemetry = stubTelemetry{err: oops.Code(telemetry.CodeUpstreamFailed).
				With("upstream_status", 429).
				Public(telemetry.MsgUpstreamFailed).
				Errorf("rate limited")}
		})
		w := f.do(http.MethodGet, "/api/public/telemetry", "", nil)
		assertFailure(t, w, http.StatusBadGateway, telemetry.MsgUpstreamFailed)
		assert.Equal(t, float64(429), decode(t, w)["upstream_status"])
	})

	t.Run("success", func(t *testing.T) {
		f := newFixture(t, nil)
		w := f.do(http.MethodGet, "/api/public/telemetry", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "luarmor", body["source"])
		assert.NotContains(t, body, "cached")
	})
}

func TestTeamProfiles(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(http.MethodGet, "/api/public/team-profiles", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "discord", decode(t, w)["source"])
}

func TestServerIP(t *testing.T) {
	t.Run("resolved", func(t *testing.T) {
		f := newFixture(t, nil)
		w := f.do(http.MethodGet, "/api/public/server-ip", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"success":true,"ip":"203.0.113.7"}`, w.Body.String())
	})

	t.Run("null ip", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) { d.Egress = stubEgress{} })
		w := f.do(http.MethodGet, "/api/public/server-ip", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"success":true,"ip":null}`, w.Body.String())
	})

	t.Run("lookup failure", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) {
			d.Egress = stubEgress{err: oops.Code(egress.CodeLookupFailed).Public(egress.MsgLookupFailed).Errorf("down")}
		})
		w := f.do(http.MethodGet, "/api/public/server-ip", "", nil)
		assertFailure(t, w, http.StatusBadGateway, egress.MsgLookupFailed)
	})
}

func TestUnknownAPIRoute(t *testing.T) {
	f := newFixture(t, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/nope"},
		{http.MethodPost, "/api/stats"},
		{http.MethodGet, "/api"},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := f.do(tc.method, tc.path, "", nil)
			assertFailure(t, w, http.StatusNotFound, MsgNotFound)
		})
	}
}

type panickingAccounts struct{ mockAccounts }

func (*panickingAccounts) Login(context.Context, string, string) (*account.LoginResult, error) {
	panic("boom")
}

func TestRecovery(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Accounts = &panickingAccounts{} })
	w := f.do(http.MethodPost, "/api/login", `{"username":"a","password":"b"}`, nil)
	assertFailure(t, w, http.StatusInternalServerError, MsgInternal)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/api/public/team-profiles", "", nil)
	assert.Len(t, w.Header().Get(RequestIDHeader), 26)

	w = f.do(http.MethodGet, "/api/public/team-profiles", "", http.Header{RequestIDHeader: {"abc-123"}})
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	w = f.do(http.MethodGet, "/api/public/team-profiles", "", http.Header{RequestIDHeader: {strings.Repeat("x", 65)}})
	assert.Len(t, w.Header().Get(RequestIDHeader), 26)
}

func TestSecurityHeaders(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(http.MethodGet, "/api/public/team-profiles", "", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "https://cdn.discordapp.com")
}

func TestMetricsByRoute(t *testing.T) {
	f := newFixture(t, nil)
	f.do(http.MethodGet, "/api/public/team-profiles", "", nil)
	f.do(http.MethodGet, "/api/missing", "", nil)

	assert.InDelta(t, 1, testutil.ToFloat64(
		f.metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/public/team-profiles", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(
		f.metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")), 0)
}

func TestBearerToken(t *testing.T) {
	tests := []struct{ header, want string }{
		{"", ""},
		{"Bearer abc", "abc"},
		{"Bearer   abc  ", "abc"},
		{"Basic abc", ""},
		{"bearer abc", ""},
		{"Bearer ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, bearerToken(tt.header))
		})
	}
}

func TestField_UnmarshalJSON(t *testing.T) {
	tests := []struct{ in, want string }{
		{`"text"`, "text"},
		{`123456`, "123456"},
		{`true`, "true"},
		{`null`, ""},
		{`{"a":1}`, ""},
		{`[1]`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var f field
			require.NoError(t, json.Unmarshal([]byte(tt.in), &f))
			assert.Equal(t, tt.want, string(f))
		})
	}
}

var (
	anyCtx     = mock.Anything
	errNoCreds = oops.Code(account.CodeValidation).Public(account.MsgLoginRequired).Errorf("missing credentials")
)
