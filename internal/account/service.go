// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

// Package account implements registration, login, HWID resets and usage
// stats for Flow accounts backed by a Luarmor license.
package account

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/flowscripts/flow/internal/luarmor"
	"github.com/flowscripts/flow/internal/observability"
)

// Client-facing messages of individual operations.
const (
	MsgRegistered       = "License verified! Account created successfully. Please login."
	MsgUsernameTaken    = "Username is already taken."
	MsgLicenseTaken     = "This License Key has already been registered to an account."
	MsgRegisterNetwork  = "Luarmor API connection failed due to network error."
	MsgLicenseBanned    = "This Luarmor License Key is banned."
	MsgLicenseInvalid   = "Invalid Luarmor License Key."
	MsgLoginRequired    = "Username and password are required."
	MsgResetDone        = "HWID reset successfully! New license key synchronized."
	MsgResetFailed      = "Luarmor API failed to reset HWID."
	MsgStatsUnavailable = "Could not fetch stats from Luarmor."
)

// LicenseGateway is the subset of the Luarmor client used by accounts.
type LicenseGateway interface {
	LookupByKey(ctx context.Context, key string) (*luarmor.KeyInfo, error)
	ResetHWID(ctx context.Context, key string) (string, error)
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token    string
	Username string
}

// Stats is the dashboard view of an account.
type Stats struct {
	Executions int64
	HWIDStatus string
	KeyStatus  string
}

// Service orchestrates account flows over a Store and a LicenseGateway.
//
// Every read-modify-write of the store runs under one mutex, and HWID
// resets are additionally serialized per username.
type Service struct {
	store    Store
	gateway  LicenseGateway
	hasher   PasswordHasher
	sessions *SessionManager
	logger   *slog.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	writeMu sync.Mutex
	resets  keyLock
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics records account events on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(store Store, gateway LicenseGateway, hasher PasswordHasher, sessions *SessionManager, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, oops.Errorf("store is required")
	}
	if gateway == nil {
		return nil, oops.Errorf("license gateway is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("session manager is required")
	}

	s := &Service{
		store:    store,
		gateway:  gateway,
		hasher:   hasher,
		sessions: sessions,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return s, nil
}

// Sessions returns the session manager used to verify tokens.
func (s *Service) Sessions() *SessionManager {
	return s.sessions
}

// Register creates an account after the license key is verified upstream.
// The new account is not logged in.
func (s *Service) Register(ctx context.Context, in RegisterInput) error {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return err
	}

	records, err := s.store.ListAll(ctx)
	if err != nil {
		return storageError("list users", err)
	}
	if err := checkUnique(records, in); err != nil {
		return err
	}

	info, err := s.gateway.LookupByKey(ctx, in.LicenseKey)
	if err != nil {
		if kind, _ := luarmor.KindOf(err); kind == luarmor.KindAuthBlocked {
			s.logger.ErrorContext(ctx, "license gateway refused server credentials; whitelist the server IP upstream",
				"error", err)
		}
		return upstreamError("lookup license", err, MsgLicenseInvalid, MsgRegisterNetwork)
	}
	if info.IsBanned() {
		return oops.Code(CodeUpstreamRejected).
			With("operation", "lookup license").
			Public(MsgLicenseBanned).
			Errorf("license key is banned")
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return oops.Code(CodeStorage).Public(MsgInternal).Wrap(err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Re-read under the lock so racing registrations cannot both persist.
	records, err = s.store.ListAll(ctx)
	if err != nil {
		return storageError("list users", err)
	}
	if err := checkUnique(records, in); err != nil {
		return err
	}

	records = append(records, UserRecord{
		Username:     in.Username,
		PasswordHash: hash,
		LicenseKey:   in.LicenseKey,
		CreatedAt:    s.now().UTC(),
	})
	if err := s.store.ReplaceAll(ctx, records); err != nil {
		return storageError("save users", err)
	}

	s.metrics.RecordAccountEvent("registered")
	s.logger.InfoContext(ctx, "account registered", "username", in.Username)
	return nil
}

func checkUnique(records []UserRecord, in RegisterInput) error {
	if IndexByUsername(records, in.Username) >= 0 {
		return oops.Code(CodeConflict).With("field", "username").Public(MsgUsernameTaken).
			Errorf("username %q already exists", in.Username)
	}
	if IndexByLicenseKey(records, in.LicenseKey) >= 0 {
		return oops.Code(CodeConflict).With("field", "license_key").Public(MsgLicenseTaken).
			Errorf("license key already registered")
	}
	return nil
}

// Login verifies credentials and issues a session token. Legacy plaintext
// passwords are rehashed before the token is returned.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if !s.sessions.Configured() {
		return nil, s.sessions.notConfigured()
	}

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, oops.Code(CodeValidation).Public(MsgLoginRequired).Errorf("username and password are required")
	}

	records, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, storageError("list users", err)
	}

	idx := IndexByUsername(records, username)
	if idx < 0 {
		// Burn the same time as a real comparison.
		_, _ = s.hasher.Verify(password, dummyHash()) //nolint:errcheck // result is irrelevant
		s.metrics.RecordAccountEvent("login_failed")
		return nil, invalidCredentials()
	}
	record := records[idx]

	ok, err := s.hasher.Verify(password, record.PasswordHash)
	if err != nil {
		s.logger.WarnContext(ctx, "stored password hash is unreadable", "username", record.Username, "error", err)
	}
	if !ok {
		s.metrics.RecordAccountEvent("login_failed")
		return nil, invalidCredentials()
	}

	if s.hasher.NeedsUpgrade(record.PasswordHash) {
		s.upgradePassword(ctx, record, password)
	}

	token, err := s.sessions.Issue(record.Username, record.LicenseKey)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordAccountEvent("login")
	return &LoginResult{Token: token, Username: record.Username}, nil
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Public(MsgInvalidCredentials).Errorf("invalid username or password")
}

// upgradePassword replaces a legacy plaintext password with a bcrypt hash.
// Failures are logged and do not fail the login.
func (s *Service) upgradePassword(ctx context.Context, record UserRecord, password string) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "password upgrade failed", "username", record.Username, "error", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	records, err := s.store.ListAll(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "password upgrade failed", "username", record.Username, "error", err)
		return
	}
	idx := IndexByUsername(records, record.Username)
	if idx < 0 || records[idx].PasswordHash != record.PasswordHash {
		return
	}
	records[idx].PasswordHash = hash
	if err := s.store.ReplaceAll(ctx, records); err != nil {
		s.logger.WarnContext(ctx, "password upgrade failed", "username", record.Username, "error", err)
		return
	}

	s.metrics.RecordAccountEvent("password_upgraded")
	s.logger.InfoContext(ctx, "legacy password upgraded", "username", record.Username)
}

// ResetHWID resets the hardware binding of the user's license and stores
// the key returned upstream. Local state is untouched if upstream fails.
func (s *Service) ResetHWID(ctx context.Context, username string) error {
	unlock := s.resets.Lock(strings.ToLower(username))
	defer unlock()

	records, err := s.store.ListAll(ctx)
	if err != nil {
		return storageError("list users", err)
	}
	idx := IndexByUsername(records, username)
	if idx < 0 {
		return notFound(username)
	}
	record := records[idx]

	now := s.now().Unix()
	decision := CheckCooldown(record.LastHWIDReset, now)
	if !decision.Allowed {
		return oops.Code(CodeCooldownActive).
			With("username", record.Username).
			With("remaining_seconds", decision.RemainingSeconds).
			Public("HWID is on cooldown for " + decision.Remaining()).
			Errorf("hwid reset on cooldown")
	}

	newKey, err := s.gateway.ResetHWID(ctx, record.LicenseKey)
	if err != nil {
		return upstreamError("reset hwid", err, MsgResetFailed, MsgResetFailed)
	}

	// The key is already rotated upstream; a disconnecting client must not
	// stop it from being stored.
	ctx = context.WithoutCancel(ctx)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	records, err = s.store.ListAll(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "license key rotated upstream but not stored", "username", record.Username, "error", err)
		return storageError("list users", err)
	}
	idx = IndexByUsername(records, username)
	if idx < 0 {
		return notFound(username)
	}
	records[idx].LicenseKey = newKey
	records[idx].LastHWIDReset = &now
	if err := s.store.ReplaceAll(ctx, records); err != nil {
		s.logger.ErrorContext(ctx, "license key rotated upstream but not stored", "username", record.Username, "error", err)
		return storageError("save users", err)
	}

	s.metrics.RecordAccountEvent("hwid_reset")
	s.logger.InfoContext(ctx, "hwid reset", "username", record.Username)
	return nil
}

// GetStats returns upstream usage numbers with the locally tracked cooldown.
func (s *Service) GetStats(ctx context.Context, username string) (*Stats, error) {
	records, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, storageError("list users", err)
	}
	idx := IndexByUsername(records, username)
	if idx < 0 {
		return nil, notFound(username)
	}
	record := records[idx]

	info, err := s.gateway.LookupByKey(ctx, record.LicenseKey)
	if err != nil {
		return nil, upstreamError("fetch stats", err, MsgStatsUnavailable, MsgStatsUnavailable)
	}

	return &Stats{
		Executions: info.TotalExecutions.Int64(),
		HWIDStatus: HWIDStatus(record.LastHWIDReset, s.now().Unix()),
		KeyStatus:  info.Status,
	}, nil
}

func notFound(username string) error {
	return oops.Code(CodeNotFound).With("username", username).Public(MsgUserNotFound).Errorf("user not found")
}
