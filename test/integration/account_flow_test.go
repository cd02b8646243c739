// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

//go:build integration

package integration

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/flowscripts/flow/internal/account"
	"github.com/flowscripts/flow/internal/store"
)

const (
	testUser    = "flowuser"
	testPass    = "hunter22"
	testLicense = "FLOWKEY-0000000001"
)

// describeAccountFlow registers the end-to-end account scenario against
// the store returned by open. It must run inside an Ordered container.
func describeAccountFlow(open func() account.Store) {
	var (
		s     *stack
		token string
	)

	BeforeAll(func() {
		s = newStack(open(), GinkgoT().TempDir(), testLicense)
		DeferCleanup(s.Close)
	})

	It("rejects an unknown license key", func() {
		status, body := s.call(http.MethodPost, "/api/register", map[string]any{
			"username": "someone", "password": testPass, "license_key": "UNKNOWN-KEY-000",
		}, "")
		Expect(status).To(Equal(http.StatusBadRequest))
		Expect(body["message"]).To(Equal(account.MsgLicenseInvalid))
	})

	It("registers an account", func() {
		status, body := s.call(http.MethodPost, "/api/register", map[string]any{
			"username": testUser, "password": testPass, "license_key": testLicense,
		}, "")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["success"]).To(BeTrue())
		Expect(body["message"]).To(Equal(account.MsgRegistered))
	})

	It("refuses a duplicate username regardless of case", func() {
		status, body := s.call(http.MethodPost, "/api/register", map[string]any{
			"username": "FlowUser", "password": testPass, "license_key": testLicense,
		}, "")
		Expect(status).To(Equal(http.StatusBadRequest))
		Expect(body["message"]).To(Equal(account.MsgUsernameTaken))
	})

	It("rejects a wrong password", func() {
		status, body := s.call(http.MethodPost, "/api/login", map[string]any{
			"username": testUser, "password": "not-the-password",
		}, "")
		Expect(status).To(Equal(http.StatusBadRequest))
		Expect(body["message"]).To(Equal(account.MsgInvalidCredentials))
	})

	It("logs in", func() {
		status, body := s.call(http.MethodPost, "/api/login", map[string]any{
			"username": testUser, "password": testPass,
		}, "")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["user"]).To(Equal(map[string]any{"username": testUser}))
		token, _ = body["token"].(string)
		Expect(token).NotTo(BeEmpty())
	})

	It("requires a token for stats", func() {
		status, body := s.call(http.MethodGet, "/api/stats", nil, "")
		Expect(status).To(Equal(http.StatusUnauthorized))
		Expect(body["message"]).To(Equal(account.MsgTokenMissing))
	})

	It("reports stats with a ready HWID", func() {
		status, body := s.call(http.MethodGet, "/api/stats", nil, token)
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["executions"]).To(BeNumerically("==", 42))
		Expect(body["hwid_status"]).To(Equal("Ready"))
		Expect(body["key_status"]).To(Equal("active"))
	})

	It("resets the HWID and stores the rotated key", func() {
		status, body := s.call(http.MethodPost, "/api/reset_hwid", map[string]any{}, token)
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["message"]).To(Equal(account.MsgResetDone))

		resets, _ := s.luarmor.counts()
		Expect(resets).To(Equal(1))
	})

	It("denies a second reset within the cooldown", func() {
		s.clock.Advance(30 * time.Second)

		status, body := s.call(http.MethodPost, "/api/reset_hwid", map[string]any{}, token)
		Expect(status).To(Equal(http.StatusBadRequest))
		Expect(body["message"]).To(Equal("HWID is on cooldown for 23h 59m"))

		resets, _ := s.luarmor.counts()
		Expect(resets).To(Equal(1), "upstream must not be called during cooldown")
	})

	It("shows the remaining cooldown in stats, using the rotated key", func() {
		status, body := s.call(http.MethodGet, "/api/stats", nil, token)
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["hwid_status"]).To(Equal("23h 59m remaining"))
	})

	It("allows a reset once the cooldown has elapsed", func() {
		s.clock.Advance(24 * time.Hour)

		status, _ := s.call(http.MethodPost, "/api/reset_hwid", map[string]any{}, token)
		Expect(status).To(Equal(http.StatusOK))
		resets, _ := s.luarmor.counts()
		Expect(resets).To(Equal(2))
	})
}

var _ = Describe("Account flow with the file store", Ordered, func() {
	describeAccountFlow(func() account.Store {
		st, err := store.NewFileStore(filepath.Join(GinkgoT().TempDir(), "users.json"))
		Expect(err).NotTo(HaveOccurred())
		return st
	})
})

var _ = Describe("Account flow with the PostgreSQL store", Ordered, Label("postgres"), func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		pg        *store.PostgresStore
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("flow_e2e"),
			postgres.WithUsername("flow"),
			postgres.WithPassword("flow"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = container.Terminate(ctx) })

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pg, err = store.OpenPostgres(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(pg.Close)
	})

	describeAccountFlow(func() account.Store { return pg })
})

var _ = Describe("Public endpoints", Ordered, func() {
	var s *stack

	BeforeAll(func() {
		st, err := store.NewFileStore(filepath.Join(GinkgoT().TempDir(), "users.json"))
		Expect(err).NotTo(HaveOccurred())
		s = newStack(st, GinkgoT().TempDir())
		DeferCleanup(s.Close)
	})

	It("aggregates telemetry and serves repeats from cache", func() {
		status, body := s.call(http.MethodGet, "/api/public/telemetry", nil, "")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["users"]).To(BeNumerically("==", 120))
		Expect(body["scripts"]).To(BeNumerically("==", 3))
		Expect(body["threats_blocked"]).To(BeNumerically("==", 9))
		Expect(body["monthly_executions"]).To(BeNumerically("==", 250))
		Expect(body["today_executions"]).To(BeNumerically("==", 150))
		Expect(body["daily_change_pct"]).To(BeNumerically("==", 50))
		Expect(body).NotTo(HaveKey("cached"))

		status, body = s.call(http.MethodGet, "/api/public/telemetry", nil, "")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["cached"]).To(BeTrue())

		_, statsCalls := s.luarmor.counts()
		Expect(statsCalls).To(Equal(1))
	})

	It("refreshes telemetry after the cache expires", func() {
		s.clock.Advance(31 * time.Second)

		_, body := s.call(http.MethodGet, "/api/public/telemetry", nil, "")
		Expect(body).NotTo(HaveKey("cached"))
		_, statsCalls := s.luarmor.counts()
		Expect(statsCalls).To(Equal(2))
	})

	It("falls back to the static team without a bot token", func() {
		status, body := s.call(http.MethodGet, "/api/public/team-profiles", nil, "")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["source"]).To(Equal("discord-fallback"))
		Expect(body["live"]).To(BeFalse())
		Expect(body["profiles"]).To(HaveLen(5))
	})

	It("returns the JSON 404 for unknown API routes", func() {
		status, body := s.call(http.MethodGet, "/api/unknown", nil, "")
		Expect(status).To(Equal(http.StatusNotFound))
		Expect(body["message"]).To(Equal("API endpoint not found."))
	})
})
