// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/flowscripts/flow/internal/account"
	"github.com/flowscripts/flow/internal/store"
)

var _ = Describe("PostgresStore", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
		pg        *store.PostgresStore
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("flow_test"),
			postgres.WithUsername("flow"),
			postgres.WithPassword("flow"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))
		Expect(dirty).To(BeFalse())
		Expect(migrator.Close()).To(Succeed())

		pg, err = store.OpenPostgres(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if pg != nil {
			pg.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	It("starts empty", func() {
		records, err := pg.ListAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(BeEmpty())
	})

	It("replaces the collection and keeps order", func() {
		reset := int64(1767225600)
		records := []account.UserRecord{
			{Username: "zed", PasswordHash: "h1", LicenseKey: "KEY-ZED-000001", CreatedAt: time.Now().UTC().Truncate(time.Microsecond)},
			{Username: "alice", PasswordHash: "h2", LicenseKey: "KEY-ALICE-0002", CreatedAt: time.Now().UTC().Truncate(time.Microsecond), LastHWIDReset: &reset},
		}
		Expect(pg.ReplaceAll(ctx, records)).To(Succeed())

		got, err := pg.ListAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(2))
		Expect(got[0].Username).To(Equal("zed"))
		Expect(got[1].LastHWIDReset).To(HaveValue(Equal(reset)))
		Expect(got[1].CreatedAt.Equal(records[1].CreatedAt)).To(BeTrue())
	})

	It("rejects case-insensitive duplicate usernames and keeps the previous rows", func() {
		records := []account.UserRecord{
			{Username: "Bob", PasswordHash: "h", LicenseKey: "KEY-BOB-000001", CreatedAt: time.Now()},
			{Username: "bob", PasswordHash: "h", LicenseKey: "KEY-BOB-000002", CreatedAt: time.Now()},
		}
		Expect(pg.ReplaceAll(ctx, records)).NotTo(Succeed())

		got, err := pg.ListAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(2))
		Expect(got[0].Username).To(Equal("zed"))
	})

	It("rolls the schema back and forward", func() {
		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		defer migrator.Close()

		Expect(migrator.Down()).To(Succeed())
		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Version).To(BeZero())
		Expect(status.Applied).To(BeEmpty())

		Expect(migrator.Up()).To(Succeed())
		status, err = migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Pending).To(BeEmpty())
		Expect(status.Dirty).To(BeFalse())
	})
})

var _ = Describe("FileStore", func() {
	It("works as an account store for the orchestrator", func() {
		s, err := store.NewFileStore(GinkgoT().TempDir() + "/users.json")
		Expect(err).NotTo(HaveOccurred())

		var _ account.Store = s
		Expect(s.ReplaceAll(context.Background(), []account.UserRecord{{Username: "alice", LicenseKey: "KEY-ALICE-0001"}})).To(Succeed())
		records, err := s.ListAll(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(1))
	})
})
