// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package main

import (
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/flowscripts/flow/internal/store"
)

// migrator is the subset of store.Migrator used by the CLI.
type migrator interface {
	Up() error
	Down() error
	Status() (store.MigrationStatus, error)
	Close() error
}

// newMigrator is replaced in tests.
var newMigrator = func(databaseURL string) (migrator, error) {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	return m, nil
}

var migrateFlagKeys = map[string]string{
	"database-url": "store.database_url",
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down|version]",
		Short: "Run credential store database migrations",
		Long: `Manage the PostgreSQL schema of the credential store. Only needed when
store.driver is postgres.

  up       apply all pending migrations (default)
  down     roll back every migration, dropping all accounts
  version  print the schema version with applied and pending migrations`,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}
			cfg, err := loadConfig(cmd, migrateFlagKeys)
			if err != nil {
				return err
			}
			return runMigrate(cmd, cfg.Store.DatabaseURL, action)
		},
	}

	cmd.Flags().String("database-url", "", "PostgreSQL connection URL (default: DATABASE_URL)")
	return cmd
}

func runMigrate(cmd *cobra.Command, databaseURL, action string) error {
	if databaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("store.database_url (DATABASE_URL) is required for migrations")
	}

	m, err := newMigrator(databaseURL)
	if err != nil {
		return oops.With("operation", "connect to database").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrln("warning: closing migrator:", closeErr)
		}
	}()

	switch action {
	case "up":
		cmd.Println("Running migrations...")
		if err := m.Up(); err != nil {
			return err
		}
		cmd.Println("Migrations completed successfully")
	case "down":
		cmd.Println("Rolling back migrations...")
		if err := m.Down(); err != nil {
			return err
		}
		cmd.Println("Rollback completed successfully")
	case "version":
		return printVersion(cmd, m)
	default:
		return oops.Code("INVALID_ARGUMENT").Errorf("unknown migrate action %q", action)
	}
	return nil
}

func printVersion(cmd *cobra.Command, m migrator) error {
	status, err := m.Status()
	if err != nil {
		return err
	}
	line := fmt.Sprintf("Schema version: %d", status.Version)
	if status.Dirty {
		line += " (dirty)"
	}
	cmd.Println(line)

	for _, mig := range status.Applied {
		cmd.Printf("  applied  %s\n", mig)
	}
	for _, mig := range status.Pending {
		cmd.Printf("  pending  %s\n", mig)
	}
	if len(status.Pending) == 0 {
		cmd.Println("No pending migrations")
	}
	return nil
}
