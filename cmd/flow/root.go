// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/flowscripts/flow/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Flow CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Flow - website backend for Luarmor-licensed scripts",
		Long: `Flow serves the marketing site and a small account API: registration
against a Luarmor license, login sessions, HWID resets and public telemetry.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewUsersCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}

// loadConfig layers defaults, the config file, the environment and the
// changed flags of cmd named in flagKeys, then validates the result.
func loadConfig(cmd *cobra.Command, flagKeys map[string]string) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		File:     configFile,
		Flags:    cmd.Flags(),
		FlagKeys: flagKeys,
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
