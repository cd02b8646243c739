// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package main

import (
	"github.com/google/renameio/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/flowscripts/flow/internal/team"
)

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Write the team roster JSON Schema",
		Long: `Generate the JSON Schema that team.roster_file is validated against.
Editors can use it to check roster files before deploying them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := team.GenerateSchema()
			if err != nil {
				return err
			}
			data = append(data, '\n')
			if output == "" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := renameio.WriteFile(output, data, 0o644); err != nil {
				return oops.Code("SCHEMA_WRITE_FAILED").With("path", output).Wrap(err)
			}
			cmd.Printf("Schema written to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}
