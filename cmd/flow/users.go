// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowscripts/flow/internal/account"
	"github.com/flowscripts/flow/internal/config"
)

// keyPrefixLen is how much of a license key listings reveal.
const keyPrefixLen = 6

var usersFlagKeys = map[string]string{
	"store-driver": "store.driver",
	"store-path":   "store.path",
	"database-url": "store.database_url",
}

// UserSummary is the listing view of an account. It never carries the
// password hash or the full license key.
type UserSummary struct {
	Username      string     `json:"username"`
	LicenseKey    string     `json:"license_key"`
	CreatedAt     time.Time  `json:"created_at"`
	LastHWIDReset *time.Time `json:"last_hwid_reset,omitempty"`
}

// NewUsersCmd creates the users command group.
func NewUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect registered accounts",
	}
	cmd.AddCommand(newUsersListCmd(nil))
	return cmd
}

// newUsersListCmd creates users list. open defaults to openStore.
func newUsersListCmd(open func(ctx context.Context, cfg config.StoreConfig) (CredentialStore, error)) *cobra.Command {
	if open == nil {
		open = openStore
	}
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts in the configured credential store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, usersFlagKeys)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			st, err := open(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close()

			records, err := st.ListAll(ctx)
			if err != nil {
				return err
			}
			summaries := summarize(records)

			if jsonOutput {
				data, err := json.MarshalIndent(summaries, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal users: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}
			cmd.Print(formatUsersTable(summaries))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output users as JSON")
	cmd.Flags().String("store-driver", "", "credential store driver (file or postgres)")
	cmd.Flags().String("store-path", "", "users file for the file driver")
	cmd.Flags().String("database-url", "", "PostgreSQL connection URL")
	return cmd
}

func summarize(records []account.UserRecord) []UserSummary {
	out := make([]UserSummary, 0, len(records))
	for _, r := range records {
		s := UserSummary{
			Username:   r.Username,
			LicenseKey: maskKey(r.LicenseKey),
			CreatedAt:  r.CreatedAt.UTC(),
		}
		if r.LastHWIDReset != nil {
			t := time.Unix(*r.LastHWIDReset, 0).UTC()
			s.LastHWIDReset = &t
		}
		out = append(out, s)
	}
	return out
}

func maskKey(key string) string {
	if len(key) <= keyPrefixLen {
		return strings.Repeat("*", len(key))
	}
	return key[:keyPrefixLen] + "..."
}

func formatUsersTable(users []UserSummary) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "USERNAME\tLICENSE\tCREATED\tLAST RESET")
	for _, u := range users {
		reset := "never"
		if u.LastHWIDReset != nil {
			reset = u.LastHWIDReset.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.Username, u.LicenseKey, u.CreatedAt.Format(time.RFC3339), reset)
	}
	_ = w.Flush()

	if len(users) == 0 {
		b.WriteString("no accounts\n")
	}
	return b.String()
}
