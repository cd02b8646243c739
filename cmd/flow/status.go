// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

const statusTimeout = 2 * time.Second

// ServerStatus is the health of a running server.
type ServerStatus struct {
	Addr  string `json:"addr"`
	Live  bool   `json:"live"`
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
	addr       string
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of a running Flow server",
		Long: `Query the liveness and readiness endpoints of a running Flow server through
its observability listener (metrics.addr).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.addr == "" {
				loaded, err := loadConfig(cmd, nil)
				if err != nil {
					return err
				}
				cfg.addr = loaded.Metrics.Addr
			}
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().StringVar(&cfg.addr, "addr", "", "observability address (default: metrics.addr)")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	status := queryServerStatus(cmd.Context(), cfg.addr)

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	cmd.Print(formatStatusTable(status))
	return nil
}

// queryServerStatus queries the health endpoints at addr.
func queryServerStatus(ctx context.Context, addr string) ServerStatus {
	status := ServerStatus{Addr: addr}
	if addr == "" {
		status.Error = "metrics.addr is not configured"
		return status
	}
	if ctx == nil {
		ctx = context.Background()
	}

	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	client := &http.Client{Timeout: statusTimeout}

	live, _, err := checkEndpoint(ctx, client, base+"/healthz/liveness")
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	status.Live = live

	ready, reason, err := checkEndpoint(ctx, client, base+"/healthz/readiness")
	if err != nil {
		status.Error = fmt.Sprintf("readiness check failed: %v", err)
		return status
	}
	status.Ready = ready
	if !ready {
		status.Error = reason
	}
	return status
}

// checkEndpoint reports whether url answered 200, along with the first line of the
// response body.
func checkEndpoint(ctx context.Context, client *http.Client, url string) (bool, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	line, _, _ := strings.Cut(strings.TrimSpace(string(body)), "\n")
	return resp.StatusCode == http.StatusOK, line, nil
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status ServerStatus) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "ADDR\tLIVE\tREADY\tERROR")
	errText := "-"
	if status.Error != "" {
		errText = status.Error
	}
	_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", orDash(status.Addr), yesNo(status.Live), yesNo(status.Ready), errText)

	_ = w.Flush()
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
