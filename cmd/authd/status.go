// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UnivExplorer Contributors

package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// statusConfig holds configuration for the status command.
type statusConfig struct {
	metricsAddr string
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show health of a running authd process",
		Long:  `Probe the readiness endpoint of a running authd process.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address of the running process")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	client := &http.Client{Timeout: 3 * time.Second}

	url := fmt.Sprintf("http://%s/healthz/readiness", cfg.metricsAddr)
	resp, err := client.Get(url) //nolint:noctx // short one-shot CLI probe
	if err != nil {
		cmd.Printf("authd: not running (%v)\n", err)
		return nil
	}
	defer resp.Body.Close() //nolint:errcheck // response body close on read-only probe

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256)) //nolint:errcheck // best-effort probe output

	switch resp.StatusCode {
	case http.StatusOK:
		cmd.Println("authd: ready")
	case http.StatusServiceUnavailable:
		cmd.Println("authd: running, not ready")
	default:
		cmd.Printf("authd: unexpected status %d (%s)\n", resp.StatusCode, string(body))
	}
	return nil
}
