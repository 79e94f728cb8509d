// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UnivExplorer Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/univexplorer/authd/internal/auth"
	authpg "github.com/univexplorer/authd/internal/auth/postgres"
	"github.com/univexplorer/authd/internal/config"
	"github.com/univexplorer/authd/internal/httpapi"
	"github.com/univexplorer/authd/internal/logging"
	"github.com/univexplorer/authd/internal/observability"
	"github.com/univexplorer/authd/internal/store"
	"github.com/univexplorer/authd/pkg/errutil"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the auth API server",
		Long: `Start the HTTP API server exposing /auth/register, /auth/login,
and /auth/verify, plus a separate metrics/health endpoint.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}

	defaults := config.Default()
	cmd.Flags().String("listen-addr", defaults.ListenAddr, "API listen address")
	cmd.Flags().String("metrics-addr", defaults.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("database-url", "", "PostgreSQL connection string")
	cmd.Flags().Duration("token-ttl", defaults.TokenTTL, "bearer token time-to-live")
	cmd.Flags().Int("bcrypt-cost", defaults.BcryptCost, "password hashing work factor")
	cmd.Flags().String("log-format", defaults.LogFormat, "log format (json or text)")

	return cmd
}

func runServe(cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("authd", version, cfg.LogFormat)
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	hasher, err := auth.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		return err
	}
	issuer, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}
	service, err := auth.NewServiceWithLogger(authpg.NewUserRepository(pool), hasher, issuer, logger)
	if err != nil {
		return err
	}

	// Readiness tracks the database: the API is useless without it.
	readiness := func() bool {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(pingCtx) == nil
	}

	var obs *observability.Server
	var obsErrCh <-chan error
	var metrics *observability.Metrics
	if cfg.MetricsAddr != "" {
		obs = observability.NewServer(cfg.MetricsAddr, readiness)
		obsErrCh, err = obs.Start()
		if err != nil {
			return oops.Code("SERVE_FAILED").With("operation", "start observability server").Wrap(err)
		}
		metrics = obs.Metrics()
	}

	api, err := httpapi.NewServer(cfg.ListenAddr, service, metrics, logger)
	if err != nil {
		return err
	}
	apiErrCh, err := api.Start()
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "start api server").Wrap(err)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr := <-apiErrCh:
		if serveErr != nil {
			errutil.LogError(logger, "api server failed", serveErr)
		}
	case serveErr := <-obsErrCh:
		if serveErr != nil {
			errutil.LogError(logger, "observability server failed", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := api.Stop(shutdownCtx); err != nil {
		errutil.LogError(logger, "api server shutdown failed", err)
	}
	if obs != nil {
		if err := obs.Stop(shutdownCtx); err != nil {
			errutil.LogError(logger, "observability server shutdown failed", err)
		}
	}

	return nil
}
