// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/flowscripts/flow/internal/account"
	"github.com/flowscripts/flow/internal/cache"
	"github.com/flowscripts/flow/internal/config"
	"github.com/flowscripts/flow/internal/discord"
	"github.com/flowscripts/flow/internal/egress"
	"github.com/flowscripts/flow/internal/logging"
	"github.com/flowscripts/flow/internal/luarmor"
	"github.com/flowscripts/flow/internal/observability"
	"github.com/flowscripts/flow/internal/team"
	"github.com/flowscripts/flow/internal/telemetry"
	"github.com/flowscripts/flow/internal/tls"
	"github.com/flowscripts/flow/internal/web"
)

const serviceName = "flow"

var errNotServing = errors.New("http listener not serving")

// serveFlagKeys maps serve flags onto config keys.
var serveFlagKeys = map[string]string{
	"listen":       "server.listen_addr",
	"static-dir":   "server.static_dir",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"store-driver": "store.driver",
	"store-path":   "store.path",
}

// ObservabilityServer is the metrics and health check server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values use their default implementations.
type ServeDeps struct {
	// StoreOpener opens the credential store.
	// Default: openStore
	StoreOpener func(ctx context.Context, cfg config.StoreConfig) (CredentialStore, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, check observability.ReadinessCheck) ObservabilityServer

	// ListenerFactory creates the public HTTP listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the public HTTP server: the account API, the public telemetry and
team endpoints, and the static landing page. When metrics.addr is set, a
second listener serves Prometheus metrics and health checks.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, serveFlagKeys)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd, nil)
		},
	}

	cmd.Flags().String("listen", "", "HTTP listen address (default \":3000\")")
	cmd.Flags().String("static-dir", "", "directory holding the landing page")
	cmd.Flags().String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", "", "log format (json or text)")
	cmd.Flags().String("store-driver", "", "credential store driver (file or postgres)")
	cmd.Flags().String("store-path", "", "users file for the file driver")

	return cmd
}

// runServe starts the server with injectable dependencies and blocks until
// ctx is cancelled or a termination signal arrives.
func runServe(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.StoreOpener == nil {
		deps.StoreOpener = openStore
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, check observability.ReadinessCheck) ObservabilityServer {
			return observability.NewServer(addr, check)
		}
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logger := logging.SetDefault(serviceName, version, cfg.Log.Format)
	logger.Info("starting flow server",
		"listen_addr", cfg.Server.ListenAddr,
		"store_driver", cfg.Store.Driver,
		"log_format", cfg.Log.Format)

	if !cfg.AuthConfigured() {
		logger.Warn("JWT secret missing or shorter than required; login and authenticated routes will fail",
			"min_length", config.MinJWTSecretLength)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ready atomic.Bool

	st, err := deps.StoreOpener(ctx, cfg.Store)
	if err != nil {
		return oops.With("operation", "open credential store").Wrap(err)
	}
	defer st.Close()
	logger.Info("credential store opened", "driver", cfg.Store.Driver)

	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, func(ctx context.Context) error {
			if !ready.Load() {
				return errNotServing
			}
			return st.Ping(ctx)
		})
		metrics = obsServer.Metrics()
	}

	router, err := buildRouter(cfg, st, metrics, logger)
	if err != nil {
		return err
	}

	listener, err := deps.ListenerFactory("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.Server.ListenAddr).Wrap(err)
	}

	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var obsErr <-chan error
	if obsServer != nil {
		obsErr, err = obsServer.Start()
		if err != nil {
			shutdown(httpServer, cfg.Server.ShutdownTimeout, logger)
			return oops.With("operation", "start observability server").Wrap(err)
		}
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	ready.Store(true)
	cmd.Println("Flow server listening on " + listener.Addr().String())
	logger.Info("flow server ready", "addr", listener.Addr().String())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err, ok := <-serveErr:
		if ok {
			runErr = oops.Code("SERVE_FAILED").Wrap(err)
		}
	case err, ok := <-obsErr:
		if ok {
			runErr = oops.With("operation", "observability server").Wrap(err)
		}
	}

	ready.Store(false)
	shutdown(httpServer, cfg.Server.ShutdownTimeout, logger)
	if obsServer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := obsServer.Stop(stopCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

func shutdown(srv *http.Server, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
}

// buildRouter wires the upstream clients, services and caches behind the
// HTTP router.
func buildRouter(cfg *config.Config, st account.Store, metrics *observability.Metrics, logger *slog.Logger) (http.Handler, error) {
	tlsConfig, err := tls.ClientConfig(tls.ClientOptions{
		CAFile:        cfg.Luarmor.CAFile,
		AllowInsecure: cfg.Luarmor.AllowInsecureTLS,
	})
	if err != nil {
		return nil, oops.With("operation", "configure upstream tls").Wrap(err)
	}

	gateway := luarmor.NewClient(luarmor.Config{
		BaseURL:    cfg.Luarmor.BaseURL,
		APIKey:     cfg.Luarmor.APIKey,
		ProjectID:  cfg.Luarmor.ProjectID,
		Timeout:    cfg.Luarmor.Timeout,
		HTTPClient: tls.NewHTTPClient(cfg.Luarmor.Timeout, tlsConfig),
		Metrics:    metrics,
	})
	if !gateway.HasAPIKey() {
		logger.Warn("luarmor api key is not configured; registration and telemetry will fail")
	}

	sessions := account.NewSessionManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	accounts, err := account.NewService(st, gateway, account.NewBcryptHasher(), sessions,
		account.WithLogger(logger),
		account.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}

	telemetrySvc, err := telemetry.NewService(gateway,
		cache.New[telemetry.Payload]("telemetry", cfg.Cache.TelemetryTTL, cache.WithMetrics(metrics)),
		telemetry.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	roster, err := team.LoadRoster(cfg.Team.RosterFile)
	if err != nil {
		return nil, err
	}
	discordClient := discord.NewClient(discord.Config{
		BaseURL:    cfg.Discord.BaseURL,
		Timeout:    cfg.Discord.Timeout,
		HTTPClient: tls.NewHTTPClient(cfg.Discord.Timeout, nil),
		Metrics:    metrics,
	})
	tokens := discord.TokenResolver{
		EnvFile: cfg.Discord.EnvFile,
		Runtime: cfg.Discord.BotToken,
		Logger:  logger,
	}
	teamSvc, err := team.NewService(roster, discordClient, tokens,
		cache.New[team.Payload]("team_profiles", cfg.Cache.TeamProfilesTTL, cache.WithMetrics(metrics)),
		team.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	resolver := &egress.Resolver{
		URL:     cfg.Egress.URL,
		Timeout: cfg.Egress.Timeout,
		Client:  tls.NewHTTPClient(cfg.Egress.Timeout, nil),
		Metrics: metrics,
	}

	return web.NewRouter(web.Deps{
		Accounts:       accounts,
		Sessions:       sessions,
		Telemetry:      telemetrySvc,
		Team:           teamSvc,
		Egress:         resolver,
		Logger:         logger,
		Metrics:        metrics,
		StaticDir:      cfg.Server.StaticDir,
		BodyLimitBytes: cfg.Server.BodyLimitBytes,
		Origins:        append(web.DefaultOrigins(cfg.Port()), cfg.CORS.Origins...),
		APILimit:       web.Limit{Requests: cfg.RateLimit.API.Requests, Window: cfg.RateLimit.API.Window},
		AuthLimit:      web.Limit{Requests: cfg.RateLimit.Auth.Requests, Window: cfg.RateLimit.Auth.Window},
	})
}
