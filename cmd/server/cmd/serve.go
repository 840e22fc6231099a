package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/api"
	"github.com/Togather-Foundation/eventbook/internal/config"
	"github.com/Togather-Foundation/eventbook/internal/domain/users"
	"github.com/Togather-Foundation/eventbook/internal/metrics"
	"github.com/Togather-Foundation/eventbook/internal/storage/postgres"
	"github.com/Togather-Foundation/eventbook/internal/telemetry"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout   = 10 * time.Second
	dbCollectInterval = 15 * time.Second
)

var (
	// Server flags (override config/env)
	serverHost     string
	serverPort     int
	migrateOnStart bool
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the eventbook HTTP server",
		Long: `Start the eventbook HTTP server and begin accepting API requests.

The server will:
- Load configuration from environment variables (or --config file if provided)
- Optionally apply pending migrations (--migrate)
- Bootstrap an admin account if ADMIN_EMAIL and ADMIN_PASSWORD are set
- Start the notification and event sweep workers when JOBS_ENABLED is true
- Handle graceful shutdown on SIGINT/SIGTERM

Examples:
  # Start with default configuration (from env vars)
  eventbook serve

  # Start on a specific host and port
  eventbook serve --host 127.0.0.1 --port 9090

  # Apply migrations, then serve with debug logging
  eventbook serve --migrate --log-level debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&serverHost, "host", "", "server host address (default: 0.0.0.0)")
	cmd.Flags().IntVar(&serverPort, "port", 0, "server port (default: 8080)")
	cmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply schema and River migrations before serving")
	return cmd
}

func runServer(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}

	logger := config.NewLogger(cfg.Logging)
	logger.Info().Str("version", Version).Str("env", cfg.Environment).Msg("starting eventbook server")

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init(Version, GitCommit, BuildDate)

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("tracing init: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown error")
		}
	}()

	if migrateOnStart {
		if err := applyMigrations(ctx, cfg, logger); err != nil {
			return err
		}
	}

	pool, err := postgres.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	poolCtx, stopPoolWatch := context.WithCancel(context.Background())
	go metrics.WatchPool(poolCtx, pool, dbCollectInterval)
	defer stopPoolWatch()

	router, err := api.NewRouter(ctx, cfg, logger, pool, buildInfo())
	if err != nil {
		return fmt.Errorf("router init: %w", err)
	}
	defer router.Close()

	bootstrapAdmin(ctx, cfg, router.Users, logger)

	if router.AuditRecorder != nil {
		router.AuditRecorder.Start()
		defer func() {
			if err := router.AuditRecorder.Close(); err != nil {
				logger.Error().Err(err).Msg("audit recorder shutdown error")
			} else {
				logger.Info().Msg("audit recorder stopped")
			}
		}()
	}

	if cfg.Jobs.Enabled && router.RiverClient != nil {
		riverCtx, riverCancel := context.WithCancel(context.Background())
		defer riverCancel()
		if err := router.RiverClient.Start(riverCtx); err != nil {
			return fmt.Errorf("river workers failed to start: %w", err)
		}
		logger.Info().Msg("river workers started")
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if err := router.RiverClient.Stop(stopCtx); err != nil {
				logger.Error().Err(err).Msg("river workers shutdown error")
			} else {
				logger.Info().Msg("river workers stopped")
			}
		}()
	} else {
		logger.Warn().Msg("job workers disabled in this process; notifications are only enqueued")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Handler,
		ReadTimeout:       10 * time.Second, // Total time to read request
		WriteTimeout:      30 * time.Second, // Total time to write response
		ReadHeaderTimeout: 5 * time.Second,  // Time to read headers
		MaxHeaderBytes:    1 << 20,          // 1 MB max header size
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return gracefulShutdown(gctx, server, logger)
	})
	return g.Wait()
}

// gracefulShutdown waits for ctx to end, then drains in-flight requests.
func gracefulShutdown(ctx context.Context, server *http.Server, logger zerolog.Logger) error {
	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}

// adminEnsurer is the part of users.Service the bootstrap needs.
type adminEnsurer interface {
	EnsureAdmin(ctx context.Context, email, password, firstName, lastName string) (bool, error)
}

var _ adminEnsurer = (*users.Service)(nil)

// bootstrapAdmin creates the configured admin account once. Failures are
// logged, not fatal.
func bootstrapAdmin(ctx context.Context, cfg config.Config, svc adminEnsurer, logger zerolog.Logger) {
	bootstrap := cfg.AdminBootstrap
	if bootstrap.Email == "" || bootstrap.Password == "" {
		logger.Debug().Msg("admin bootstrap env vars not set; skipping")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	created, err := svc.EnsureAdmin(ctx, bootstrap.Email, bootstrap.Password, bootstrap.FirstName, bootstrap.LastName)
	if err != nil {
		logger.Error().Err(err).Msg("admin bootstrap failed")
		return
	}
	if !created {
		return
	}
	// Redact email in production to avoid PII in logs
	if cfg.Environment == "production" {
		logger.Info().Msg("bootstrapped admin user")
	} else {
		logger.Info().Str("email", bootstrap.Email).Msg("bootstrapped admin user")
	}
}
