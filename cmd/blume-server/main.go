package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/blume/blume/internal/config"
	"github.com/blume/blume/internal/platform/db"
	"github.com/blume/blume/internal/platform/locker"
	"github.com/blume/blume/internal/platform/notification"
	"github.com/blume/blume/internal/platform/worker"
	"github.com/blume/blume/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "blume-server",
		Short:        "Blume appointment API server",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(workerCmd())
	root.AddCommand(migrateCmd())
	return root
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).With().Timestamp().Str("service", "blume").Logger()
}

// setup loads and validates the configuration and connects to the database.
func setup(ctx context.Context) (*config.Config, zerolog.Logger, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		return nil, logger, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, logger, nil, err
	}
	logger.Info().Msg("connected to database")
	return cfg, logger, pool, nil
}

// waitForSignal blocks until SIGINT or SIGTERM.
func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	cfg, logger, pool, err := setup(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	checks := []db.Check{{Name: "database", Ping: pool.Ping}, {Name: "amqp"}}
	var publisher notification.Publisher
	if cfg.AMQPURL != "" {
		amqp, err := notification.DialAMQP(cfg.AMQPURL, cfg.NotificationQueue)
		if err != nil {
			return fmt.Errorf("connect to notification queue: %w", err)
		}
		defer amqp.Close()
		publisher = amqp
		checks[1].Ping = amqp.Ping
		logger.Info().Str("queue", cfg.NotificationQueue).Msg("publishing notifications")
	}

	a, err := newApp(cfg, pgStores(pool), publisher, logger)
	if err != nil {
		return err
	}
	e := a.router(cfg, logger, checks...)
	e.GET("/health/db", db.HealthHandler(pool))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	waitForSignal()
	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the periodic jobs (reminders, refund retries, payment recovery)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func runWorker(ctx context.Context) error {
	cfg, logger, pool, err := setup(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	var l locker.Locker
	if cfg.RedisURL != "" {
		client, err := locker.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		l = locker.NewRedisLocker(client)
	} else {
		logger.Warn().Msg("REDIS_URL not set, leader election is local to this process")
		l = locker.NewMemoryLocker()
	}

	var publisher notification.Publisher
	if cfg.AMQPURL != "" {
		amqp, err := notification.DialAMQP(cfg.AMQPURL, cfg.NotificationQueue)
		if err != nil {
			return fmt.Errorf("connect to notification queue: %w", err)
		}
		defer amqp.Close()
		publisher = amqp
	}

	a, err := newApp(cfg, pgStores(pool), publisher, logger)
	if err != nil {
		return err
	}
	loc, _ := cfg.Location()
	w := worker.New(l, logger, worker.Options{Location: loc})
	if err := a.schedule(cfg, w); err != nil {
		return err
	}

	w.Start()
	logger.Info().Msg("worker started")
	waitForSignal()
	logger.Info().Msg("stopping worker")
	w.Stop()
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	})
	return cmd
}

func printStatus(out io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format(time.RFC3339)
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
