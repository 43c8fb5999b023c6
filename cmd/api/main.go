// Package main is the entry point for the ratewarden server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ratewarden/ratewarden/internal/config"
	"github.com/ratewarden/ratewarden/internal/database"
	"github.com/ratewarden/ratewarden/internal/handlers"
	"github.com/ratewarden/ratewarden/internal/ratelimit"
	"github.com/ratewarden/ratewarden/internal/repository"
	"github.com/ratewarden/ratewarden/internal/server"
	"github.com/ratewarden/ratewarden/internal/store"
	"github.com/ratewarden/ratewarden/internal/violations"
	"github.com/ratewarden/ratewarden/pkg/logger"
)

// connectTimeout bounds startup connections to Redis and Postgres.
const connectTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(os.Stdout, cfg.App.LogLevel).With("service", "ratewarden", "env", cfg.App.Env)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("failed to close store", "error", err)
		}
	}()

	limiter := ratelimit.New(st, ratelimit.WithLogger(log.With("component", "limiter")))
	policies := ratelimit.PoliciesFrom(cfg)
	for _, p := range policies {
		log.Info("policy loaded", "name", p.Name, "limit", p.Limit, "window", p.Window.String())
	}

	checks := map[string]handlers.CheckFunc{"store": st.Ping}

	var reporters violations.Multi
	if cfg.Rate.LogErrors {
		reporters = append(reporters, violations.NewLogReporter(log.With("component", "violations"), cfg.Rate.LogBurst))
	}

	var repo repository.ViolationRepository
	if cfg.DatabaseEnabled() {
		pool, err := database.NewPool(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()

		migrator, err := database.NewMigrator(pool)
		if err != nil {
			return fmt.Errorf("failed to load migrations: %w", err)
		}
		applied, err := migrator.Up(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database ready", "migrations_applied", applied)

		pgRepo := repository.NewPostgresViolationRepository(pool)
		repo = pgRepo
		checks["database"] = pgRepo.HealthCheck

		recorder := violations.NewRecorder(violations.DefaultConfig(), pgRepo, log.With("component", "recorder"))
		// Runs after the server has drained so in-flight violations are flushed.
		defer recorder.Stop()
		reporters = append(reporters, recorder)
	} else {
		log.Info("violation audit store disabled")
	}

	var reporter violations.Reporter = violations.Discard
	if len(reporters) > 0 {
		reporter = reporters
	}

	srv := server.New(cfg, log, server.Deps{
		Limiter:    limiter,
		Policies:   policies,
		Reporter:   reporter,
		Violations: repo,
		Checks:     checks,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

// openStore connects the configured counter backend.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Store, error) {
	switch cfg.Rate.Store {
	case "memory":
		log.Warn("using in-process store; counters are not shared between instances")
		return store.NewMemory(time.Minute, store.WithPrefix(cfg.Redis.Prefix)), nil
	default:
		r, err := store.NewRedis(ctx, &cfg.Redis)
		if err != nil {
			return nil, err
		}
		log.Info("connected to redis", "address", cfg.Redis.Address(), "prefix", cfg.Redis.Prefix)
		return r, nil
	}
}
