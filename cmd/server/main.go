// Package main is the entrypoint for the batchrun API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/batchrun/internal/api"
	"github.com/kiranshivaraju/batchrun/internal/api/handler"
	mw "github.com/kiranshivaraju/batchrun/internal/api/middleware"
	"github.com/kiranshivaraju/batchrun/internal/cache"
	"github.com/kiranshivaraju/batchrun/internal/config"
	"github.com/kiranshivaraju/batchrun/internal/executor"
	"github.com/kiranshivaraju/batchrun/internal/jobs"
	"github.com/kiranshivaraju/batchrun/internal/metrics"
	"github.com/kiranshivaraju/batchrun/internal/store"
	"github.com/kiranshivaraju/batchrun/pkg/models"
)

const (
	shutdownTimeout = 30 * time.Second
	migrationsDir   = "migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "executor", cfg.Executor.Kind, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to the history database (optional)
	var history *store.PostgresStore
	if cfg.Database.URL != "" {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		slog.Info("database connected")

		// 3. Run migrations
		if err := store.RunMigrations(cfg.Database.URL, migrationsDir); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
		history = store.NewPostgresStore(pool)
	} else {
		slog.Info("job history disabled: DATABASE_URL not set")
	}

	// 4. Create Redis cache (optional)
	var redisCache *cache.RedisCache
	if cfg.Redis.URL != "" {
		redisCache, err = cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")
	} else {
		slog.Info("cache and rate limiting disabled: REDIS_URL not set")
	}

	// 5. Create work executor
	exec, err := executor.NewExecutor(cfg.Executor)
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}
	slog.Info("executor initialized", "executor", exec.Name())

	// 6. Create job service
	svc := newService(cfg, exec, history, redisCache)

	// 7. Build router with dependencies
	router := api.NewRouter(buildDependencies(cfg, svc, exec, history, redisCache))

	// 8. Start HTTP server and the retention sweeper
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return svc.RunRetention(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		if err := svc.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("job shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newService builds the job service. Optional dependencies that are not
// configured stay untyped nil so the service can tell they are absent.
func newService(cfg *config.Config, exec models.WorkExecutor, history *store.PostgresStore, rc *cache.RedisCache) *jobs.Service {
	var recorder jobs.HistoryRecorder
	if history != nil {
		recorder = history
	}
	var resultCache jobs.ResultCache
	if rc != nil {
		resultCache = rc
	}

	return jobs.NewService(jobs.Config{
		MaxConcurrentJobs:  cfg.Jobs.MaxConcurrentJobs,
		DefaultConcurrency: cfg.Jobs.DefaultConcurrency,
		MaxConcurrency:     cfg.Jobs.MaxConcurrency,
		MaxItems:           cfg.Jobs.MaxItems,
		ItemEstimate:       cfg.Jobs.ItemEstimate,
		Retention:          cfg.Jobs.Retention,
		RetentionInterval:  cfg.Jobs.RetentionInterval,
		CacheTTL:           cfg.Jobs.CacheTTL,
	}, exec, jobs.NewMemoryStore(), resultCache, recorder)
}

func buildDependencies(cfg *config.Config, svc *jobs.Service, exec models.WorkExecutor,
	history *store.PostgresStore, rc *cache.RedisCache) api.Dependencies {
	checks := map[string]handler.Pinger{}
	if ready, ok := exec.(models.ReadinessChecker); ok {
		checks["executor"] = handler.PingFunc(ready.Ready)
	}

	deps := api.Dependencies{
		MetricsHandler: metrics.Handler(),

		SubmitHandler:  handler.NewSubmitHandler(svc),
		ListHandler:    handler.NewListHandler(svc),
		StatusHandler:  handler.NewStatusHandler(svc),
		ResultsHandler: handler.NewResultsHandler(svc),
		ErrorsHandler:  handler.NewErrorsHandler(svc),
		CancelHandler:  handler.NewCancelHandler(svc),
		PurgeHandler:   handler.NewPurgeHandler(svc),
	}

	if history != nil {
		checks["database"] = history
		deps.HistoryListHandler = handler.NewHistoryListHandler(history)
		deps.HistoryGetHandler = handler.NewHistoryGetHandler(history)
	}
	if rc != nil {
		checks["cache"] = rc
		deps.RateLimit = mw.NewRateLimit(rc, cfg.RateLimit.PerMinute)
	}

	deps.HealthHandler = handler.NewHealthHandler(checks)
	return deps
}
