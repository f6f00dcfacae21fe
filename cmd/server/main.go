package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/neexbeast/tour-search/internal/api"
	"github.com/neexbeast/tour-search/internal/cache"
	"github.com/neexbeast/tour-search/internal/config"
	"github.com/neexbeast/tour-search/internal/history"
	"github.com/neexbeast/tour-search/internal/obs"
	"github.com/neexbeast/tour-search/internal/pricing"
	"github.com/neexbeast/tour-search/internal/ratelimit"
	"github.com/neexbeast/tour-search/internal/reference"
	"github.com/neexbeast/tour-search/internal/search"
	"github.com/neexbeast/tour-search/internal/storage"
	"github.com/neexbeast/tour-search/internal/upstream"
)

const preloadTimeout = time.Minute

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := run(log); err != nil {
		log.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)

	client := upstream.NewClient(cfg.BaseURL, cfg.Login, cfg.Password,
		upstream.WithLogger(log),
		upstream.WithMetrics(metrics),
	)

	limiter := ratelimit.New()
	limiter.StartJanitor(ctx, ratelimit.DefaultSweepEvery)

	refCache := cache.New[any]()
	refCache.StartJanitor(ctx, cache.DefaultCleanupEvery, log)

	var checks []api.HealthCheck
	var handlerOpts []api.Option
	actualizerOpts := []pricing.Option{pricing.WithMetrics(metrics)}

	// Postgres is optional; without it price checks are not recorded.
	if cfg.DatabaseURL != "" {
		pool, err := storage.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()

		applied, err := storage.RunMigrations(ctx, pool, cfg.MigrationsDir)
		if err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		log.Info("migrations applied", "count", len(applied), "files", applied)

		repo := storage.NewRepository(pool)
		actualizerOpts = append(actualizerOpts, pricing.WithRecorder(repo))
		handlerOpts = append(handlerOpts, api.WithPriceChecks(repo))
		checks = append(checks, api.HealthCheck{Name: "db", Ping: pool.Ping})
	} else {
		log.Warn("DATABASE_URL not set, price check history disabled")
	}

	// Redis is optional; without it recent searches are not kept.
	if cfg.RedisURL != "" {
		redisClient, err := history.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		store := history.NewStore(redisClient)
		handlerOpts = append(handlerOpts, api.WithHistory(store))
		checks = append(checks, api.HealthCheck{Name: "redis", Ping: store.Ping})
	} else {
		log.Warn("REDIS_URL not set, search history disabled")
	}

	orchestrator := search.NewOrchestrator(client, limiter, log, search.WithMetrics(metrics))
	actualizer := pricing.NewActualizer(client, limiter, log, actualizerOpts...)
	refs := reference.NewService(client, limiter, refCache, log, reference.WithMetrics(metrics))

	go func() {
		preloadCtx, cancel := context.WithTimeout(ctx, preloadTimeout)
		defer cancel()
		if err := refs.Preload(preloadCtx); err != nil {
			log.Warn("reference preload failed", "err", err)
		}
	}()

	handlers := api.NewHandlers(orchestrator, actualizer, refs, log, handlerOpts...)
	router := api.NewRouter(handlers, api.RouterConfig{
		AdminToken: cfg.APIToken,
		Health:     api.HealthHandlerFunc(cfg.Login != "" && cfg.Password != "", checks, log),
		Metrics:    metrics,
		Log:        log,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("server goroutine panicked", "recover", r)
				errCh <- fmt.Errorf("server panicked: %v", r)
			}
		}()
		log.Info("server starting", "port", cfg.Port, "upstream", cfg.BaseURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listening: %w", err)
		}
	}()

	select {
	case sig := <-quit:
		log.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		return err
	}

	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	log.Info("server shut down cleanly")
	return nil
}
