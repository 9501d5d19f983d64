// The inventory service is an internal collaborator: it holds product
// stock and takes reservations on behalf of the gateway's fan-out,
// idempotent on (idempotency_key, product_id). In dev mode it runs on an
// in-memory store seeded with demo products; in production it requires
// Postgres at startup.
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

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridian-commerce/backbone/internal/chaos"
	"github.com/meridian-commerce/backbone/internal/clock"
	"github.com/meridian-commerce/backbone/internal/config"
	"github.com/meridian-commerce/backbone/internal/health"
	"github.com/meridian-commerce/backbone/internal/httpmw"
	"github.com/meridian-commerce/backbone/internal/inventory"
	"github.com/meridian-commerce/backbone/internal/lifecycle"
	"github.com/meridian-commerce/backbone/internal/resilience/deadline"
)

const service = "inventory"

func main() {
	cfg, err := config.Load(os.Getenv("BACKBONE_CONFIG"))
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	if cfg.DevMode {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("starting inventory", "dev_mode", cfg.DevMode, "chaos_enabled", cfg.Chaos.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checker := health.NewChecker()
	lm := lifecycle.NewManager()

	var repo inventory.Repository
	if cfg.DevMode {
		repo = seededMemoryRepo(ctx)
		slog.Info("using in-memory inventory store with demo products")
	} else {
		pgCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
		if err != nil {
			slog.Error("invalid postgres dsn", "error", err)
			os.Exit(1)
		}
		pgCfg.MaxConns = int32(cfg.Postgres.MaxOpenConn)
		pgCfg.MinConns = int32(cfg.Postgres.MinOpenConn)
		pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
		if err != nil {
			slog.Error("failed to create postgres pool", "error", err)
			os.Exit(1)
		}
		if err := pool.Ping(ctx); err != nil {
			slog.Error("failed to ping postgres", "error", err)
			os.Exit(1)
		}
		lm.Register(lifecycle.Hook{Name: "postgres", Phase: lifecycle.PhaseDatabase, Shutdown: func(context.Context) error {
			pool.Close()
			return nil
		}})
		checker.AddReadiness(health.PingCheck("postgres", func() error { return pool.Ping(ctx) }))
		repo = inventory.NewPostgresRepository(pool)
	}

	injector := chaos.New(chaos.Config{
		Enabled:   cfg.Chaos.Enabled,
		ErrorRate: cfg.Chaos.ErrorRate,
		Latency:   cfg.Chaos.Latency,
	})
	invHandler := inventory.NewHandler(inventory.NewService(repo, injector))

	dlCfg := deadline.Config{
		Default:        cfg.Deadline.Default,
		ConnectTimeout: cfg.Deadline.ConnectTimeout,
		ReadTimeout:    cfg.Deadline.ReadTimeout,
		WriteTimeout:   cfg.Deadline.WriteTimeout,
	}

	r := chi.NewRouter()
	r.Use(httpmw.Correlation)
	r.Use(httpmw.Metrics(service, httpmw.RoutePattern))
	r.Use(httpmw.Deadline(dlCfg, clock.Real{}))

	r.Post("/inventory/reserve", invHandler.Reserve)
	r.Get("/health", checker.HandleLive)
	r.Get("/ready", checker.HandleReady)
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	lm.Register(lifecycle.Hook{Name: "http", Phase: lifecycle.PhaseHTTP, Shutdown: srv.Shutdown})

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		slog.Error("http server failed", "error", err)
	}

	lm.Shutdown(context.Background())
	slog.Info("inventory stopped")
}

func seededMemoryRepo(ctx context.Context) inventory.Repository {
	repo := inventory.NewMemoryRepository()
	seed := []inventory.Product{
		{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), SKU: "prod-001", Stock: 1000},
		{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), SKU: "prod-002", Stock: 500},
		{ID: uuid.MustParse("00000000-0000-0000-0000-000000000003"), SKU: "prod-003", Stock: 25},
	}
	for _, p := range seed {
		if err := repo.UpsertProduct(ctx, p); err != nil {
			slog.Warn("failed to seed product", "sku", p.SKU, "error", err)
		}
	}
	return repo
}
