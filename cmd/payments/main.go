// The payments service is an internal collaborator: it charges orders on
// behalf of the gateway's fan-out. It carries the same ambient stack as
// the edge (correlation, deadlines, metrics, health) plus the chaos
// injector used to exercise the gateway's resilience fabric.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridian-commerce/backbone/internal/chaos"
	"github.com/meridian-commerce/backbone/internal/clock"
	"github.com/meridian-commerce/backbone/internal/config"
	"github.com/meridian-commerce/backbone/internal/health"
	"github.com/meridian-commerce/backbone/internal/httpmw"
	"github.com/meridian-commerce/backbone/internal/lifecycle"
	"github.com/meridian-commerce/backbone/internal/payments"
	"github.com/meridian-commerce/backbone/internal/resilience/deadline"
)

const service = "payments"

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
	slog.Info("starting payments", "chaos_enabled", cfg.Chaos.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	injector := chaos.New(chaos.Config{
		Enabled:   cfg.Chaos.Enabled,
		ErrorRate: cfg.Chaos.ErrorRate,
		Latency:   cfg.Chaos.Latency,
	})
	paymentsHandler := payments.NewHandler(payments.NewService(injector))

	checker := health.NewChecker()
	lm := lifecycle.NewManager()

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

	r.Post("/payments/charge", paymentsHandler.Charge)
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
	slog.Info("payments stopped")
}
