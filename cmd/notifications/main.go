// The notifications service is the consuming end of the backbone: it
// drains the notifications stream through a consumer group, applies the
// idempotent-consumer contract, and accepts the same events over
// POST /events for producers that deliver via HTTP.
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

	"github.com/meridian-commerce/backbone/internal/clock"
	"github.com/meridian-commerce/backbone/internal/config"
	"github.com/meridian-commerce/backbone/internal/health"
	"github.com/meridian-commerce/backbone/internal/httpmw"
	"github.com/meridian-commerce/backbone/internal/kvstore"
	"github.com/meridian-commerce/backbone/internal/lifecycle"
	"github.com/meridian-commerce/backbone/internal/notifications"
	"github.com/meridian-commerce/backbone/internal/resilience/deadline"
	"github.com/meridian-commerce/backbone/internal/streambus"
)

const service = "notifications"

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
	var logHandler slog.Handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	if cfg.DevMode {
		logHandler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(logHandler))
	slog.Info("starting notifications", "stream_backend", cfg.Streams.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checker := health.NewChecker()
	lm := lifecycle.NewManager()

	svc := notifications.NewService(notifications.DefaultConfig())
	handler := notifications.NewHandler(svc)

	consumer, closeTransport := mustStreamConsumer(ctx, cfg, checker)

	consumeCtx, consumeCancel := context.WithCancel(ctx)
	consumeDone := make(chan struct{})
	go func() {
		defer close(consumeDone)
		if err := notifications.RunConsumer(consumeCtx, consumer, svc); err != nil && consumeCtx.Err() == nil {
			slog.Error("stream consumer stopped unexpectedly", "error", err)
		}
	}()
	lm.Register(lifecycle.Hook{Name: "stream-consumer", Phase: lifecycle.PhaseWorkers, Shutdown: func(sctx context.Context) error {
		consumeCancel()
		select {
		case <-consumeDone:
			return nil
		case <-sctx.Done():
			return sctx.Err()
		}
	}})
	lm.Register(lifecycle.Hook{Name: "stream-transport", Phase: lifecycle.PhaseDatabase, Shutdown: func(context.Context) error {
		return closeTransport()
	}})

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

	r.Post("/events", handler.Ingest)
	r.Get("/events/recent", handler.Recent)
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
	slog.Info("notifications stopped")
}

func mustStreamConsumer(ctx context.Context, cfg *config.Config, checker *health.Checker) (streambus.Consumer, func() error) {
	switch cfg.Streams.Backend {
	case "nats":
		busCfg := streambus.DefaultEmbeddedConfig("./data/nats-notifications")
		var bus *streambus.NATSBus
		var err error
		if cfg.Streams.NATSURL != "" {
			bus, err = streambus.ConnectNATS(ctx, cfg.Streams.NATSURL, busCfg)
		} else {
			bus, err = streambus.NewEmbeddedNATS(ctx, busCfg)
		}
		if err != nil {
			slog.Error("failed to set up nats stream backend", "error", err)
			os.Exit(1)
		}
		durable, err := bus.Consumer(ctx, cfg.Streams.ConsumerGroup)
		if err != nil {
			slog.Error("failed to ensure durable consumer", "error", err)
			os.Exit(1)
		}
		checker.AddReadiness(health.PingCheck("nats", func() error {
			if !bus.Connected() {
				return fmt.Errorf("nats disconnected")
			}
			return nil
		}))
		sCfg := streambus.DefaultConfig(cfg.Streams.StreamName, cfg.Streams.ConsumerGroup, cfg.Streams.ConsumerName)
		return streambus.NewNATSConsumer(durable, sCfg.DedupCapacity, sCfg.DedupTTL), bus.Close
	default:
		kv, err := kvstore.NewRedisStore(ctx, cfg.Redis.URL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		checker.AddReadiness(health.PingCheck("redis", func() error { return kv.Ping(ctx) }))
		consumer, err := streambus.NewKVConsumer(ctx, kv,
			streambus.DefaultConfig(cfg.Streams.StreamName, cfg.Streams.ConsumerGroup, cfg.Streams.ConsumerName))
		if err != nil {
			slog.Error("failed to create stream consumer", "error", err)
			os.Exit(1)
		}
		return consumer, kv.Close
	}
}
