// The gateway is the backbone's edge: it shields the order orchestrator
// behind load shedding, deadline stamping, and idempotency, fans out to
// payments and inventory through the full resilience chain, and runs the
// singleton outbox publisher for the orders aggregate store.
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
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridian-commerce/backbone/internal/clock"
	"github.com/meridian-commerce/backbone/internal/config"
	"github.com/meridian-commerce/backbone/internal/downstream"
	"github.com/meridian-commerce/backbone/internal/health"
	"github.com/meridian-commerce/backbone/internal/httpmw"
	"github.com/meridian-commerce/backbone/internal/kvstore"
	"github.com/meridian-commerce/backbone/internal/lifecycle"
	"github.com/meridian-commerce/backbone/internal/orders"
	"github.com/meridian-commerce/backbone/internal/outbox"
	"github.com/meridian-commerce/backbone/internal/resilience/breaker"
	"github.com/meridian-commerce/backbone/internal/resilience/bulkhead"
	"github.com/meridian-commerce/backbone/internal/resilience/deadline"
	"github.com/meridian-commerce/backbone/internal/resilience/idempotency"
	"github.com/meridian-commerce/backbone/internal/resilience/loadshed"
	"github.com/meridian-commerce/backbone/internal/resilience/retry"
	"github.com/meridian-commerce/backbone/internal/streambus"
)

const service = "gateway"

func main() {
	cfg := mustLoadConfig()
	setupLogging(cfg.DevMode)
	slog.Info("starting gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lm := lifecycle.NewManager()
	checker := health.NewChecker()

	var ordersRepo orders.Repository
	var outboxRepo outbox.Repository
	var kv kvstore.Store
	if cfg.DevMode {
		// Dev mode runs self-contained: in-memory aggregate store and KV,
		// no external infrastructure required.
		ordersRepo = orders.NewMemoryRepository()
		outboxRepo = outbox.NewMemoryRepository()
		kv = kvstore.NewMemoryStore()
		slog.Info("using in-memory stores")
	} else {
		pool := mustConnectPostgres(ctx, cfg)
		lm.Register(lifecycle.Hook{Name: "postgres", Phase: lifecycle.PhaseDatabase, Shutdown: func(context.Context) error {
			pool.Close()
			return nil
		}})
		checker.AddReadiness(health.PingCheck("postgres", func() error { return pool.Ping(ctx) }))

		redisKV, err := kvstore.NewRedisStore(ctx, cfg.Redis.URL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		lm.Register(lifecycle.Hook{Name: "redis", Phase: lifecycle.PhaseDatabase, Shutdown: func(context.Context) error {
			return redisKV.Close()
		}})
		checker.AddReadiness(health.PingCheck("redis", func() error { return redisKV.Ping(ctx) }))

		ordersRepo = orders.NewPostgresRepository(pool)
		outboxRepo = outbox.NewPostgresRepository(pool)
		kv = redisKV
	}

	producer, closeProducer := mustStreamProducer(ctx, cfg, kv, checker)
	lm.Register(lifecycle.Hook{Name: "stream-producer", Phase: lifecycle.PhaseDatabase, Shutdown: func(context.Context) error {
		return closeProducer()
	}})

	publisher := outbox.NewPublisher(service, outboxRepo,
		streambus.NewSink(producer, streamTarget(cfg)),
		outbox.PublisherConfig{
			BatchSize:        cfg.Outbox.BatchSize,
			PollInterval:     cfg.Outbox.PollInterval,
			EmptyBackoff:     cfg.Outbox.EmptyBackoff,
			ErrorBackoff:     cfg.Outbox.ErrorBackoff,
			ClaimTimeout:     cfg.Outbox.ClaimTimeout,
			RecoveryInterval: cfg.Outbox.RecoveryInterval,
		})
	pubCtx, pubCancel := context.WithCancel(ctx)
	pubDone := make(chan struct{})
	go func() {
		defer close(pubDone)
		publisher.Run(pubCtx)
	}()
	lm.Register(lifecycle.Hook{Name: "outbox-publisher", Phase: lifecycle.PhaseWorkers, Shutdown: func(sctx context.Context) error {
		pubCancel()
		select {
		case <-pubDone:
			return nil
		case <-sctx.Done():
			return sctx.Err()
		}
	}})

	mirror := breaker.NewKVMirror(kv, hostname())
	paymentsClient := newDownstream(cfg, "payments", cfg.Gateway.PaymentsURL, mirror)
	inventoryClient := newDownstream(cfg, "inventory", cfg.Gateway.InventoryURL, mirror)

	ordersSvc := orders.NewService(ordersRepo, outboxRepo, paymentsClient, inventoryClient)
	idemp := idempotency.New(idempotency.Config{
		Service:  service,
		CacheTTL: cfg.Idempotency.CacheTTL,
		LockTTL:  cfg.Idempotency.LockTTL,
	}, kv)
	ordersHandler := orders.NewHandler(ordersSvc, idemp, paymentsClient, inventoryClient)

	shedder := loadshed.New(loadshed.Config{
		Service:     service,
		MaxInflight: cfg.LoadShed.MaxInflight,
		RetryHintS:  int(cfg.LoadShed.RetryHint / time.Second),
	})

	r := chi.NewRouter()
	if len(cfg.HTTP.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.HTTP.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			AllowedHeaders: []string{"Content-Type", "Idempotency-Key", "X-Correlation-ID", "X-Request-Deadline"},
		}))
	}
	r.Use(httpmw.Correlation)
	r.Use(httpmw.Metrics(service, httpmw.RoutePattern))
	r.Use(loadshed.Middleware(shedder))
	r.Use(httpmw.Deadline(deadlineConfig(cfg), clock.Real{}))
	r.Use(httpmw.RetryBudget(cfg.Retry.BudgetPerRequest))

	r.Post("/orders", ordersHandler.CreateOrder)
	r.Get("/orders", ordersHandler.ListOrders)
	r.Get("/orders/{id}", ordersHandler.GetOrder)
	r.Get("/status/breakers", ordersHandler.StatusBreakers)
	r.Get("/health", checker.HandleLive)
	r.Get("/ready", checker.HandleReady)
	r.Handle("/metrics", promhttp.Handler())

	runServer(ctx, lm, cfg.HTTP.Port, r)
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load(os.Getenv("BACKBONE_CONFIG"))
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(dev bool) {
	level := slog.LevelInfo
	if dev {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if dev {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func mustConnectPostgres(ctx context.Context, cfg *config.Config) *pgxpool.Pool {
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
	slog.Info("connected to postgres")
	return pool
}

// streamTarget is the stream/subject the outbox sink publishes to: the
// literal stream key for Redis Streams, a dot-separated subject for NATS.
func streamTarget(cfg *config.Config) string {
	if cfg.Streams.Backend == "nats" {
		return streambus.Subject(cfg.Streams.StreamName)
	}
	return cfg.Streams.StreamName
}

func mustStreamProducer(ctx context.Context, cfg *config.Config, kv kvstore.Store, checker *health.Checker) (streambus.Producer, func() error) {
	switch cfg.Streams.Backend {
	case "nats":
		bus, err := connectNATS(ctx, cfg)
		if err != nil {
			slog.Error("failed to set up nats stream backend", "error", err)
			os.Exit(1)
		}
		checker.AddReadiness(health.PingCheck("nats", func() error {
			if !bus.Connected() {
				return fmt.Errorf("nats disconnected")
			}
			return nil
		}))
		return streambus.NewNATSProducer(bus.JetStream()), bus.Close
	default:
		return streambus.NewKVProducer(kv, cfg.Streams.StreamName), func() error { return nil }
	}
}

// connectNATS joins the configured cluster, or starts an embedded server
// when no URL is set (single-process dev).
func connectNATS(ctx context.Context, cfg *config.Config) (*streambus.NATSBus, error) {
	busCfg := streambus.DefaultEmbeddedConfig("./data/nats")
	if cfg.Streams.NATSURL != "" {
		return streambus.ConnectNATS(ctx, cfg.Streams.NATSURL, busCfg)
	}
	return streambus.NewEmbeddedNATS(ctx, busCfg)
}

func newDownstream(cfg *config.Config, name, baseURL string, mirror breaker.Mirror) *downstream.Client {
	brCfg := breaker.Config{
		Downstream:       name,
		Window:           cfg.Breaker.Window,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		OpenDuration:     cfg.Breaker.OpenDuration,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Clock:            clock.Real{},
		Mirror:           mirror,
	}
	retryCfg := retry.Config{
		Service:       service,
		Downstream:    name,
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     cfg.Retry.BaseDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		Multiplier:    cfg.Retry.Multiplier,
		JitterEnabled: cfg.Retry.JitterEnabled,
		RetryableStatus: func() map[int]bool {
			m := make(map[int]bool, len(cfg.Retry.RetryableStatus))
			for _, s := range cfg.Retry.RetryableStatus {
				m[s] = true
			}
			return m
		}(),
	}
	return downstream.New(downstream.Config{
		Downstream:  name,
		BaseURL:     baseURL,
		Bulkhead:    bulkhead.Config{Downstream: name, Capacity: cfg.Bulkhead.Capacity, MaxWait: cfg.Bulkhead.MaxWait},
		Breaker:     brCfg,
		Retry:       retryCfg,
		Deadline:    deadlineConfig(cfg),
		Correlation: httpmw.CorrelationID,
	})
}

func deadlineConfig(cfg *config.Config) deadline.Config {
	return deadline.Config{
		Default:        cfg.Deadline.Default,
		ConnectTimeout: cfg.Deadline.ConnectTimeout,
		ReadTimeout:    cfg.Deadline.ReadTimeout,
		WriteTimeout:   cfg.Deadline.WriteTimeout,
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "gateway"
	}
	return h
}

func runServer(ctx context.Context, lm *lifecycle.Manager, port int, handler http.Handler) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
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
	slog.Info("gateway stopped")
}
