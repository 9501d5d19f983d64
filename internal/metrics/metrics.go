// Package metrics defines the Prometheus instrumentation surface shared by
// every service in the backbone. Metric names and labels are part of the
// operational interface; dashboards and the chaos analysis scripts key on
// them, so they change only deliberately.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "backbone"

var (
	// HTTPRequestsTotal counts every edge/internal HTTP request.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests handled.",
		},
		[]string{"service", "route", "method", "status"},
	)

	// RequestDuration observes end-to-end handler latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request handling duration.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "route", "method"},
	)

	// DownstreamRequestsTotal counts calls made through the resilience fabric.
	DownstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downstream_requests_total",
			Help:      "Total downstream calls attempted.",
		},
		[]string{"from", "to", "op"},
	)

	// DownstreamErrorsTotal counts downstream call failures by classified type.
	DownstreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downstream_errors_total",
			Help:      "Total downstream call failures.",
		},
		[]string{"from", "to", "op", "error_type"},
	)

	// RetryAttemptsTotal counts each scheduled retry (not the first attempt).
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total retry attempts scheduled by the retry engine.",
		},
		[]string{"service", "op"},
	)

	// BreakerState publishes the current breaker state per downstream:
	// 0=closed, 1=open, 2=half_open.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0=closed,1=open,2=half_open).",
		},
		[]string{"downstream"},
	)

	// BreakerOpenTotal counts each trip into the open state.
	BreakerOpenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_open_total",
			Help:      "Total times the breaker tripped open.",
		},
		[]string{"downstream"},
	)

	// BulkheadRejectionsTotal counts admission rejections per downstream.
	BulkheadRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulkhead_rejections_total",
			Help:      "Total bulkhead admission rejections.",
		},
		[]string{"downstream"},
	)

	// IdempotencyHitsTotal counts replayed idempotent responses.
	IdempotencyHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_hits_total",
			Help:      "Total idempotency cache hits (replayed responses).",
		},
		[]string{"service"},
	)

	// IdempotencyConflictsTotal counts in-flight duplicate rejections.
	IdempotencyConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_conflicts_total",
			Help:      "Total idempotency single-flight conflicts.",
		},
		[]string{"service"},
	)

	// LoadShedTotal counts edge admission rejections due to inflight overload.
	LoadShedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_shed_total",
			Help:      "Total requests shed due to inflight overload.",
		},
		[]string{"service"},
	)

	// OutboxPublishedTotal counts outbox events successfully delivered.
	OutboxPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Total outbox events published downstream.",
		},
		[]string{"service", "event_type"},
	)

	// OutboxPending publishes the current count of unpublished outbox rows.
	OutboxPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending",
			Help:      "Current count of unpublished outbox events.",
		},
		[]string{"service"},
	)

	// DuplicateWriteTotal counts writes collapsed by a uniqueness constraint
	// or consumer-side dedup.
	DuplicateWriteTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_write_total",
			Help:      "Total writes collapsed as duplicates.",
		},
		[]string{"service", "op"},
	)

	// OrdersCreatedTotal counts orders successfully committed (any status).
	OrdersCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Total orders created.",
		},
	)
)

// Breaker state gauge values, kept in one place so callers never hardcode
// the encoding.
const (
	BreakerStateClosed   = 0
	BreakerStateOpen     = 1
	BreakerStateHalfOpen = 2
)
