// Package retry implements the exponential-backoff-with-full-jitter
// retry engine: a strict retryable-error classifier, a shared
// per-request budget, and a retry-decision log.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/meridian-commerce/backbone/internal/apperr"
	"github.com/meridian-commerce/backbone/internal/clock"
	"github.com/meridian-commerce/backbone/internal/metrics"
)

// Budget is a shared, mutable retry budget threaded through a whole
// incoming request's call tree. A nil *Budget means unlimited (still
// bounded by Config.MaxAttempts).
type Budget struct {
	remaining int64
}

// NewBudget creates a Budget with n retries available.
func NewBudget(n int) *Budget {
	b := &Budget{}
	atomic.StoreInt64(&b.remaining, int64(n))
	return b
}

// take atomically decrements the budget and reports whether a retry may
// proceed.
func (b *Budget) take() bool {
	if b == nil {
		return true
	}
	return atomic.AddInt64(&b.remaining, -1) >= 0
}

// Remaining returns the current budget count (for observability/tests).
func (b *Budget) Remaining() int64 {
	if b == nil {
		return -1
	}
	return atomic.LoadInt64(&b.remaining)
}

type budgetKey struct{}

// ContextWithBudget threads a shared budget through a request's call
// tree, so every downstream call made on behalf of one incoming request
// draws from the same pool of retries.
func ContextWithBudget(ctx context.Context, b *Budget) context.Context {
	return context.WithValue(ctx, budgetKey{}, b)
}

// BudgetFromContext returns the budget attached with ContextWithBudget,
// or nil if none is present.
func BudgetFromContext(ctx context.Context) *Budget {
	b, _ := ctx.Value(budgetKey{}).(*Budget)
	return b
}

// Config controls one retry engine invocation.
type Config struct {
	Service         string // calling service, the "from" metric label
	Downstream      string // target downstream, the "to" metric label
	Op              string
	MaxAttempts     int     // default 3; attempt numbering starts at 0
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	JitterEnabled   bool
	RetryableStatus map[int]bool
	Budget          *Budget // optional shared budget; nil = unlimited (still MaxAttempts-bounded)

	Clock clock.Clock
	Rand  clock.Rand
}

// DefaultConfig returns the standard retry settings for service/op.
func DefaultConfig(service, downstream, op string) Config {
	return Config{
		Service:       service,
		Downstream:    downstream,
		Op:            op,
		MaxAttempts:   3,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		Multiplier:    2.0,
		JitterEnabled: true,
		RetryableStatus: map[int]bool{
			429: true, 500: true, 502: true, 503: true, 504: true,
		},
		Clock: clock.Real{},
		Rand:  clock.RealRand{},
	}
}

// Result carries an HTTP-like status code alongside a value, so the
// classifier can inspect it without the engine depending on net/http
// directly.
type Result[T any] struct {
	Value      T
	StatusCode int // 0 if not an HTTP-backed operation
}

// Op is the caller-supplied operation. A nil error with no recognizable
// status is treated as success.
type Op[T any] func(ctx context.Context, attempt int) (Result[T], error)

// Do executes op, retrying per cfg until it succeeds, exhausts
// MaxAttempts/Budget, or encounters a non-retryable error. It returns the
// first success or the last failure.
func Do[T any](ctx context.Context, cfg Config, op Op[T]) (T, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Rand == nil {
		cfg.Rand = clock.RealRand{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	var lastErr error
	var zero T

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		metrics.DownstreamRequestsTotal.WithLabelValues(cfg.Service, cfg.Downstream, cfg.Op).Inc()
		res, err := op(ctx, attempt)
		classErr := classify(err, res.StatusCode, cfg)
		if classErr == nil {
			return res.Value, nil
		}

		metrics.DownstreamErrorsTotal.WithLabelValues(cfg.Service, cfg.Downstream, cfg.Op, apperr.CategoryOf(classErr).String()).Inc()
		if !shouldRetry(classErr) {
			return zero, classErr
		}
		lastErr = classErr

		if attempt == cfg.MaxAttempts-1 {
			break
		}
		if !cfg.Budget.take() {
			slog.Info("retry budget exhausted", "service", cfg.Service, "op", cfg.Op, "attempt", attempt)
			return zero, lastErr
		}

		delay := backoffDelay(cfg, attempt)
		metrics.RetryAttemptsTotal.WithLabelValues(cfg.Service, cfg.Op).Inc()
		slog.Info("retrying after backoff",
			"service", cfg.Service, "op", cfg.Op,
			"attempt", attempt, "delay", delay, "error", lastErr)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-sleepChan(cfg.Clock, delay):
		}
	}

	return zero, lastErr
}

// sleepChan wraps clock.Sleep in a channel so Do can still select on
// ctx.Done() for cancellation even with a fake clock.
func sleepChan(c clock.Clock, d time.Duration) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		c.Sleep(d)
		close(ch)
	}()
	return ch
}

// backoffDelay computes delay(attempt) = min(base*multiplier^attempt, max),
// then applies full jitter: uniform in [0, delay] when enabled.
func backoffDelay(cfg Config, attempt int) time.Duration {
	mult := cfg.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	delay := float64(cfg.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= mult
	}
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if !cfg.JitterEnabled {
		return time.Duration(delay)
	}
	return time.Duration(cfg.Rand.Float64() * delay)
}

func isRetryableStatus(cfg Config, status int) bool {
	if status == 0 {
		return false
	}
	return cfg.RetryableStatus[status]
}

// shouldRetry reports whether classErr's category is retryable. Only
// apperr.CategoryTransient is eligible; validation and everything else
// surfaces immediately so retries never mask a 4xx.
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	return apperr.CategoryOf(err).IsRetryable()
}

// classify maps a raw error/status into the apperr taxonomy: transport
// failures and configured retryable statuses are Transient; everything
// else (including 4xx other than those explicitly configured) is
// Validation and therefore terminal.
func classify(err error, status int, cfg Config) error {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return apperr.Wrap(apperr.CategoryTransient, "transport error", err)
		}
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return apperr.Wrap(apperr.CategoryTransient, "downstream error", err)
	}
	if isRetryableStatus(cfg, status) {
		return apperr.New(apperr.CategoryTransient, httpStatusMessage(status))
	}
	if status >= 400 {
		return apperr.New(apperr.CategoryValidation, httpStatusMessage(status))
	}
	return nil
}

func httpStatusMessage(status int) string {
	return "downstream returned status " + strconv.Itoa(status)
}
