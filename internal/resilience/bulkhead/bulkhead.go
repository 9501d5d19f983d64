// Package bulkhead implements bounded-concurrency admission with a
// bounded admission wait: a saturated downstream rejects with
// CategoryBulkheadFull after max_wait instead of queueing callers.
package bulkhead

import (
	"context"
	"time"

	"github.com/meridian-commerce/backbone/internal/apperr"
	"github.com/meridian-commerce/backbone/internal/metrics"
)

// Config controls one downstream's bulkhead.
type Config struct {
	Downstream string
	Capacity   int           // max concurrent in-flight calls
	MaxWait    time.Duration // max time to wait for a free slot before rejecting
}

// DefaultConfig returns the standard bulkhead settings for downstream.
func DefaultConfig(downstream string) Config {
	return Config{
		Downstream: downstream,
		Capacity:   20,
		MaxWait:    1 * time.Second,
	}
}

// Bulkhead bounds concurrent access to one downstream via a buffered
// channel used as a counting semaphore.
type Bulkhead struct {
	cfg Config
	sem chan struct{}
}

// New constructs a Bulkhead for one downstream.
func New(cfg Config) *Bulkhead {
	return &Bulkhead{
		cfg: cfg,
		sem: make(chan struct{}, cfg.Capacity),
	}
}

// ErrFull is returned when no slot became free within MaxWait.
var ErrFull = apperr.New(apperr.CategoryBulkheadFull, "bulkhead saturated")

// Acquire blocks until a slot is free, MaxWait elapses, or ctx is done,
// whichever comes first. The returned release func must be called exactly
// once when the caller is done, even on error paths upstream of Acquire's
// return (it is only non-nil on success).
func (b *Bulkhead) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case b.sem <- struct{}{}:
		return b.releaseFunc(), nil
	default:
	}

	timer := time.NewTimer(b.cfg.MaxWait)
	defer timer.Stop()

	select {
	case b.sem <- struct{}{}:
		return b.releaseFunc(), nil
	case <-timer.C:
		metrics.BulkheadRejectionsTotal.WithLabelValues(b.cfg.Downstream).Inc()
		return nil, ErrFull
	case <-ctx.Done():
		metrics.BulkheadRejectionsTotal.WithLabelValues(b.cfg.Downstream).Inc()
		return nil, ctx.Err()
	}
}

func (b *Bulkhead) releaseFunc() func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		<-b.sem
	}
}

// InFlight returns the current number of occupied slots, for diagnostics.
func (b *Bulkhead) InFlight() int {
	return len(b.sem)
}

// Capacity returns the configured slot count, for diagnostics.
func (b *Bulkhead) Capacity() int {
	return b.cfg.Capacity
}

// Do acquires a slot, runs fn, and always releases before returning.
func Do[T any](ctx context.Context, b *Bulkhead, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	release, err := b.Acquire(ctx)
	if err != nil {
		return zero, err
	}
	defer release()
	return fn(ctx)
}
