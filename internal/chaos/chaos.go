// Package chaos is an in-process fault injector used by payments and
// inventory to exercise the resilience fabric under injected latency and
// error rates. It is a test/dev-only seam: the core resilience packages
// never import it.
package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/meridian-commerce/backbone/internal/apperr"
)

// Config controls one service's fault injection.
type Config struct {
	Enabled   bool
	ErrorRate float64       // fraction in [0,1] of calls that fail
	Latency   time.Duration // extra latency injected before every call
}

// Injector applies Config.ErrorRate/Latency to calls passed through Run.
type Injector struct {
	cfg Config
}

// New constructs an Injector. A zero-value Config disables injection.
func New(cfg Config) *Injector {
	return &Injector{cfg: cfg}
}

// ErrInjected is returned when the injector decides to fail a call.
var ErrInjected = apperr.New(apperr.CategoryTransient, "chaos: injected failure")

// Run sleeps for the configured latency (if any) and then, with
// probability ErrorRate, returns ErrInjected instead of running fn.
// Disabled injectors always run fn immediately.
func (i *Injector) Run(ctx context.Context, fn func() error) error {
	if i == nil || !i.cfg.Enabled {
		return fn()
	}
	if i.cfg.Latency > 0 {
		select {
		case <-time.After(i.cfg.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if i.cfg.ErrorRate > 0 && rand.Float64() < i.cfg.ErrorRate {
		return ErrInjected
	}
	return fn()
}

// SetErrorRate updates the error rate at runtime, so chaos can be dialed
// up or down without a restart.
func (i *Injector) SetErrorRate(rate float64) {
	i.cfg.ErrorRate = rate
}

// SetEnabled toggles injection at runtime.
func (i *Injector) SetEnabled(enabled bool) {
	i.cfg.Enabled = enabled
}
