// Package breaker implements a three-state (closed/open/half-open)
// circuit breaker over a rolling failure-timestamp window, rather than
// the tumbling-interval counters common in off-the-shelf breakers: the
// trip condition is N failures within a sliding window, and half-open
// close requires an exact run of consecutive successes.
package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meridian-commerce/backbone/internal/apperr"
	"github.com/meridian-commerce/backbone/internal/clock"
	"github.com/meridian-commerce/backbone/internal/metrics"
)

// State is the breaker's current admission state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) gaugeValue() float64 {
	switch s {
	case StateOpen:
		return metrics.BreakerStateOpen
	case StateHalfOpen:
		return metrics.BreakerStateHalfOpen
	default:
		return metrics.BreakerStateClosed
	}
}

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config controls one downstream's breaker.
type Config struct {
	Downstream       string
	Window           time.Duration // rolling window over which failures are counted
	FailureThreshold int           // failures within Window that trip the breaker open
	OpenDuration     time.Duration // how long the breaker stays open before probing
	SuccessThreshold int           // consecutive half-open successes required to close

	Clock clock.Clock

	// Mirror, if set, publishes state transitions for cross-replica
	// visibility; purely advisory, never consulted for the admission
	// decision itself.
	Mirror Mirror
}

// Mirror is the optional cross-replica state-publishing seam, implemented
// over kvstore.Store by callers that want every replica's dashboard to
// agree on breaker state even though each replica's admission decision is
// always local.
type Mirror interface {
	Publish(ctx context.Context, downstream string, state State, openedAt time.Time)
}

// DefaultConfig returns the standard breaker settings for downstream.
func DefaultConfig(downstream string) Config {
	return Config{
		Downstream:       downstream,
		Window:           60 * time.Second,
		FailureThreshold: 5,
		OpenDuration:     30 * time.Second,
		SuccessThreshold: 2,
		Clock:            clock.Real{},
	}
}

// Breaker is a single downstream's circuit breaker. Safe for concurrent use.
type Breaker struct {
	cfg Config

	mu               sync.Mutex
	state            State
	failureTimes     []time.Time // rolling window, oldest first
	openedAt         time.Time
	halfOpenInFlight bool
	halfOpenSuccess  int
}

// New constructs a Breaker for one downstream and publishes its initial
// closed state to the metrics gauge.
func New(cfg Config) *Breaker {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	b := &Breaker{cfg: cfg, state: StateClosed}
	metrics.BreakerState.WithLabelValues(cfg.Downstream).Set(StateClosed.gaugeValue())
	return b
}

// ErrOpen is returned by Allow when the breaker is fast-failing.
var ErrOpen = apperr.New(apperr.CategoryBreakerOpen, "circuit breaker open")

// Allow reports whether a call may proceed right now. Exactly one
// concurrent call is admitted while half-open; others fail fast until
// the probe's outcome is known.
func (b *Breaker) Allow() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.cfg.Clock.Now()
	switch b.state {
	case StateClosed:
		return true, nil
	case StateOpen:
		if now.Sub(b.openedAt) >= b.cfg.OpenDuration {
			b.transition(StateHalfOpen)
			b.halfOpenInFlight = true
			return true, nil
		}
		return false, ErrOpen
	case StateHalfOpen:
		if b.halfOpenInFlight {
			return false, ErrOpen
		}
		b.halfOpenInFlight = true
		return true, nil
	default:
		return false, ErrOpen
	}
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.halfOpenInFlight = false
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.cfg.SuccessThreshold {
			b.failureTimes = nil
			b.transition(StateClosed)
		}
	case StateClosed:
		// Old failures age out naturally via the rolling window on the
		// next RecordFailure; nothing to do on success.
	}
}

// RecordFailure reports a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.cfg.Clock.Now()

	if b.state == StateHalfOpen {
		b.halfOpenInFlight = false
		b.halfOpenSuccess = 0
		b.failureTimes = nil
		b.transition(StateOpen)
		return
	}

	b.failureTimes = append(b.failureTimes, now)
	b.failureTimes = pruneWindow(b.failureTimes, now, b.cfg.Window)

	if b.state == StateClosed && len(b.failureTimes) >= b.cfg.FailureThreshold {
		b.transition(StateOpen)
	}
}

// pruneWindow drops timestamps older than window relative to now.
func pruneWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if to == StateOpen {
		b.openedAt = b.cfg.Clock.Now()
		metrics.BreakerOpenTotal.WithLabelValues(b.cfg.Downstream).Inc()
	}
	metrics.BreakerState.WithLabelValues(b.cfg.Downstream).Set(to.gaugeValue())
	slog.Info("breaker state transition",
		"downstream", b.cfg.Downstream, "from", from.String(), "to", to.String())

	if b.cfg.Mirror != nil {
		openedAt := b.openedAt
		go b.cfg.Mirror.Publish(context.Background(), b.cfg.Downstream, to, openedAt)
	}
}

// State returns the current state, for health/status endpoints.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do is a convenience wrapper: checks Allow, runs fn, and records the
// outcome. fn's returned error, if any, is treated as a failure.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	ok, err := b.Allow()
	if !ok {
		return zero, err
	}
	v, err := fn()
	if err != nil {
		b.RecordFailure()
		return zero, err
	}
	b.RecordSuccess()
	return v, nil
}
