// Package deadline propagates an absolute wall-clock deadline across
// service hops, alongside the usual context.Context cancellation, so no
// hop can spend time the overall request no longer has.
package deadline

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/meridian-commerce/backbone/internal/apperr"
	"github.com/meridian-commerce/backbone/internal/clock"
)

// Header is the wire representation of the absolute deadline: a Unix
// timestamp in seconds, fractional part allowed.
const Header = "X-Request-Deadline"

type ctxKey struct{}

// Config holds default/per-hop timeout settings.
type Config struct {
	Default        time.Duration // deadline assigned to a request with none set, at the edge
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DefaultConfig returns the standard deadline/timeout settings.
func DefaultConfig() Config {
	return Config{
		Default:        25 * time.Second,
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

// WithDeadline attaches an absolute deadline to ctx, deriving a standard
// context.Context deadline from it so cancellation propagates normally.
func WithDeadline(ctx context.Context, c clock.Clock, at time.Time) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, ctxKey{}, at)
	return context.WithDeadline(ctx, at)
}

// FromContext returns the absolute deadline previously attached with
// WithDeadline, and whether one was present.
func FromContext(ctx context.Context) (time.Time, bool) {
	v := ctx.Value(ctxKey{})
	if v == nil {
		return time.Time{}, false
	}
	t, ok := v.(time.Time)
	return t, ok
}

// Remaining returns how much time is left before the deadline attached to
// ctx, or ok=false if none is attached. A non-positive result means the
// deadline has already passed.
func Remaining(ctx context.Context, c clock.Clock) (time.Duration, bool) {
	at, ok := FromContext(ctx)
	if !ok {
		return 0, false
	}
	return at.Sub(c.Now()), true
}

// ErrExpired is returned when a deadline has already passed before a call
// can even be attempted.
var ErrExpired = apperr.New(apperr.CategoryDeadlineExceeded, "request deadline already exceeded")

// CheckNotExpired returns ErrExpired if ctx's attached deadline has
// already passed.
func CheckNotExpired(ctx context.Context, c clock.Clock) error {
	remaining, ok := Remaining(ctx, c)
	if ok && remaining <= 0 {
		return ErrExpired
	}
	return nil
}

// HopTimeout bounds ctx to the lesser of the remaining absolute deadline
// and hopBudget, so no single hop can consume the entire request's
// remaining time even when the overall deadline is generous.
func HopTimeout(ctx context.Context, c clock.Clock, hopBudget time.Duration) (context.Context, context.CancelFunc) {
	budget := hopBudget
	if remaining, ok := Remaining(ctx, c); ok && remaining < budget {
		budget = remaining
	}
	return context.WithDeadline(ctx, c.Now().Add(budget))
}

// WriteHeader serializes ctx's absolute deadline onto an outbound request,
// the wire form other services read back with ReadHeader.
func WriteHeader(ctx context.Context, h http.Header) {
	if at, ok := FromContext(ctx); ok {
		secs := float64(at.UnixNano()) / float64(time.Second)
		h.Set(Header, strconv.FormatFloat(secs, 'f', 3, 64))
	}
}

// ReadHeader parses an inbound X-Request-Deadline header and attaches it
// to ctx. If the header is absent or malformed, it assigns Default
// relative to c.Now(), the edge-of-mesh behavior.
func ReadHeader(ctx context.Context, c clock.Clock, h http.Header, cfg Config) (context.Context, context.CancelFunc) {
	raw := h.Get(Header)
	if raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
			at := time.Unix(0, int64(secs*float64(time.Second)))
			return WithDeadline(ctx, c, at)
		}
	}
	return WithDeadline(ctx, c, c.Now().Add(cfg.Default))
}
