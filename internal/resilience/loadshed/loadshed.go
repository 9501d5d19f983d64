// Package loadshed implements edge admission control via a mutex-guarded
// inflight counter: a whole-service admission gate with an immediate
// reject-over-threshold decision (no waiting, unlike the bulkhead).
package loadshed

import (
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/meridian-commerce/backbone/internal/apperr"
	"github.com/meridian-commerce/backbone/internal/metrics"
)

// Config controls one service's load shedding gate.
type Config struct {
	Service     string
	MaxInflight int
	RetryHintS  int // seconds, surfaced to the client via Retry-After

	// RatePerSec, when > 0, adds a token-bucket gate ahead of the
	// inflight gate so a short arrival burst is smoothed instead of
	// counting wholly against MaxInflight. Burst defaults to
	// MaxInflight when zero.
	RatePerSec float64
	Burst      int
}

// DefaultConfig returns the standard load-shed settings for service.
func DefaultConfig(service string) Config {
	return Config{Service: service, MaxInflight: 256, RetryHintS: 5}
}

// Shedder tracks in-flight request count for one service.
type Shedder struct {
	cfg     Config
	limiter *rate.Limiter

	mu       sync.Mutex
	inflight int
}

// New constructs a Shedder.
func New(cfg Config) *Shedder {
	s := &Shedder{cfg: cfg}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.MaxInflight
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return s
}

// ErrShed is a shed-category error carrying a 5-second retry hint. Admit
// does not return it: it builds its own shed error carrying the
// configured RetryHintS.
var ErrShed = apperr.New(apperr.CategoryShed, "service overloaded").WithRetryHint(5)

// Admit reserves an inflight slot immediately, or rejects if the service
// is already at capacity. The returned release func must be called
// exactly once.
func (s *Shedder) Admit() (release func(), err error) {
	if s.limiter != nil && !s.limiter.Allow() {
		metrics.LoadShedTotal.WithLabelValues(s.cfg.Service).Inc()
		return nil, apperr.New(apperr.CategoryShed, "request rate exceeded").WithRetryHint(s.cfg.RetryHintS)
	}

	s.mu.Lock()
	if s.inflight >= s.cfg.MaxInflight {
		s.mu.Unlock()
		metrics.LoadShedTotal.WithLabelValues(s.cfg.Service).Inc()
		return nil, apperr.New(apperr.CategoryShed, "service overloaded").WithRetryHint(s.cfg.RetryHintS)
	}
	s.inflight++
	s.mu.Unlock()

	released := false
	return func() {
		if released {
			return
		}
		released = true
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}, nil
}

// Inflight returns the current in-flight count.
func (s *Shedder) Inflight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

// skipPaths are never subject to load shedding, so operators can always
// reach health/readiness/metrics even while the service sheds traffic.
var skipPaths = map[string]bool{
	"/health":  true,
	"/live":    true,
	"/ready":   true,
	"/metrics": true,
	"/status":  true,
}

// Middleware returns a chi-compatible HTTP middleware enforcing s's
// admission gate on every route except health/metrics endpoints.
func Middleware(s *Shedder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			release, err := s.Admit()
			if err != nil {
				w.Header().Set("Retry-After", strconv.Itoa(s.cfg.RetryHintS))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(apperr.CategoryOf(err).HTTPStatus())
				_, _ = w.Write([]byte(`{"error":"service overloaded"}`))
				return
			}
			defer release()
			next.ServeHTTP(w, r)
		})
	}
}

