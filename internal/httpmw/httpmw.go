// Package httpmw provides the edge middleware chain (correlation id
// propagation, deadline stamping, request metrics, per-request retry
// budgets) plus small JSON response helpers shared by every service's
// HTTP layer.
package httpmw

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridian-commerce/backbone/internal/apperr"
	"github.com/meridian-commerce/backbone/internal/clock"
	"github.com/meridian-commerce/backbone/internal/metrics"
	"github.com/meridian-commerce/backbone/internal/resilience/deadline"
	"github.com/meridian-commerce/backbone/internal/resilience/retry"
)

// CorrelationHeader is the wire header carrying the correlation id.
const CorrelationHeader = "X-Correlation-ID"

type correlationKey struct{}

// Correlation assigns a correlation id from the inbound header, or
// generates one if absent, and stamps it on the response too.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, id)
		ctx := context.WithValue(r.Context(), correlationKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CorrelationID reads the correlation id stashed by Correlation, or ""
// if none is present.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Deadline reads (or assigns, at the edge) an absolute request deadline
// and attaches it to the request context.
func Deadline(cfg deadline.Config, c clock.Clock) func(http.Handler) http.Handler {
	if c == nil {
		c = clock.Real{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := deadline.ReadHeader(r.Context(), c, r.Header, cfg)
			defer cancel()
			// A request arriving past its deadline is answered at once,
			// before any further downstream work.
			if err := deadline.CheckNotExpired(ctx, c); err != nil {
				WriteError(w, apperr.CategoryOf(err).HTTPStatus(), err.Error(), 0)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RetryBudget attaches a fresh shared retry budget of n to every inbound
// request, so all downstream fan-out made on its behalf draws retries
// from one pool.
func RetryBudget(n int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := retry.ContextWithBudget(r.Context(), retry.NewBudget(n))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RoutePattern labels a request by its chi route pattern rather than the
// raw URL path, keeping metric cardinality bounded. Falls back to the
// path for unrouted requests.
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// Metrics records http_requests_total and request_duration_seconds for
// every request, labeled by route pattern (not raw path, to keep
// cardinality bounded).
func Metrics(service string, routeLabel func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(service, route, r.Method, statusBucket(rec.status)).Inc()
			metrics.RequestDuration.WithLabelValues(service, route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

func statusBucket(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

// WriteError writes a standard error envelope, setting Retry-After when
// hint > 0.
func WriteError(w http.ResponseWriter, status int, message string, retryHintSeconds int) {
	if retryHintSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryHintSeconds))
	}
	WriteJSON(w, status, ErrorBody{Error: message, RetryAfter: retryHintSeconds})
}

