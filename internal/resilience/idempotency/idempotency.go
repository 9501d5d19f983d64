// Package idempotency implements request deduplication over the shared
// KV contract: a cached-response lookup plus a single-flight lock so
// concurrent duplicate requests don't both execute the underlying
// operation. Fails open (treats the KV store as unavailable the same as
// a cache miss), since losing dedup is preferable to the whole write
// path going down with Redis — the aggregate store's unique index is the
// durable last line of defense.
package idempotency

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-commerce/backbone/internal/apperr"
	"github.com/meridian-commerce/backbone/internal/kvstore"
	"github.com/meridian-commerce/backbone/internal/metrics"
)

// CachedResponse is the snapshot stored for a completed idempotent
// request, replayed verbatim to subsequent callers using the same key.
type CachedResponse struct {
	StatusCode int               `json:"status_code"`
	Body       []byte            `json:"body"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// Config controls one service's idempotency filter.
type Config struct {
	Service  string
	CacheTTL time.Duration
	LockTTL  time.Duration
}

// DefaultConfig returns the standard idempotency settings for service.
func DefaultConfig(service string) Config {
	return Config{Service: service, CacheTTL: 24 * time.Hour, LockTTL: 30 * time.Second}
}

// Filter mediates idempotent execution of an operation keyed by a
// caller-supplied idempotency key (max 256 bytes).
type Filter struct {
	cfg   Config
	store kvstore.Store
}

// New constructs a Filter over store.
func New(cfg Config, store kvstore.Store) *Filter {
	return &Filter{cfg: cfg, store: store}
}

// ErrInFlight is returned when another request with the same key is
// already being processed.
var ErrInFlight = apperr.New(apperr.CategoryIdempotencyConflict, "a request with this idempotency key is already in flight")

// ErrKeyTooLong is returned for keys exceeding the 256-byte limit.
var ErrKeyTooLong = apperr.New(apperr.CategoryValidation, "idempotency key exceeds 256 bytes")

func cacheKey(service, key string) string { return "idem:resp:" + service + ":" + key }
func lockKey(service, key string) string  { return "idem:lock:" + service + ":" + key }

// Execute runs fn exactly once per idempotency key: a cache hit replays
// the stored response, a lock conflict returns ErrInFlight, and a fresh
// key runs fn and caches its result. If the KV store is unreachable, it
// fails open and runs fn directly (logged, not fatal).
func (f *Filter) Execute(ctx context.Context, key string, fn func(ctx context.Context) (CachedResponse, error)) (CachedResponse, error) {
	if len(key) > 256 {
		return CachedResponse{}, ErrKeyTooLong
	}

	cKey := cacheKey(f.cfg.Service, key)
	if cached, ok, err := f.lookup(ctx, cKey); err != nil {
		slog.Warn("idempotency cache lookup failed, failing open", "service", f.cfg.Service, "error", err)
	} else if ok {
		metrics.IdempotencyHitsTotal.WithLabelValues(f.cfg.Service).Inc()
		return cached, nil
	}

	lKey := lockKey(f.cfg.Service, key)
	token := uuid.NewString()
	acquired, err := f.store.SetNX(ctx, lKey, token, f.cfg.LockTTL)
	if err != nil {
		slog.Warn("idempotency lock acquisition failed, failing open", "service", f.cfg.Service, "error", err)
		return fn(ctx)
	}
	if !acquired {
		metrics.IdempotencyConflictsTotal.WithLabelValues(f.cfg.Service).Inc()
		return CachedResponse{}, ErrInFlight
	}
	defer func() {
		if derr := f.store.Delete(context.Background(), lKey, token); derr != nil {
			slog.Warn("idempotency lock release failed", "service", f.cfg.Service, "error", derr)
		}
	}()

	// Re-check the cache now that we hold the lock: another request may
	// have completed and written the cache between our first lookup and
	// acquiring the lock.
	if cached, ok, err := f.lookup(ctx, cKey); err == nil && ok {
		metrics.IdempotencyHitsTotal.WithLabelValues(f.cfg.Service).Inc()
		return cached, nil
	}

	resp, err := fn(ctx)
	if err != nil {
		return resp, err
	}
	// Only a 2xx outcome is cached; anything else releases the lock
	// without a snapshot so the client may legitimately retry.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, nil
	}

	if encoded, merr := json.Marshal(resp); merr == nil {
		if serr := f.store.Set(ctx, cKey, string(encoded), f.cfg.CacheTTL); serr != nil {
			slog.Warn("idempotency cache write failed", "service", f.cfg.Service, "error", serr)
		}
	}
	return resp, nil
}

func (f *Filter) lookup(ctx context.Context, cacheKey string) (CachedResponse, bool, error) {
	raw, ok, err := f.store.Get(ctx, cacheKey)
	if err != nil || !ok {
		return CachedResponse{}, false, err
	}
	var resp CachedResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return CachedResponse{}, false, err
	}
	return resp, true, nil
}
