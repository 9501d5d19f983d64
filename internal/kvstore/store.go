// Package kvstore defines the KV/cache/stream contract that the
// idempotency filter, circuit breaker cross-replica state, and stream
// consumer are built on: get, set-with-ttl, set-if-absent-with-ttl, delete,
// and append-only streams with consumer groups. It treats the backing
// Redis-like store purely as a KV+stream primitive, never as business
// storage.
package kvstore

import (
	"context"
	"time"
)

// StreamMessage is a single delivered message from a consumer-group read.
type StreamMessage struct {
	// ID is the broker-assigned message id (used to Ack).
	ID     string
	Fields map[string]string
}

// Store is the KV/cache/stream contract every resilience component is
// built against. Implementations: Redis (production), an in-memory fake
// (tests).
type Store interface {
	// Get returns the value for key, and false if it does not exist.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes key=value with the given TTL (0 means no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX atomically writes key=value only if key does not already
	// exist, returning true if this call created it.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes key if owned by value (compare-and-delete), so a
	// caller can only release a lock it actually holds.
	Delete(ctx context.Context, key, value string) error

	// Ping verifies connectivity, used by health checks.
	Ping(ctx context.Context) error

	// StreamAppend appends fields to the named stream, returning the
	// broker-assigned message id.
	StreamAppend(ctx context.Context, stream string, fields map[string]string) (string, error)

	// StreamReadGroup reads up to count never-delivered messages for
	// consumer within group, blocking up to block for new entries if none
	// are immediately available. Pending (delivered but unacked) entries
	// are not re-read.
	StreamReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error)

	// StreamAck acknowledges ids within group so they are not redelivered.
	StreamAck(ctx context.Context, stream, group string, ids ...string) error

	// StreamEnsureGroup creates the consumer group at the start of the
	// stream if it does not already exist, so entries appended before the
	// group existed are still delivered; idempotent.
	StreamEnsureGroup(ctx context.Context, stream, group string) error

	Close() error
}

// ErrNotFound is a not-found error value. No Store method returns it: the
// methods use the (value, bool, error) shape to avoid forcing callers to
// compare errors, and it's exposed for completeness.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "kvstore: key not found" }
