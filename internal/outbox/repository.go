package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Appender is satisfied by a pgx.Tx (or any transaction handle a
// Repository's Append implementation needs), kept narrow so callers never
// import a driver package just to produce an event.
type Appender interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
}

// Repository is the outbox persistence contract for both the producer
// and the publisher side. Implementations: Postgres (primary, uses
// SELECT ... FOR UPDATE SKIP LOCKED), MongoDB (alternate backend).
type Repository interface {
	// Append inserts ev within the caller's own transaction, so the
	// aggregate write and the event it describes commit atomically.
	Append(ctx context.Context, tx Appender, ev Event) error

	// ClaimBatch claims up to batchSize unpublished, unclaimed-or-stale
	// rows for delivery and returns them, row-locked (or backend
	// equivalent) so no other publisher can claim the same rows
	// concurrently.
	ClaimBatch(ctx context.Context, batchSize int, staleAfter time.Duration) ([]Event, error)

	// MarkPublished marks id as published at publishedAt.
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error

	// RecoverStale resets the claim on rows whose ClaimedAt is older than
	// staleAfter and are still unpublished, so a crashed publisher's work
	// is picked up again.
	RecoverStale(ctx context.Context, staleAfter time.Duration) (int64, error)

	// PendingCount reports the current backlog size, for OutboxPending.
	PendingCount(ctx context.Context) (int64, error)
}
