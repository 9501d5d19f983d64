package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository over a pgx connection pool,
// using a SELECT ... FOR UPDATE SKIP LOCKED claim query, so concurrent
// publisher replicas never contend on the same rows.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs a PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// pgxTx adapts a pgx.Tx to the Appender interface so
// Append can run inside a caller-managed transaction.
type pgxTx struct {
	tx pgx.Tx
}

// NewAppender wraps a pgx.Tx as an Appender for use with Append.
func NewAppender(tx pgx.Tx) Appender {
	return pgxTx{tx: tx}
}

func (a pgxTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := a.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const insertEventSQL = `
	INSERT INTO outbox_events (id, aggregate_type, aggregate_id, event_type, payload, published, created_at)
	VALUES ($1, $2, $3, $4, $5, false, now())
`

func (r *PostgresRepository) Append(ctx context.Context, tx Appender, ev Event) error {
	_, err := tx.Exec(ctx, insertEventSQL, ev.ID, ev.AggregateType, ev.AggregateID, ev.EventType, ev.Payload)
	if err != nil {
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}

const claimBatchSQL = `
	UPDATE outbox_events
	SET claimed_at = now()
	WHERE id IN (
		SELECT id FROM outbox_events
		WHERE published = false
		  AND (claimed_at IS NULL OR claimed_at < $1)
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	)
	RETURNING id, aggregate_type, aggregate_id, event_type, payload, published, created_at, claimed_at
`

func (r *PostgresRepository) ClaimBatch(ctx context.Context, batchSize int, staleAfter time.Duration) ([]Event, error) {
	staleCutoff := time.Now().Add(-staleAfter)

	rows, err := r.pool.Query(ctx, claimBatchSQL, staleCutoff, batchSize)
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var claimedAt, createdAt pgxTimestamp
		if err := rows.Scan(&ev.ID, &ev.AggregateType, &ev.AggregateID, &ev.EventType,
			&ev.Payload, &ev.Published, &createdAt, &claimedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		ev.CreatedAt = time.Time(createdAt)
		ev.ClaimedAt = time.Time(claimedAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}

const markPublishedSQL = `
	UPDATE outbox_events SET published = true, published_at = $2 WHERE id = $1
`

func (r *PostgresRepository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	_, err := r.pool.Exec(ctx, markPublishedSQL, id, publishedAt)
	if err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}
	return nil
}

const recoverStaleSQL = `
	UPDATE outbox_events
	SET claimed_at = NULL
	WHERE published = false AND claimed_at IS NOT NULL AND claimed_at < $1
`

func (r *PostgresRepository) RecoverStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().Add(-staleAfter)
	tag, err := r.pool.Exec(ctx, recoverStaleSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover stale outbox events: %w", err)
	}
	return tag.RowsAffected(), nil
}

const pendingCountSQL = `SELECT count(*) FROM outbox_events WHERE published = false`

func (r *PostgresRepository) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, pendingCountSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending outbox events: %w", err)
	}
	return n, nil
}

// pgxTimestamp adapts a nullable timestamp column to time.Time, treating
// SQL NULL as the zero time.
type pgxTimestamp time.Time

func (t *pgxTimestamp) Scan(src any) error {
	if src == nil {
		*t = pgxTimestamp(time.Time{})
		return nil
	}
	switch v := src.(type) {
	case time.Time:
		*t = pgxTimestamp(v)
		return nil
	default:
		return fmt.Errorf("unsupported scan type %T for pgxTimestamp", src)
	}
}
