package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository, used in dev mode when no
// Postgres DSN is configured and by other packages' tests that need a
// Repository without standing up a real database.
type MemoryRepository struct {
	mu     sync.Mutex
	events map[uuid.UUID]Event
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{events: make(map[uuid.UUID]Event)}
}

// MemoryAppender adapts MemoryRepository as the Appender a caller's
// in-memory "transaction" exposes, mirroring PostgresRepository's pgxTx.
type MemoryAppender struct{ Repo *MemoryRepository }

func (a MemoryAppender) Exec(ctx context.Context, _ string, args ...any) (int64, error) {
	ev := args[0].(Event)
	a.Repo.mu.Lock()
	defer a.Repo.mu.Unlock()
	ev.CreatedAt = time.Now()
	a.Repo.events[ev.ID] = ev
	return 1, nil
}

func (r *MemoryRepository) Append(ctx context.Context, tx Appender, ev Event) error {
	_, err := tx.Exec(ctx, "", ev)
	return err
}

func (r *MemoryRepository) ClaimBatch(ctx context.Context, batchSize int, staleAfter time.Duration) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-staleAfter)
	var claimed []Event
	for id, ev := range r.events {
		if len(claimed) >= batchSize {
			break
		}
		if ev.Published {
			continue
		}
		if !ev.ClaimedAt.IsZero() && ev.ClaimedAt.After(cutoff) {
			continue
		}
		ev.ClaimedAt = time.Now()
		r.events[id] = ev
		claimed = append(claimed, ev)
	}
	return claimed, nil
}

func (r *MemoryRepository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok {
		return nil
	}
	ev.Published = true
	ev.PublishedAt = publishedAt
	r.events[id] = ev
	return nil
}

func (r *MemoryRepository) RecoverStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-staleAfter)
	var n int64
	for id, ev := range r.events {
		if !ev.Published && !ev.ClaimedAt.IsZero() && ev.ClaimedAt.Before(cutoff) {
			ev.ClaimedAt = time.Time{}
			r.events[id] = ev
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) PendingCount(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, ev := range r.events {
		if !ev.Published {
			n++
		}
	}
	return n, nil
}
