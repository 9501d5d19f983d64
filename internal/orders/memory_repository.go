package orders

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-commerce/backbone/internal/outbox"
)

// MemoryRepository is an in-process Repository used in dev mode without a
// Postgres DSN and by this package's tests. It enforces the same
// idempotency-key collapse invariant as PostgresRepository's partial
// unique index, guarded by a mutex instead of a database row lock.
type MemoryRepository struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]Order
	byKey    map[string]uuid.UUID
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders: make(map[uuid.UUID]Order),
		byKey:  make(map[string]uuid.UUID),
	}
}

func (r *MemoryRepository) CreateOrder(ctx context.Context, order Order, outboxRepo outbox.Repository, ev outbox.Event) (Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.IdempotencyKey != "" {
		if existingID, ok := r.byKey[order.IdempotencyKey]; ok {
			return r.orders[existingID], false, nil
		}
	}

	now := time.Now()
	order.CreatedAt, order.UpdatedAt = now, now
	r.orders[order.ID] = order
	if order.IdempotencyKey != "" {
		r.byKey[order.IdempotencyKey] = order.ID
	}

	if err := outboxRepo.Append(ctx, memoryAppenderFor(outboxRepo), ev); err != nil {
		delete(r.orders, order.ID)
		delete(r.byKey, order.IdempotencyKey)
		return Order{}, false, err
	}
	return order, true, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, outboxRepo outbox.Repository, ev outbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	order.Status = status
	order.UpdatedAt = time.Now()
	r.orders[id] = order

	return outboxRepo.Append(ctx, memoryAppenderFor(outboxRepo), ev)
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	return order, ok, nil
}

func (r *MemoryRepository) GetByIdempotencyKey(ctx context.Context, key string) (Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byKey[key]
	if !ok {
		return Order{}, false, nil
	}
	return r.orders[id], true, nil
}

func (r *MemoryRepository) List(ctx context.Context, limit int) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, o)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.After(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memoryAppenderFor builds the outbox.Appender matching outboxRepo's
// concrete backend so Append's write actually lands: the order row write
// above and this outbox write are both already serialized under r.mu,
// which stands in for a real transaction's atomicity in the memory
// backend. Paired wiring (MemoryRepository with outbox.MemoryRepository,
// PostgresRepository with outbox.PostgresRepository) is a wiring
// invariant enforced in cmd/*/main.go, not by this interface.
func memoryAppenderFor(outboxRepo outbox.Repository) outbox.Appender {
	if memRepo, ok := outboxRepo.(*outbox.MemoryRepository); ok {
		return outbox.MemoryAppender{Repo: memRepo}
	}
	return noopAppender{}
}

type noopAppender struct{}

func (noopAppender) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return 0, nil
}
