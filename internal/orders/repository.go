package orders

import (
	"context"

	"github.com/google/uuid"

	"github.com/meridian-commerce/backbone/internal/outbox"
)

// Repository is the order aggregate store contract. Implementations:
// Postgres (primary — a partial unique index on idempotency_key gives the
// durable duplicate collapse), an in-memory fake (tests).
type Repository interface {
	// CreateOrder inserts order (status=pending) and appends ev to the
	// outbox in the same transaction. If order
	// carries an IdempotencyKey that collides with an existing order, the
	// insert is collapsed: the caller's order and event are discarded and
	// the already-committed winner's row is returned with created=false.
	CreateOrder(ctx context.Context, order Order, outboxRepo outbox.Repository, ev outbox.Event) (result Order, created bool, err error)

	// UpdateStatus moves order id to a terminal status and appends ev in
	// the same transaction. Never called on an
	// order already in a terminal status.
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, outboxRepo outbox.Repository, ev outbox.Event) error

	GetByID(ctx context.Context, id uuid.UUID) (Order, bool, error)
	GetByIdempotencyKey(ctx context.Context, key string) (Order, bool, error)
	List(ctx context.Context, limit int) ([]Order, error)
}

// ErrNotFound is returned by MemoryRepository.UpdateStatus when no order
// has the given id. GetByID and GetByIdempotencyKey report a missing row
// with ok=false and a nil error instead.
var ErrNotFound = notFoundErr{}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "orders: not found" }
