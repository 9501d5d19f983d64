package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Repository is the inventory aggregate store contract. Reserve is
// all-or-nothing across the request's items and idempotent on
// (idempotency_key, product_id): a retried reserve with the same key
// returns the original outcome rather than double-reserving.
type Repository interface {
	Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error)
	GetProduct(ctx context.Context, id uuid.UUID) (Product, bool, error)
	UpsertProduct(ctx context.Context, p Product) error
}

// ErrInsufficientStock is an insufficient-stock error value. Reserve does
// not return it: it reports an unsatisfiable request through the result's
// status with a nil error, and the handler maps that status to 409.
var ErrInsufficientStock = errors.New("inventory: insufficient stock")
