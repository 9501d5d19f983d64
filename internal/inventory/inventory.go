// Package inventory implements the inventory collaborator: product stock
// tracking and reservation (internal POST /inventory/reserve), idempotent
// on (idempotency_key, product_id).
package inventory

import (
	"time"

	"github.com/google/uuid"
)

// Product tracks stock for one item. Available = Stock - Reserved >= 0.
type Product struct {
	ID       uuid.UUID
	SKU      string
	Stock    int
	Reserved int
}

// Available returns the unreserved stock.
func (p Product) Available() int { return p.Stock - p.Reserved }

// ReservationStatus distinguishes a successful hold from a rejected one.
type ReservationStatus string

const (
	ReservationReserved    ReservationStatus = "reserved"
	ReservationInsufficient ReservationStatus = "insufficient_stock"
)

// Reservation is one (idempotency_key, product_id) hold against a
// product's stock, made on behalf of an order.
type Reservation struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	ProductID      uuid.UUID
	Quantity       int
	Status         ReservationStatus
	IdempotencyKey string
	CreatedAt      time.Time
}

// ReserveRequest is one line of a POST /inventory/reserve call.
type ReserveRequest struct {
	OrderID        uuid.UUID
	IdempotencyKey string
	Items          []ReserveItem
}

// ReserveItem is one product/quantity pair to reserve.
type ReserveItem struct {
	ProductID uuid.UUID
	Quantity  int
}

// ReserveResult is the outcome of a ReserveRequest.
type ReserveResult struct {
	ReservationIDs []uuid.UUID
	Status         ReservationStatus
}
