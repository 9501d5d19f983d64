// Package orders implements order orchestration: the fan-out call to
// payments and inventory, status aggregation, and outbox emission.
package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridian-commerce/backbone/internal/money"
)

// Status is an order's lifecycle state. Monotonic except pending -> any
// terminal; terminals are never re-entered.
type Status string

const (
	StatusPending         Status = "pending"
	StatusConfirmed       Status = "confirmed"
	StatusPaymentFailed   Status = "payment_failed"
	StatusInventoryFailed Status = "inventory_failed"
	StatusFailed          Status = "failed"
)

// IsTerminal reports whether s is a terminal status (everything but pending).
func (s Status) IsTerminal() bool { return s != StatusPending }

// Item is one line item of an order: a product, a positive quantity, and
// the unit price charged (captured at order time, independent of any
// later price change).
type Item struct {
	ProductID uuid.UUID  `json:"product_id"`
	Quantity  int        `json:"quantity"`
	UnitPrice money.Money `json:"unit_price"`
}

// Subtotal returns quantity * unit price for this line.
func (i Item) Subtotal() money.Money { return i.UnitPrice.Mul(i.Quantity) }

// Order is the aggregate root. Total is derived and immutable once
// written; IdempotencyKey is unique across orders when present.
type Order struct {
	ID             uuid.UUID
	CustomerID     string
	Items          []Item
	Total          money.Money
	Status         Status
	IdempotencyKey string // empty if none was supplied
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// New constructs a pending Order with its total computed from items.
func New(customerID string, items []Item, idempotencyKey string) Order {
	var total money.Money
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return Order{
		ID:             uuid.New(),
		CustomerID:     customerID,
		Items:          items,
		Total:          total,
		Status:         StatusPending,
		IdempotencyKey: idempotencyKey,
	}
}

// AggregateStatus maps the fan-out outcome pair onto a terminal status.
func AggregateStatus(paymentOK, inventoryOK bool) Status {
	switch {
	case paymentOK && inventoryOK:
		return StatusConfirmed
	case !paymentOK && inventoryOK:
		return StatusPaymentFailed
	case paymentOK && !inventoryOK:
		return StatusInventoryFailed
	default:
		return StatusFailed
	}
}
