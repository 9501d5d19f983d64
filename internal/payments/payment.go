// Package payments implements the payments collaborator:
// POST /payments/charge, a stateless charge operation fronted by chaos
// injection so the gateway's retry/breaker fabric has something to
// exercise. There is no persisted payments aggregate; idempotent replay
// of a charge is handled by the caller's own idempotency filter rather
// than a ledger table here.
package payments

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridian-commerce/backbone/internal/money"
)

// Status is the outcome of a charge attempt.
type Status string

const (
	StatusCharged Status = "charged"
)

// ChargeRequest is the inbound charge instruction.
type ChargeRequest struct {
	OrderID        uuid.UUID
	Amount         money.Money
	IdempotencyKey string
}

// Charge is the record of a single charge attempt, returned to the
// caller; it is not persisted.
type Charge struct {
	TransactionID uuid.UUID
	OrderID       uuid.UUID
	Amount        money.Money
	Status        Status
	CreatedAt     time.Time
}
