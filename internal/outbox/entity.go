// Package outbox implements the transactional outbox pattern: producing
// events in the same database transaction as the aggregate write they
// describe, and a separate publisher worker that delivers them to a
// stream with at-least-once semantics.
package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Event is a single outbox row: one domain event tied to the aggregate
// that produced it, written in the same transaction as that aggregate's
// own row.
type Event struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte // JSON

	Published   bool
	CreatedAt   time.Time
	PublishedAt time.Time // zero until Published

	// ClaimedAt marks when a publisher claimed this row for delivery.
	// SELECT ... FOR UPDATE SKIP LOCKED already releases the row lock on
	// connection loss; ClaimedAt exists to detect a publisher that
	// crashed mid-delivery after committing the claim but before marking
	// the row published, so the recovery sweep can requeue it.
	ClaimedAt time.Time
}

// NewEvent constructs an Event ready for Append within an aggregate's
// transaction.
func NewEvent(aggregateType string, aggregateID uuid.UUID, eventType string, payload []byte) Event {
	return Event{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
	}
}
