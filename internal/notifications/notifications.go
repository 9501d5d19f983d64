// Package notifications is the consuming end of the backbone's event
// flow: it ingests events over HTTP (POST /events) and from the
// notifications stream (consumer group), deduplicates them by event id,
// and records the delivery. The side effect here is deliberately thin —
// a log line and an in-memory journal — because the interesting part is
// the idempotent-consumer contract, not what a notification looks like.
package notifications

import (
	"time"

	"github.com/google/uuid"
)

// Notification is one delivered event as seen by this service.
type Notification struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	AggregateID uuid.UUID `json:"aggregate_id"`
	Payload     string    `json:"payload"`
	ReceivedAt  time.Time `json:"received_at"`
}

// DedupKey derives the identity consumers deduplicate on: the explicit
// event id when the producer supplied one, else event_type:aggregate_id.
func (n Notification) DedupKey() string {
	if n.EventID != "" {
		return n.EventID
	}
	return n.EventType + ":" + n.AggregateID.String()
}
