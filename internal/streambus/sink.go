package streambus

import (
	"context"
	"fmt"

	"github.com/meridian-commerce/backbone/internal/outbox"
)

// Sink adapts a Producer into the outbox publisher's delivery seam,
// flattening an outbox event into the stream message shape consumers
// expect: event_id, event_type, aggregate_id, payload.
type Sink struct {
	producer Producer
	stream   string
}

// NewSink constructs a Sink publishing to stream.
func NewSink(producer Producer, stream string) *Sink {
	return &Sink{producer: producer, stream: stream}
}

// Publish appends ev to the stream. The broker id assigned on append is
// distinct from event_id: redeliveries of the same append share a broker
// id, while a publisher retry after a lost ack produces a fresh append
// carrying the same event_id, which is what consumer-side dedup keys on.
func (s *Sink) Publish(ctx context.Context, ev outbox.Event) error {
	fields := map[string]string{
		"event_id":     ev.ID.String(),
		"event_type":   ev.EventType,
		"aggregate_id": ev.AggregateID.String(),
		"payload":      string(ev.Payload),
	}
	if _, err := s.producer.Publish(ctx, s.stream, fields); err != nil {
		return fmt.Errorf("append %s to stream %s: %w", ev.EventType, s.stream, err)
	}
	return nil
}
