package notifications

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridian-commerce/backbone/internal/streambus"
)

// RunConsumer drains the notifications stream into svc until ctx is done.
// The streambus consumer already dedups redelivered broker ids; svc's own
// processed set additionally collapses distinct appends of the same
// logical event, the case the broker cannot see (publisher crash between
// downstream ack and mark-published).
func RunConsumer(ctx context.Context, consumer streambus.Consumer, svc *Service) error {
	return consumer.Consume(ctx, func(m streambus.Message) error {
		aggregateID, err := uuid.Parse(m.Fields["aggregate_id"])
		if err != nil {
			// A malformed message would redeliver forever if left
			// unacked; log and swallow it instead.
			slog.Error("discarding malformed stream message",
				"message_id", m.ID, "aggregate_id", m.Fields["aggregate_id"], "error", err)
			return nil
		}
		svc.Handle(ctx, Notification{
			EventID:     m.Fields["event_id"],
			EventType:   m.Fields["event_type"],
			AggregateID: aggregateID,
			Payload:     m.Fields["payload"],
		})
		return nil
	})
}
