package streambus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// NATSProducer is the alternate Producer backend over JetStream.
type NATSProducer struct {
	js jetstream.JetStream
}

// NewNATSProducer constructs a NATSProducer.
func NewNATSProducer(js jetstream.JetStream) *NATSProducer {
	return &NATSProducer{js: js}
}

func (p *NATSProducer) Publish(ctx context.Context, stream string, fields map[string]string) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode streambus message: %w", err)
	}
	ack, err := p.js.Publish(ctx, stream, data)
	if err != nil {
		return "", fmt.Errorf("publish to jetstream: %w", err)
	}
	return fmt.Sprintf("%d", ack.Sequence), nil
}

func (p *NATSProducer) Close() error { return nil }

// NATSConsumer is the alternate Consumer backend over a JetStream durable
// consumer, with the same bounded Dedup guarding handler invocation as
// KVConsumer.
type NATSConsumer struct {
	consumer jetstream.Consumer
	dedup    *Dedup
}

// NewNATSConsumer constructs a NATSConsumer over an existing durable
// JetStream consumer.
func NewNATSConsumer(consumer jetstream.Consumer, dedupCapacity int, dedupTTL time.Duration) *NATSConsumer {
	return &NATSConsumer{consumer: consumer, dedup: NewDedup(dedupCapacity, dedupTTL)}
}

func (c *NATSConsumer) Consume(ctx context.Context, handler func(Message) error) error {
	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		var fields map[string]string
		if err := json.Unmarshal(msg.Data(), &fields); err != nil {
			slog.Error("streambus nats decode failed", "error", err)
			_ = msg.Term()
			return
		}

		meta, err := msg.Metadata()
		id := ""
		if err == nil {
			id = fmt.Sprintf("%d", meta.Sequence.Stream)
		}

		if c.dedup.SeenOrMark(id) {
			_ = msg.Ack()
			return
		}

		if err := handler(Message{ID: id, Fields: fields}); err != nil {
			slog.Error("streambus nats handler failed, nacking for redelivery", "message_id", id, "error", err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("start jetstream consume: %w", err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	return ctx.Err()
}

func (c *NATSConsumer) Close() error { return nil }
