// Package streambus implements the notifications stream transport:
// consumer-group delivery over kvstore.Store's Redis Streams methods (or
// the NATS JetStream alternate backend), with bounded LRU+TTL dedup so a
// redelivered message is a no-op.
package streambus

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridian-commerce/backbone/internal/kvstore"
)

// Message is a single delivered stream entry.
type Message struct {
	ID     string
	Fields map[string]string
}

// Producer publishes to a stream; outbox.Sink is satisfied by an adapter
// over a Producer (see Sink below).
type Producer interface {
	Publish(ctx context.Context, stream string, fields map[string]string) (string, error)
	Close() error
}

// Consumer consumes a stream as part of a named consumer group.
type Consumer interface {
	// Consume blocks, delivering messages to handler until ctx is done or
	// a non-recoverable error occurs. Each message is deduplicated before
	// handler runs and acknowledged only after handler returns nil.
	Consume(ctx context.Context, handler func(Message) error) error
	Close() error
}

// KVProducer implements Producer over kvstore.Store's Redis-Streams-shaped
// XAdd method.
type KVProducer struct {
	store  kvstore.Store
	stream string
}

// NewKVProducer constructs a KVProducer for stream.
func NewKVProducer(store kvstore.Store, stream string) *KVProducer {
	return &KVProducer{store: store, stream: stream}
}

func (p *KVProducer) Publish(ctx context.Context, stream string, fields map[string]string) (string, error) {
	return p.store.StreamAppend(ctx, stream, fields)
}

func (p *KVProducer) Close() error { return nil }

// KVConsumer implements Consumer over kvstore.Store's consumer-group
// methods, with a bounded LRU+TTL Dedup guarding handler invocation.
type KVConsumer struct {
	store    kvstore.Store
	stream   string
	group    string
	consumer string
	batch    int64
	block    time.Duration
	dedup    *Dedup
}

// Config controls one consumer's polling cadence.
type Config struct {
	Stream        string
	ConsumerGroup string
	ConsumerName  string
	BatchSize     int64
	BlockFor      time.Duration
	DedupCapacity int
	DedupTTL      time.Duration
}

// DefaultConfig returns sensible stream-consumption defaults.
func DefaultConfig(stream, group, consumer string) Config {
	return Config{
		Stream: stream, ConsumerGroup: group, ConsumerName: consumer,
		BatchSize: 50, BlockFor: 2 * time.Second,
		DedupCapacity: 10_000, DedupTTL: time.Hour,
	}
}

// NewKVConsumer constructs a KVConsumer, ensuring the consumer group
// exists, created at the start of the stream.
func NewKVConsumer(ctx context.Context, store kvstore.Store, cfg Config) (*KVConsumer, error) {
	if err := store.StreamEnsureGroup(ctx, cfg.Stream, cfg.ConsumerGroup); err != nil {
		return nil, err
	}
	return &KVConsumer{
		store: store, stream: cfg.Stream, group: cfg.ConsumerGroup, consumer: cfg.ConsumerName,
		batch: cfg.BatchSize, block: cfg.BlockFor,
		dedup: NewDedup(cfg.DedupCapacity, cfg.DedupTTL),
	}, nil
}

func (c *KVConsumer) Consume(ctx context.Context, handler func(Message) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := c.store.StreamReadGroup(ctx, c.stream, c.group, c.consumer, c.batch, c.block)
		if err != nil {
			slog.Error("streambus read failed", "stream", c.stream, "group", c.group, "error", err)
			continue
		}

		for _, m := range msgs {
			if c.dedup.SeenOrMark(m.ID) {
				_ = c.store.StreamAck(ctx, c.stream, c.group, m.ID)
				continue
			}
			if err := handler(Message{ID: m.ID, Fields: m.Fields}); err != nil {
				slog.Error("streambus handler failed, leaving unacked for redelivery",
					"stream", c.stream, "group", c.group, "message_id", m.ID, "error", err)
				continue
			}
			if err := c.store.StreamAck(ctx, c.stream, c.group, m.ID); err != nil {
				slog.Error("streambus ack failed", "stream", c.stream, "group", c.group, "message_id", m.ID, "error", err)
			}
		}
	}
}

func (c *KVConsumer) Close() error { return nil }
