package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meridian-commerce/backbone/internal/metrics"
	"github.com/meridian-commerce/backbone/internal/streambus"
)

// Service applies the idempotent-consumer contract: each event's side
// effect runs at most once per dedup key, duplicates are counted and
// discarded. The processed set is the same bounded LRU+TTL structure the
// stream consumer uses, sized to cover the outbox publisher's maximum
// retry horizon.
type Service struct {
	processed *streambus.Dedup

	mu      sync.Mutex
	journal []Notification
	maxKeep int
}

// Config sizes the processed set and the in-memory journal.
type Config struct {
	DedupCapacity int
	DedupTTL      time.Duration
	JournalSize   int
}

// DefaultConfig covers a 24h publisher retry horizon at modest volume.
func DefaultConfig() Config {
	return Config{DedupCapacity: 100_000, DedupTTL: 24 * time.Hour, JournalSize: 1000}
}

// NewService constructs a Service.
func NewService(cfg Config) *Service {
	if cfg.DedupCapacity <= 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		processed: streambus.NewDedup(cfg.DedupCapacity, cfg.DedupTTL),
		maxKeep:   cfg.JournalSize,
	}
}

// Handle processes one delivered event. It reports duplicate=true (and
// performs no side effect) when the event's dedup key was already
// processed within the TTL horizon.
func (s *Service) Handle(ctx context.Context, n Notification) (duplicate bool) {
	if s.processed.SeenOrMark(n.DedupKey()) {
		metrics.DuplicateWriteTotal.WithLabelValues("notifications", "handle_event").Inc()
		slog.Debug("duplicate event discarded",
			"event_id", n.EventID, "event_type", n.EventType, "aggregate_id", n.AggregateID)
		return true
	}

	n.ReceivedAt = time.Now()
	slog.Info("notification delivered",
		"event_id", n.EventID, "event_type", n.EventType, "aggregate_id", n.AggregateID)

	s.mu.Lock()
	s.journal = append(s.journal, n)
	if len(s.journal) > s.maxKeep {
		s.journal = s.journal[len(s.journal)-s.maxKeep:]
	}
	s.mu.Unlock()
	return false
}

// Recent returns up to limit most recent notifications, newest last.
func (s *Service) Recent(limit int) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.journal) {
		limit = len(s.journal)
	}
	out := make([]Notification, limit)
	copy(out, s.journal[len(s.journal)-limit:])
	return out
}
