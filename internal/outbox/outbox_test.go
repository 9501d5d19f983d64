package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeSink struct {
	mu        sync.Mutex
	published []Event
	failNext  bool
}

func (s *fakeSink) Publish(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errBoom
	}
	s.published = append(s.published, ev)
	return nil
}

var errBoom = &boomErr{}

type boomErr struct{}

func (*boomErr) Error() string { return "sink unavailable" }

func TestAppend_StoresEventForLaterClaim(t *testing.T) {
	repo := NewMemoryRepository()
	ev := NewEvent("order", uuid.New(), "order.created", []byte(`{}`))

	if err := Append(context.Background(), repo, MemoryAppender{repo}, ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := repo.PendingCount(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pending event, got %d", n)
	}
}

func TestPublisher_PublishesClaimedEventsAndMarksThem(t *testing.T) {
	repo := NewMemoryRepository()
	sink := &fakeSink{}
	ev := NewEvent("order", uuid.New(), "order.created", []byte(`{}`))
	Append(context.Background(), repo, MemoryAppender{repo}, ev)

	pub := NewPublisher("gateway", repo, sink, PublisherConfig{
		BatchSize:        10,
		PollInterval:     5 * time.Millisecond,
		EmptyBackoff:     5 * time.Millisecond,
		ErrorBackoff:     5 * time.Millisecond,
		ClaimTimeout:     time.Minute,
		RecoveryInterval: time.Minute,
	})

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	pub.pollOnce(context.Background(), ticker)

	sink.mu.Lock()
	got := len(sink.published)
	sink.mu.Unlock()
	if got != 1 {
		t.Fatalf("expected 1 published event, got %d", got)
	}

	n, _ := repo.PendingCount(context.Background())
	if n != 0 {
		t.Fatalf("expected 0 pending after publish, got %d", n)
	}
}

func TestPublisher_FailedPublishLeavesEventClaimedForRecovery(t *testing.T) {
	repo := NewMemoryRepository()
	sink := &fakeSink{failNext: true}
	ev := NewEvent("order", uuid.New(), "order.created", []byte(`{}`))
	Append(context.Background(), repo, MemoryAppender{repo}, ev)

	pub := NewPublisher("gateway", repo, sink, PublisherConfig{
		BatchSize: 10, PollInterval: time.Millisecond, EmptyBackoff: time.Millisecond,
		ErrorBackoff: time.Millisecond, ClaimTimeout: time.Minute, RecoveryInterval: time.Minute,
	})
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	pub.pollOnce(context.Background(), ticker)

	n, _ := repo.PendingCount(context.Background())
	if n != 1 {
		t.Fatalf("expected the event to remain pending after a failed publish, got %d", n)
	}

	recovered, err := repo.RecoverStale(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("expected 1 event recovered, got %d", recovered)
	}

	pub.pollOnce(context.Background(), ticker)
	sink.mu.Lock()
	got := len(sink.published)
	sink.mu.Unlock()
	if got != 1 {
		t.Fatalf("expected the retried publish to succeed, got %d published", got)
	}
}

func TestPublisher_ClaimBatchDoesNotReclaimFreshlyClaimedRows(t *testing.T) {
	repo := NewMemoryRepository()
	ev := NewEvent("order", uuid.New(), "order.created", []byte(`{}`))
	Append(context.Background(), repo, MemoryAppender{repo}, ev)

	first, err := repo.ClaimBatch(context.Background(), 10, time.Minute)
	if err != nil || len(first) != 1 {
		t.Fatalf("expected to claim 1 event, got %d, err=%v", len(first), err)
	}

	second, err := repo.ClaimBatch(context.Background(), 10, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected the freshly claimed row to stay claimed, got %d", len(second))
	}
}
