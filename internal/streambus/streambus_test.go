package streambus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meridian-commerce/backbone/internal/kvstore"
)

func TestDedup_MarksFirstSightingAsUnseen(t *testing.T) {
	d := NewDedup(10, time.Hour)
	if d.SeenOrMark("a") {
		t.Fatal("expected first sighting to report unseen")
	}
	if !d.SeenOrMark("a") {
		t.Fatal("expected second sighting to report seen")
	}
}

func TestDedup_EvictsOldestBeyondCapacity(t *testing.T) {
	d := NewDedup(2, time.Hour)
	d.SeenOrMark("a")
	d.SeenOrMark("b")
	d.SeenOrMark("c") // evicts "a"

	if d.Len() != 2 {
		t.Fatalf("expected capacity-bounded length 2, got %d", d.Len())
	}
	if d.SeenOrMark("a") {
		t.Fatal("expected evicted entry 'a' to be treated as unseen again")
	}
}

func TestDedup_ExpiresAfterTTL(t *testing.T) {
	d := NewDedup(10, 10*time.Millisecond)
	d.SeenOrMark("a")
	time.Sleep(20 * time.Millisecond)
	if d.SeenOrMark("a") {
		t.Fatal("expected entry to have expired and be treated as unseen")
	}
}

func TestKVConsumer_DeliversAndAcksExactlyOncePerMessage(t *testing.T) {
	store := kvstore.NewMemoryStore()
	ctx := context.Background()
	if _, err := store.StreamAppend(ctx, "orders.events", map[string]string{"event_type": "order.created"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := DefaultConfig("orders.events", "notifications", "consumer-1")
	cfg.BlockFor = 10 * time.Millisecond
	consumer, err := NewKVConsumer(ctx, store, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var mu sync.Mutex
	var delivered []Message
	cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	_ = consumer.Consume(cctx, func(m Message) error {
		mu.Lock()
		delivered = append(delivered, m)
		mu.Unlock()
		return nil
	})

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", len(delivered))
	}
}

func TestKVConsumer_InvokesHandlerThatReturnsError(t *testing.T) {
	store := kvstore.NewMemoryStore()
	ctx := context.Background()
	store.StreamAppend(ctx, "orders.events", map[string]string{"event_type": "order.created"})

	cfg := DefaultConfig("orders.events", "notifications", "consumer-1")
	cfg.BlockFor = 5 * time.Millisecond
	consumer, _ := NewKVConsumer(ctx, store, cfg)

	failOnce := true
	var calls int
	cctx, cancel := context.WithTimeout(ctx, 60*time.Millisecond)
	defer cancel()

	_ = consumer.Consume(cctx, func(m Message) error {
		calls++
		if failOnce {
			failOnce = false
			return errors.New("handler failure")
		}
		return nil
	})

	if calls == 0 {
		t.Fatal("expected the handler to be invoked at least once")
	}
}
