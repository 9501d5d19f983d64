package bulkhead

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/meridian-commerce/backbone/internal/apperr"
)

func TestBulkhead_AdmitsUpToCapacity(t *testing.T) {
	b := New(Config{Downstream: "inventory", Capacity: 2, MaxWait: 50 * time.Millisecond})

	rel1, err := b.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rel2, err := b.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.InFlight() != 2 {
		t.Fatalf("expected 2 in flight, got %d", b.InFlight())
	}
	rel1()
	rel2()
}

func TestBulkhead_RejectsAfterMaxWaitWhenSaturated(t *testing.T) {
	b := New(Config{Downstream: "inventory", Capacity: 1, MaxWait: 20 * time.Millisecond})

	release, err := b.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer release()

	start := time.Now()
	_, err = b.Acquire(context.Background())
	elapsed := time.Since(start)

	if apperr.CategoryOf(err) != apperr.CategoryBulkheadFull {
		t.Fatalf("expected CategoryBulkheadFull, got %v", err)
	}
	if elapsed < 20*time.Millisecond {
		t.Fatalf("expected to wait out MaxWait before rejecting, took %v", elapsed)
	}
}

func TestBulkhead_AdmitsOnceASlotFreesWithinMaxWait(t *testing.T) {
	b := New(Config{Downstream: "inventory", Capacity: 1, MaxWait: 200 * time.Millisecond})

	release, err := b.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		release()
	}()

	rel2, err := b.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected admission once the slot freed, got %v", err)
	}
	rel2()
}

func TestBulkhead_ContextCancellationDuringWait(t *testing.T) {
	b := New(Config{Downstream: "inventory", Capacity: 1, MaxWait: time.Second})
	release, _ := b.Acquire(context.Background())
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := b.Acquire(ctx)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBulkhead_ReleaseIsIdempotent(t *testing.T) {
	b := New(Config{Downstream: "inventory", Capacity: 1, MaxWait: time.Second})
	release, _ := b.Acquire(context.Background())
	release()
	release()
	if b.InFlight() != 0 {
		t.Fatalf("expected 0 in flight after double release, got %d", b.InFlight())
	}
}

func TestDo_ReleasesSlotAfterFnReturns(t *testing.T) {
	b := New(Config{Downstream: "inventory", Capacity: 1, MaxWait: time.Second})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = Do(context.Background(), b, func(ctx context.Context) (string, error) {
			return "", nil
		})
	}()
	wg.Wait()
	if b.InFlight() != 0 {
		t.Fatalf("expected slot released after Do, got %d in flight", b.InFlight())
	}
}
