package idempotency

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meridian-commerce/backbone/internal/apperr"
	"github.com/meridian-commerce/backbone/internal/kvstore"
)

func testFilter() *Filter {
	return New(Config{Service: "orders", CacheTTL: time.Hour, LockTTL: time.Second}, kvstore.NewMemoryStore())
}

func TestExecute_RunsOnceAndCachesResult(t *testing.T) {
	f := testFilter()
	var calls int32

	run := func(ctx context.Context) (CachedResponse, error) {
		atomic.AddInt32(&calls, 1)
		return CachedResponse{StatusCode: 201, Body: []byte(`{"id":"1"}`)}, nil
	}

	got1, err := f.Execute(context.Background(), "key-a", run)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got2, err := f.Execute(context.Background(), "key-a", run)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls != 1 {
		t.Fatalf("expected fn to run exactly once, ran %d times", calls)
	}
	if string(got1.Body) != string(got2.Body) || got1.StatusCode != got2.StatusCode {
		t.Fatalf("expected replayed response to match, got %+v vs %+v", got1, got2)
	}
}

func TestExecute_DifferentKeysRunIndependently(t *testing.T) {
	f := testFilter()
	var calls int32
	run := func(ctx context.Context) (CachedResponse, error) {
		atomic.AddInt32(&calls, 1)
		return CachedResponse{StatusCode: 200}, nil
	}

	f.Execute(context.Background(), "key-a", run)
	f.Execute(context.Background(), "key-b", run)

	if calls != 2 {
		t.Fatalf("expected 2 independent executions, got %d", calls)
	}
}

func TestExecute_ConcurrentDuplicatesConflict(t *testing.T) {
	f := testFilter()
	var calls int32
	release := make(chan struct{})

	run := func(ctx context.Context) (CachedResponse, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return CachedResponse{StatusCode: 200}, nil
	}

	var wg sync.WaitGroup
	var conflictErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		_, conflictErr = f.Execute(context.Background(), "key-c", func(ctx context.Context) (CachedResponse, error) {
			t.Error("second fn must not run while the first holds the lock")
			return CachedResponse{}, nil
		})
	}()

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(release)
	}()

	_, err := f.Execute(context.Background(), "key-c", run)
	wg.Wait()

	if err != nil {
		t.Fatalf("unexpected error on first execution: %v", err)
	}
	if apperr.CategoryOf(conflictErr) != apperr.CategoryIdempotencyConflict {
		t.Fatalf("expected CategoryIdempotencyConflict, got %v", conflictErr)
	}
}

func TestExecute_RejectsOversizedKeys(t *testing.T) {
	f := testFilter()
	_, err := f.Execute(context.Background(), strings.Repeat("x", 257), func(ctx context.Context) (CachedResponse, error) {
		return CachedResponse{}, nil
	})
	if apperr.CategoryOf(err) != apperr.CategoryValidation {
		t.Fatalf("expected CategoryValidation, got %v", err)
	}
}
