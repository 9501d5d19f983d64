package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meridian-commerce/backbone/internal/apperr"
	"github.com/meridian-commerce/backbone/internal/clock"
)

func testConfig() Config {
	cfg := DefaultConfig("orders", "payments", "charge")
	cfg.Clock = clock.NewFake(time.Unix(0, 0))
	cfg.Rand = clock.NewFakeRand(0.5)
	return cfg
}

func TestDo_SucceedsOnFirstAttempt(t *testing.T) {
	cfg := testConfig()
	calls := 0
	got, err := Do(context.Background(), cfg, func(ctx context.Context, attempt int) (Result[string], error) {
		calls++
		return Result[string]{Value: "ok", StatusCode: 200}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || calls != 1 {
		t.Fatalf("got %q after %d calls", got, calls)
	}
}

func TestDo_RetriesRetryableStatusThenSucceeds(t *testing.T) {
	cfg := testConfig()
	calls := 0
	got, err := Do(context.Background(), cfg, func(ctx context.Context, attempt int) (Result[string], error) {
		calls++
		if attempt < 2 {
			return Result[string]{StatusCode: 503}, nil
		}
		return Result[string]{Value: "ok", StatusCode: 200}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Fatalf("got %q after %d calls, want 3 attempts", got, calls)
	}
}

func TestDo_NonRetryableStatusStopsImmediately(t *testing.T) {
	cfg := testConfig()
	calls := 0
	_, err := Do(context.Background(), cfg, func(ctx context.Context, attempt int) (Result[string], error) {
		calls++
		return Result[string]{StatusCode: 404}, nil
	})
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable status, got %d", calls)
	}
	if apperr.CategoryOf(err) != apperr.CategoryValidation {
		t.Fatalf("expected CategoryValidation, got %v", apperr.CategoryOf(err))
	}
}

func TestDo_ExhaustsMaxAttempts(t *testing.T) {
	cfg := testConfig()
	calls := 0
	_, err := Do(context.Background(), cfg, func(ctx context.Context, attempt int) (Result[string], error) {
		calls++
		return Result[string]{StatusCode: 500}, nil
	})
	if calls != cfg.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", cfg.MaxAttempts, calls)
	}
	if apperr.CategoryOf(err) != apperr.CategoryTransient {
		t.Fatalf("expected CategoryTransient, got %v", apperr.CategoryOf(err))
	}
}

func TestDo_BudgetExhaustionStopsEarly(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 10
	cfg.Budget = NewBudget(1)
	calls := 0
	_, err := Do(context.Background(), cfg, func(ctx context.Context, attempt int) (Result[string], error) {
		calls++
		return Result[string]{StatusCode: 500}, nil
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls > 2 {
		t.Fatalf("expected the shared budget to cut off retries quickly, got %d calls", calls)
	}
	if cfg.Budget.Remaining() >= 0 {
		t.Fatalf("expected budget to be fully consumed, got %d", cfg.Budget.Remaining())
	}
}

func TestDo_ContextCancellationStopsRetries(t *testing.T) {
	cfg := testConfig()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, cfg, func(ctx context.Context, attempt int) (Result[string], error) {
		calls++
		if attempt == 0 {
			cancel()
		}
		return Result[string]{StatusCode: 500}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffDelay_RespectsMaxAndJitterBounds(t *testing.T) {
	cfg := testConfig()
	cfg.BaseDelay = 100 * time.Millisecond
	cfg.MaxDelay = 300 * time.Millisecond
	cfg.Multiplier = 2.0
	cfg.Rand = clock.NewFakeRand(1.0) // max jitter: delay == cap

	d0 := backoffDelay(cfg, 0)
	d1 := backoffDelay(cfg, 1)
	d2 := backoffDelay(cfg, 2) // would be 400ms uncapped, clamped to 300ms

	if d0 != 100*time.Millisecond {
		t.Fatalf("attempt 0: got %v, want 100ms", d0)
	}
	if d1 != 200*time.Millisecond {
		t.Fatalf("attempt 1: got %v, want 200ms", d1)
	}
	if d2 != 300*time.Millisecond {
		t.Fatalf("attempt 2: got %v, want capped at 300ms", d2)
	}
}
