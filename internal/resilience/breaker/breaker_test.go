package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/meridian-commerce/backbone/internal/clock"
)

func testConfig() (Config, *clock.Fake) {
	fake := clock.NewFake(time.Unix(0, 0))
	cfg := DefaultConfig("payments")
	cfg.Window = 10 * time.Second
	cfg.FailureThreshold = 3
	cfg.OpenDuration = 5 * time.Second
	cfg.SuccessThreshold = 2
	cfg.Clock = fake
	return cfg, fake
}

func TestBreaker_StaysClosedBelowThreshold(t *testing.T) {
	cfg, _ := testConfig()
	b := New(cfg)
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %v", b.State())
	}
	ok, err := b.Allow()
	if !ok || err != nil {
		t.Fatalf("expected admission while closed, got ok=%v err=%v", ok, err)
	}
}

func TestBreaker_TripsOpenAtThreshold(t *testing.T) {
	cfg, _ := testConfig()
	b := New(cfg)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after %d failures, got %v", cfg.FailureThreshold, b.State())
	}
	ok, err := b.Allow()
	if ok || err == nil {
		t.Fatalf("expected rejection while open, got ok=%v err=%v", ok, err)
	}
}

func TestBreaker_OldFailuresAgeOutOfWindow(t *testing.T) {
	cfg, fake := testConfig()
	b := New(cfg)
	b.RecordFailure()
	b.RecordFailure()
	fake.Advance(11 * time.Second) // older than the 10s window
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("expected closed since the first two failures aged out, got %v", b.State())
	}
}

func TestBreaker_HalfOpenAfterOpenDurationAdmitsOneProbe(t *testing.T) {
	cfg, fake := testConfig()
	b := New(cfg)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	fake.Advance(5 * time.Second)

	ok, err := b.Allow()
	if !ok || err != nil {
		t.Fatalf("expected the probe to be admitted, got ok=%v err=%v", ok, err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open, got %v", b.State())
	}

	// A second concurrent call must be rejected: only one probe in flight.
	ok2, err2 := b.Allow()
	if ok2 || err2 == nil {
		t.Fatalf("expected second concurrent probe to be rejected, got ok=%v err=%v", ok2, err2)
	}
}

func TestBreaker_HalfOpenFailureReopensImmediately(t *testing.T) {
	cfg, fake := testConfig()
	b := New(cfg)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	fake.Advance(5 * time.Second)
	b.Allow()
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected a single half-open failure to reopen the breaker, got %v", b.State())
	}
}

func TestBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cfg, fake := testConfig()
	b := New(cfg)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	fake.Advance(5 * time.Second)

	b.Allow()
	b.RecordSuccess()
	if b.State() != StateHalfOpen {
		t.Fatalf("expected still half_open after 1/%d successes, got %v", cfg.SuccessThreshold, b.State())
	}

	ok, _ := b.Allow()
	if !ok {
		t.Fatal("expected second probe to be admitted")
	}
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after %d consecutive successes, got %v", cfg.SuccessThreshold, b.State())
	}
}

func TestDo_WrapsAllowAndRecordsOutcome(t *testing.T) {
	cfg, _ := testConfig()
	b := New(cfg)

	_, err := Do(b, func() (string, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failing := errors.New("boom")
	for i := 0; i < cfg.FailureThreshold; i++ {
		_, err := Do(b, func() (string, error) { return "", failing })
		if i < cfg.FailureThreshold-1 && err != failing {
			t.Fatalf("expected passthrough error, got %v", err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after repeated Do failures, got %v", b.State())
	}

	_, err = Do(b, func() (string, error) { return "ok", nil })
	if err != ErrOpen {
		t.Fatalf("expected ErrOpen while tripped, got %v", err)
	}
}
