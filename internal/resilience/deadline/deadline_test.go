package deadline

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/meridian-commerce/backbone/internal/apperr"
	"github.com/meridian-commerce/backbone/internal/clock"
)

func TestWithDeadline_RoundTripsThroughHeader(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	at := fake.Now().Add(10 * time.Second)

	ctx, cancel := WithDeadline(context.Background(), fake, at)
	defer cancel()

	h := make(http.Header)
	WriteHeader(ctx, h)

	cfg := DefaultConfig()
	ctx2, cancel2 := ReadHeader(context.Background(), fake, h, cfg)
	defer cancel2()

	got, ok := FromContext(ctx2)
	if !ok {
		t.Fatal("expected a deadline to be attached")
	}
	// The wire form is a fractional-seconds float, so the round trip is
	// only exact to millisecond precision.
	if diff := got.Sub(at); diff > time.Millisecond || diff < -time.Millisecond {
		t.Fatalf("got %v, want %v (±1ms)", got, at)
	}
}

func TestReadHeader_AssignsDefaultWhenMissing(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()

	ctx, cancel := ReadHeader(context.Background(), fake, make(http.Header), cfg)
	defer cancel()

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected a default deadline to be attached")
	}
	want := fake.Now().Add(cfg.Default)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestCheckNotExpired_ReturnsErrExpiredPastDeadline(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx, cancel := WithDeadline(context.Background(), fake, fake.Now().Add(-1*time.Second))
	defer cancel()

	err := CheckNotExpired(ctx, fake)
	if apperr.CategoryOf(err) != apperr.CategoryDeadlineExceeded {
		t.Fatalf("expected CategoryDeadlineExceeded, got %v", err)
	}
}

func TestHopTimeout_ClampsToRemainingWhenSmaller(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx, cancel := WithDeadline(context.Background(), fake, fake.Now().Add(2*time.Second))
	defer cancel()

	hopCtx, hopCancel := HopTimeout(ctx, fake, 10*time.Second)
	defer hopCancel()

	deadline, ok := hopCtx.Deadline()
	if !ok {
		t.Fatal("expected a context deadline")
	}
	if deadline.After(fake.Now().Add(2 * time.Second)) {
		t.Fatalf("expected hop timeout clamped to the 2s remaining budget, got %v", deadline)
	}
}

func TestHopTimeout_UsesHopBudgetWhenSmallerThanRemaining(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx, cancel := WithDeadline(context.Background(), fake, fake.Now().Add(time.Minute))
	defer cancel()

	hopCtx, hopCancel := HopTimeout(ctx, fake, 5*time.Second)
	defer hopCancel()

	deadline, _ := hopCtx.Deadline()
	want := fake.Now().Add(5 * time.Second)
	if deadline.After(want.Add(time.Millisecond)) {
		t.Fatalf("expected hop timeout near %v, got %v", want, deadline)
	}
}
