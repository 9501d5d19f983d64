package payments

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/meridian-commerce/backbone/internal/chaos"
	"github.com/meridian-commerce/backbone/internal/money"
)

func TestService_Charge_SucceedsAbsentChaos(t *testing.T) {
	svc := NewService(chaos.New(chaos.Config{}))

	charge, err := svc.Charge(context.Background(), ChargeRequest{
		OrderID: uuid.New(),
		Amount:  money.FromCents(2000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if charge.Status != StatusCharged {
		t.Fatalf("expected charged, got %s", charge.Status)
	}
	if charge.TransactionID == uuid.Nil {
		t.Fatalf("expected a transaction id")
	}
}

func TestService_Charge_FailsWhenChaosAlwaysInjects(t *testing.T) {
	svc := NewService(chaos.New(chaos.Config{Enabled: true, ErrorRate: 1.0}))

	_, err := svc.Charge(context.Background(), ChargeRequest{
		OrderID: uuid.New(),
		Amount:  money.FromCents(2000),
	})
	if err != chaos.ErrInjected {
		t.Fatalf("expected injected chaos error, got %v", err)
	}
}
