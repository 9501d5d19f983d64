package inventory

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/meridian-commerce/backbone/internal/chaos"
)

func TestService_Reserve_ReservesAvailableStock(t *testing.T) {
	repo := NewMemoryRepository()
	productID := uuid.New()
	repo.UpsertProduct(context.Background(), Product{ID: productID, SKU: "widget", Stock: 10})

	svc := NewService(repo, chaos.New(chaos.Config{}))
	result, err := svc.Reserve(context.Background(), ReserveRequest{
		OrderID: uuid.New(),
		Items:   []ReserveItem{{ProductID: productID, Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != ReservationReserved {
		t.Fatalf("expected reserved, got %s", result.Status)
	}
	if len(result.ReservationIDs) != 1 {
		t.Fatalf("expected 1 reservation id, got %d", len(result.ReservationIDs))
	}

	p, _, _ := repo.GetProduct(context.Background(), productID)
	if p.Available() != 7 {
		t.Fatalf("expected 7 available, got %d", p.Available())
	}
}

func TestService_Reserve_InsufficientStock(t *testing.T) {
	repo := NewMemoryRepository()
	productID := uuid.New()
	repo.UpsertProduct(context.Background(), Product{ID: productID, SKU: "widget", Stock: 2})

	svc := NewService(repo, chaos.New(chaos.Config{}))
	result, err := svc.Reserve(context.Background(), ReserveRequest{
		OrderID: uuid.New(),
		Items:   []ReserveItem{{ProductID: productID, Quantity: 5}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != ReservationInsufficient {
		t.Fatalf("expected insufficient_stock, got %s", result.Status)
	}
}

func TestService_Reserve_IdempotentReplayDoesNotDoubleReserve(t *testing.T) {
	repo := NewMemoryRepository()
	productID := uuid.New()
	repo.UpsertProduct(context.Background(), Product{ID: productID, SKU: "widget", Stock: 10})

	svc := NewService(repo, chaos.New(chaos.Config{}))
	req := ReserveRequest{
		OrderID:        uuid.New(),
		IdempotencyKey: "key-1",
		Items:          []ReserveItem{{ProductID: productID, Quantity: 3}},
	}

	first, err := svc.Reserve(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Reserve(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ReservationIDs[0] != second.ReservationIDs[0] {
		t.Fatalf("expected replay to return the same reservation id")
	}

	p, _, _ := repo.GetProduct(context.Background(), productID)
	if p.Available() != 7 {
		t.Fatalf("expected stock reserved only once, available=%d", p.Available())
	}
}
