package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/meridian-commerce/backbone/internal/chaos"
)

func TestHandler_Reserve_ReturnsReservedOnSuccess(t *testing.T) {
	repo := NewMemoryRepository()
	productID := uuid.New()
	repo.UpsertProduct(context.Background(), Product{ID: productID, SKU: "widget", Stock: 10})
	h := NewHandler(NewService(repo, chaos.New(chaos.Config{})))

	body, _ := json.Marshal(reserveRequestWire{
		OrderID: uuid.New(),
		Items:   []reserveItemWire{{ProductID: productID, Quantity: 2}},
	})
	req := httptest.NewRequest(http.MethodPost, "/inventory/reserve", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Reserve(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_Reserve_ReturnsConflictOnInsufficientStock(t *testing.T) {
	repo := NewMemoryRepository()
	productID := uuid.New()
	repo.UpsertProduct(context.Background(), Product{ID: productID, SKU: "widget", Stock: 1})
	h := NewHandler(NewService(repo, chaos.New(chaos.Config{})))

	body, _ := json.Marshal(reserveRequestWire{
		OrderID: uuid.New(),
		Items:   []reserveItemWire{{ProductID: productID, Quantity: 5}},
	})
	req := httptest.NewRequest(http.MethodPost, "/inventory/reserve", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Reserve(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandler_Reserve_RejectsEmptyItems(t *testing.T) {
	repo := NewMemoryRepository()
	h := NewHandler(NewService(repo, chaos.New(chaos.Config{})))

	body, _ := json.Marshal(reserveRequestWire{OrderID: uuid.New()})
	req := httptest.NewRequest(http.MethodPost, "/inventory/reserve", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Reserve(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
