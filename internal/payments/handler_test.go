package payments

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/meridian-commerce/backbone/internal/chaos"
)

func TestHandler_Charge_ReturnsChargedOnSuccess(t *testing.T) {
	h := NewHandler(NewService(chaos.New(chaos.Config{})))

	body, _ := json.Marshal(chargeRequestWire{OrderID: uuid.New(), Amount: 2000})
	req := httptest.NewRequest(http.MethodPost, "/payments/charge", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Charge(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp chargeResponseWire
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "charged" {
		t.Fatalf("expected charged, got %s", resp.Status)
	}
}

func TestHandler_Charge_RejectsMissingOrderID(t *testing.T) {
	h := NewHandler(NewService(chaos.New(chaos.Config{})))

	body, _ := json.Marshal(chargeRequestWire{Amount: 2000})
	req := httptest.NewRequest(http.MethodPost, "/payments/charge", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Charge(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_Charge_MapsChaosFailureTo502(t *testing.T) {
	h := NewHandler(NewService(chaos.New(chaos.Config{Enabled: true, ErrorRate: 1.0})))

	body, _ := json.Marshal(chargeRequestWire{OrderID: uuid.New(), Amount: 2000})
	req := httptest.NewRequest(http.MethodPost, "/payments/charge", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Charge(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}
