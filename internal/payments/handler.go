package payments

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/meridian-commerce/backbone/internal/apperr"
	"github.com/meridian-commerce/backbone/internal/httpmw"
	"github.com/meridian-commerce/backbone/internal/money"
)

// Handler serves the internal POST /payments/charge surface.
type Handler struct {
	svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type chargeRequestWire struct {
	OrderID uuid.UUID   `json:"order_id"`
	Amount  money.Money `json:"amount"`
}

type chargeResponseWire struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Status        string    `json:"status"`
}

// Charge handles POST /payments/charge.
func (h *Handler) Charge(w http.ResponseWriter, r *http.Request) {
	var wire chargeRequestWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		httpmw.WriteError(w, http.StatusBadRequest, "invalid request body", 0)
		return
	}
	if wire.OrderID == uuid.Nil || wire.Amount <= 0 {
		httpmw.WriteError(w, http.StatusBadRequest, "order_id and a positive amount are required", 0)
		return
	}

	req := ChargeRequest{
		OrderID:        wire.OrderID,
		Amount:         wire.Amount,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}

	charge, err := h.svc.Charge(r.Context(), req)
	if err != nil {
		cat := apperr.CategoryOf(err)
		httpmw.WriteError(w, cat.HTTPStatus(), err.Error(), apperr.RetryHintOf(err))
		return
	}

	httpmw.WriteJSON(w, http.StatusOK, chargeResponseWire{
		TransactionID: charge.TransactionID,
		Status:        string(charge.Status),
	})
}
