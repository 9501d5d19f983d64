package inventory

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/meridian-commerce/backbone/internal/apperr"
	"github.com/meridian-commerce/backbone/internal/httpmw"
)

// Handler serves the internal POST /inventory/reserve surface.
type Handler struct {
	svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type reserveItemWire struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

type reserveRequestWire struct {
	OrderID uuid.UUID         `json:"order_id"`
	Items   []reserveItemWire `json:"items"`
}

type reserveResponseWire struct {
	ReservationIDs []uuid.UUID `json:"reservation_ids"`
	Status         string      `json:"status"`
}

// Reserve handles POST /inventory/reserve.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var wire reserveRequestWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		httpmw.WriteError(w, http.StatusBadRequest, "invalid request body", 0)
		return
	}
	if wire.OrderID == uuid.Nil || len(wire.Items) == 0 {
		httpmw.WriteError(w, http.StatusBadRequest, "order_id and items are required", 0)
		return
	}
	for _, item := range wire.Items {
		if item.Quantity <= 0 {
			httpmw.WriteError(w, http.StatusBadRequest, "item quantity must be positive", 0)
			return
		}
	}

	req := ReserveRequest{
		OrderID:        wire.OrderID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for _, item := range wire.Items {
		req.Items = append(req.Items, ReserveItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	result, err := h.svc.Reserve(r.Context(), req)
	if err != nil {
		cat := apperr.CategoryOf(err)
		httpmw.WriteError(w, cat.HTTPStatus(), err.Error(), apperr.RetryHintOf(err))
		return
	}

	resp := reserveResponseWire{ReservationIDs: result.ReservationIDs, Status: string(result.Status)}
	if result.Status == ReservationInsufficient {
		httpmw.WriteJSON(w, http.StatusConflict, resp)
		return
	}
	httpmw.WriteJSON(w, http.StatusOK, resp)
}
