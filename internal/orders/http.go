package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridian-commerce/backbone/internal/apperr"
	"github.com/meridian-commerce/backbone/internal/downstream"
	"github.com/meridian-commerce/backbone/internal/httpmw"
	"github.com/meridian-commerce/backbone/internal/resilience/idempotency"
)

// Handler serves the public order surface: POST /orders, GET /orders,
// GET /orders/{id}, plus the GET /status/breakers diagnostic.
type Handler struct {
	svc       *Service
	idemp     *idempotency.Filter
	payments  *downstream.Client
	inventory *downstream.Client
}

// NewHandler constructs a Handler. payments/inventory are the same
// clients the Service fans out through, reused here only to report
// breaker state.
func NewHandler(svc *Service, idemp *idempotency.Filter, paymentsClient, inventoryClient *downstream.Client) *Handler {
	return &Handler{svc: svc, idemp: idemp, payments: paymentsClient, inventory: inventoryClient}
}

type createOrderWire struct {
	CustomerID     string `json:"customer_id"`
	Items          []Item `json:"items"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type orderWire struct {
	ID             uuid.UUID `json:"id"`
	CustomerID     string    `json:"customer_id"`
	Items          []Item    `json:"items"`
	Total          string    `json:"total"`
	Status         Status    `json:"status"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
}

func toWire(o Order) orderWire {
	return orderWire{
		ID:             o.ID,
		CustomerID:     o.CustomerID,
		Items:          o.Items,
		Total:          o.Total.String(),
		Status:         o.Status,
		IdempotencyKey: o.IdempotencyKey,
	}
}

// CreateOrder handles POST /orders end to end: idempotent dedup at the
// edge, order creation + outbox in one transaction, concurrent fan-out,
// status aggregation, and a second transaction recording the terminal
// status. HTTP status is 201 when the order confirmed, 202 for any other
// terminal status; a replayed idempotent request echoes the original
// response with X-Idempotency-Replayed set.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var wire createOrderWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		httpmw.WriteError(w, http.StatusBadRequest, "invalid request body", 0)
		return
	}
	if wire.CustomerID == "" || len(wire.Items) == 0 {
		httpmw.WriteError(w, http.StatusBadRequest, "customer_id and at least one item are required", 0)
		return
	}
	for _, it := range wire.Items {
		if it.Quantity <= 0 || it.UnitPrice <= 0 {
			httpmw.WriteError(w, http.StatusBadRequest, "item quantity and unit_price must be positive", 0)
			return
		}
	}

	// Header wins; the body field is the fallback for clients that can't
	// set custom headers.
	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		idempotencyKey = wire.IdempotencyKey
	}

	run := func(ctx context.Context) (idempotency.CachedResponse, error) {
		order, created, err := h.svc.CreateOrder(ctx, CreateOrderRequest{
			CustomerID:     wire.CustomerID,
			Items:          wire.Items,
			IdempotencyKey: idempotencyKey,
		})
		if err != nil {
			cat := apperr.CategoryOf(err)
			body, _ := json.Marshal(httpmw.ErrorBody{Error: err.Error(), RetryAfter: apperr.RetryHintOf(err)})
			return idempotency.CachedResponse{StatusCode: cat.HTTPStatus(), Body: body}, nil
		}

		status := http.StatusAccepted
		if created && order.Status == StatusConfirmed {
			status = http.StatusCreated
		} else if !created {
			status = http.StatusOK
		}
		body, _ := json.Marshal(toWire(order))
		return idempotency.CachedResponse{StatusCode: status, Body: body}, nil
	}

	var resp idempotency.CachedResponse
	var err error
	replayed := false
	if idempotencyKey == "" {
		resp, err = run(r.Context())
	} else {
		before := true
		resp, err = h.idemp.Execute(r.Context(), idempotencyKey, func(ctx context.Context) (idempotency.CachedResponse, error) {
			before = false
			return run(ctx)
		})
		replayed = before
	}
	if err != nil {
		cat := apperr.CategoryOf(err)
		httpmw.WriteError(w, cat.HTTPStatus(), err.Error(), apperr.RetryHintOf(err))
		return
	}

	if replayed {
		w.Header().Set("X-Idempotency-Replayed", "true")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

// GetOrder handles GET /orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpmw.WriteError(w, http.StatusBadRequest, "invalid order id", 0)
		return
	}
	order, ok, err := h.svc.GetOrder(r.Context(), id)
	if err != nil {
		httpmw.WriteError(w, http.StatusInternalServerError, err.Error(), 0)
		return
	}
	if !ok {
		httpmw.WriteError(w, http.StatusNotFound, "order not found", 0)
		return
	}
	httpmw.WriteJSON(w, http.StatusOK, toWire(order))
}

// ListOrders handles GET /orders?limit=N.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	orders, err := h.svc.ListOrders(r.Context(), limit)
	if err != nil {
		httpmw.WriteError(w, http.StatusInternalServerError, err.Error(), 0)
		return
	}
	wires := make([]orderWire, len(orders))
	for i, o := range orders {
		wires[i] = toWire(o)
	}
	httpmw.WriteJSON(w, http.StatusOK, wires)
}

type breakerStatusWire struct {
	Downstream string `json:"downstream"`
	State      string `json:"state"`
	Inflight   int    `json:"bulkhead_inflight"`
	Capacity   int    `json:"bulkhead_capacity"`
}

// StatusBreakers handles GET /status/breakers, reporting the gateway's
// view of each downstream's circuit breaker and bulkhead occupancy.
func (h *Handler) StatusBreakers(w http.ResponseWriter, r *http.Request) {
	statuses := []breakerStatusWire{
		breakerWire("payments", h.payments),
		breakerWire("inventory", h.inventory),
	}
	httpmw.WriteJSON(w, http.StatusOK, statuses)
}

func breakerWire(name string, c *downstream.Client) breakerStatusWire {
	return breakerStatusWire{
		Downstream: name,
		State:      c.Breaker().State().String(),
		Inflight:   c.Bulkhead().InFlight(),
		Capacity:   c.Bulkhead().Capacity(),
	}
}
