package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/meridian-commerce/backbone/internal/downstream"
	"github.com/meridian-commerce/backbone/internal/metrics"
	"github.com/meridian-commerce/backbone/internal/money"
	"github.com/meridian-commerce/backbone/internal/outbox"
)

// Service is the order orchestrator: create the order and its
// order_created event in one transaction, fan out to payments and
// inventory concurrently, aggregate the outcome, and record it with a
// second transaction/event. It never compensates a successful charge on
// inventory failure; the order_status_updated event is the only
// downstream contract, and any reversal policy lives behind it.
type Service struct {
	repo       Repository
	outboxRepo outbox.Repository
	payments   *downstream.Client
	inventory  *downstream.Client
}

// NewService constructs a Service.
func NewService(repo Repository, outboxRepo outbox.Repository, paymentsClient, inventoryClient *downstream.Client) *Service {
	return &Service{
		repo:       repo,
		outboxRepo: outboxRepo,
		payments:   paymentsClient,
		inventory:  inventoryClient,
	}
}

// CreateOrderRequest is the inbound POST /orders payload.
type CreateOrderRequest struct {
	CustomerID     string
	Items          []Item
	IdempotencyKey string
}

type orderCreatedPayload struct {
	OrderID     uuid.UUID   `json:"order_id"`
	CustomerID  string      `json:"customer_id"`
	TotalAmount money.Money `json:"total_amount"`
}

type orderStatusUpdatedPayload struct {
	OrderID uuid.UUID `json:"order_id"`
	Status  Status    `json:"status"`
}

type paymentChargeRequest struct {
	OrderID uuid.UUID   `json:"order_id"`
	Amount  money.Money `json:"amount"`
}

type paymentChargeResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Status        string    `json:"status"`
}

type inventoryReserveItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

type inventoryReserveRequest struct {
	OrderID uuid.UUID              `json:"order_id"`
	Items   []inventoryReserveItem `json:"items"`
}

type inventoryReserveResponse struct {
	ReservationIDs []uuid.UUID `json:"reservation_ids"`
	Status         string      `json:"status"`
}

// CreateOrder runs the whole create/fan-out/finalize sequence. Created
// reports whether
// this call produced a fresh order, as opposed to replaying the result of
// an earlier call that collapsed on the same idempotency key at the
// repository's unique-index layer — in the replay case the fan-out is
// skipped entirely since the original call already ran it (or is still
// running it, in which case the caller will observe the order still
// pending).
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (order Order, created bool, err error) {
	draft := New(req.CustomerID, req.Items, req.IdempotencyKey)

	payload, err := json.Marshal(orderCreatedPayload{
		OrderID:     draft.ID,
		CustomerID:  draft.CustomerID,
		TotalAmount: draft.Total,
	})
	if err != nil {
		return Order{}, false, fmt.Errorf("encode order_created payload: %w", err)
	}
	ev := outbox.NewEvent("order", draft.ID, "order_created", payload)

	stored, created, err := s.repo.CreateOrder(ctx, draft, s.outboxRepo, ev)
	if err != nil {
		return Order{}, false, fmt.Errorf("create order: %w", err)
	}
	if !created {
		metrics.DuplicateWriteTotal.WithLabelValues("gateway", "create_order").Inc()
		return stored, false, nil
	}
	metrics.OrdersCreatedTotal.Inc()

	status, err := s.fanOutAndFinalize(ctx, stored)
	if err != nil {
		return Order{}, false, err
	}
	stored.Status = status
	return stored, true, nil
}

// fanOutAndFinalize runs the concurrent payments/inventory calls, derives
// the terminal status, and records it in the second transaction.
func (s *Service) fanOutAndFinalize(ctx context.Context, order Order) (Status, error) {
	paymentOK, inventoryOK := s.fanOut(ctx, order)
	status := AggregateStatus(paymentOK, inventoryOK)

	statusPayload, err := json.Marshal(orderStatusUpdatedPayload{OrderID: order.ID, Status: status})
	if err != nil {
		return "", fmt.Errorf("encode order_status_updated payload: %w", err)
	}
	statusEv := outbox.NewEvent("order", order.ID, "order_status_updated", statusPayload)

	if err := s.repo.UpdateStatus(ctx, order.ID, status, s.outboxRepo, statusEv); err != nil {
		return "", fmt.Errorf("update order status: %w", err)
	}
	return status, nil
}

// fanOut calls payments and inventory concurrently, each bounded by the
// deadline already attached to ctx, and reports whether each succeeded.
// Both calls carry a downstream idempotency key derived from the order id.
// Inventory reserves are idempotent on that key, so a process crash
// mid-fanout followed by manual replay never double-reserves; payments is
// stateless and keeps no record of the key, so a replayed charge is
// charged again.
func (s *Service) fanOut(ctx context.Context, order Order) (paymentOK, inventoryOK bool) {
	idempotencyKey := order.ID.String()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		var resp paymentChargeResponse
		chargeErr := s.payments.PostJSON(ctx, "charge", "/payments/charge", idempotencyKey,
			paymentChargeRequest{OrderID: order.ID, Amount: order.Total}, &resp)
		paymentOK = chargeErr == nil
	}()

	go func() {
		defer wg.Done()
		items := make([]inventoryReserveItem, len(order.Items))
		for i, it := range order.Items {
			items[i] = inventoryReserveItem{ProductID: it.ProductID, Quantity: it.Quantity}
		}
		var resp inventoryReserveResponse
		reserveErr := s.inventory.PostJSON(ctx, "reserve", "/inventory/reserve", idempotencyKey,
			inventoryReserveRequest{OrderID: order.ID, Items: items}, &resp)
		inventoryOK = reserveErr == nil
	}()

	wg.Wait()
	return paymentOK, inventoryOK
}

// GetOrder fetches a single order by id.
func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (Order, bool, error) {
	return s.repo.GetByID(ctx, id)
}

// ListOrders lists the most recent orders, bounded by limit.
func (s *Service) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	return s.repo.List(ctx, limit)
}
