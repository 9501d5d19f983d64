package orders

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-commerce/backbone/internal/downstream"
	"github.com/meridian-commerce/backbone/internal/outbox"
	"github.com/meridian-commerce/backbone/internal/resilience/breaker"
	"github.com/meridian-commerce/backbone/internal/resilience/bulkhead"
	"github.com/meridian-commerce/backbone/internal/resilience/deadline"
	"github.com/meridian-commerce/backbone/internal/resilience/retry"
)

func fakeDownstream(t *testing.T, name string, handler http.HandlerFunc) *downstream.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	retryCfg := retry.DefaultConfig("gateway", name, "")
	retryCfg.BaseDelay = time.Millisecond
	retryCfg.MaxDelay = 2 * time.Millisecond

	return downstream.New(downstream.Config{
		Downstream: name,
		BaseURL:    srv.URL,
		Bulkhead:   bulkhead.Config{Downstream: name, Capacity: 4, MaxWait: 100 * time.Millisecond},
		Breaker:    breaker.DefaultConfig(name),
		Retry:      retryCfg,
		Deadline:   deadline.DefaultConfig(),
	})
}

func okJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func failWith(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "injected", status)
	}
}

func newTestService(t *testing.T, payments, inventory http.HandlerFunc) (*Service, *outbox.MemoryRepository) {
	t.Helper()
	outboxRepo := outbox.NewMemoryRepository()
	svc := NewService(NewMemoryRepository(), outboxRepo,
		fakeDownstream(t, "payments", payments),
		fakeDownstream(t, "inventory", inventory))
	return svc, outboxRepo
}

func testRequest() CreateOrderRequest {
	return CreateOrderRequest{
		CustomerID: "c1",
		Items:      []Item{{ProductID: uuid.New(), Quantity: 2, UnitPrice: 1000}},
	}
}

func TestCreateOrder_BothDownstreamsOK_Confirms(t *testing.T) {
	svc, outboxRepo := newTestService(t,
		okJSON(`{"transaction_id":"`+uuid.NewString()+`","status":"charged"}`),
		okJSON(`{"reservation_ids":[],"status":"reserved"}`))

	order, created, err := svc.CreateOrder(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatal("expected a fresh order")
	}
	if order.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", order.Status)
	}
	if order.Total.Cents() != 2000 {
		t.Fatalf("expected total 2000 cents, got %d", order.Total.Cents())
	}

	// One order_created and one order_status_updated event, both pending.
	n, err := outboxRepo.PendingCount(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 pending outbox events, got %d", n)
	}
}

func TestCreateOrder_PaymentFailure_IsTerminalStatusNotError(t *testing.T) {
	svc, _ := newTestService(t,
		failWith(http.StatusInternalServerError),
		okJSON(`{"reservation_ids":[],"status":"reserved"}`))

	order, _, err := svc.CreateOrder(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("partial failure must surface as a status, not an error: %v", err)
	}
	if order.Status != StatusPaymentFailed {
		t.Fatalf("expected payment_failed, got %s", order.Status)
	}
}

func TestCreateOrder_BothFail_StatusFailed(t *testing.T) {
	svc, _ := newTestService(t,
		failWith(http.StatusInternalServerError),
		failWith(http.StatusConflict))

	order, _, err := svc.CreateOrder(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", order.Status)
	}
}

func TestCreateOrder_DuplicateIdempotencyKeyCollapsesToWinner(t *testing.T) {
	svc, outboxRepo := newTestService(t,
		okJSON(`{"transaction_id":"`+uuid.NewString()+`","status":"charged"}`),
		okJSON(`{"reservation_ids":[],"status":"reserved"}`))

	req := testRequest()
	req.IdempotencyKey = "K1"

	first, created, err := svc.CreateOrder(context.Background(), req)
	if err != nil || !created {
		t.Fatalf("first create failed: created=%v err=%v", created, err)
	}

	second, created, err := svc.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatal("expected the duplicate to collapse onto the winner")
	}
	if second.ID != first.ID {
		t.Fatalf("expected the winner's row back, got %s vs %s", second.ID, first.ID)
	}

	// The collapsed call must not have emitted new outbox events.
	n, _ := outboxRepo.PendingCount(context.Background())
	if n != 2 {
		t.Fatalf("expected 2 pending outbox events after replay, got %d", n)
	}
}

func TestAggregateStatus_DecisionTable(t *testing.T) {
	cases := []struct {
		paymentOK, inventoryOK bool
		want                   Status
	}{
		{true, true, StatusConfirmed},
		{false, true, StatusPaymentFailed},
		{true, false, StatusInventoryFailed},
		{false, false, StatusFailed},
	}
	for _, tc := range cases {
		if got := AggregateStatus(tc.paymentOK, tc.inventoryOK); got != tc.want {
			t.Fatalf("AggregateStatus(%v,%v) = %s, want %s", tc.paymentOK, tc.inventoryOK, got, tc.want)
		}
	}
}
