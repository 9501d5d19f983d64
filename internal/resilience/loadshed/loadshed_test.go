package loadshed

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/meridian-commerce/backbone/internal/apperr"
)

func TestShedder_AdmitsUpToMax(t *testing.T) {
	s := New(Config{Service: "orders", MaxInflight: 2, RetryHintS: 5})

	rel1, err := s.Admit()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rel2, err := s.Admit()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Inflight() != 2 {
		t.Fatalf("expected 2 inflight, got %d", s.Inflight())
	}
	rel1()
	rel2()
}

func TestShedder_RejectsImmediatelyAtCapacity(t *testing.T) {
	s := New(Config{Service: "orders", MaxInflight: 1, RetryHintS: 5})
	release, err := s.Admit()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer release()

	_, err = s.Admit()
	if apperr.CategoryOf(err) != apperr.CategoryShed {
		t.Fatalf("expected CategoryShed, got %v", err)
	}
}

func TestShedder_ReleaseFreesSlot(t *testing.T) {
	s := New(Config{Service: "orders", MaxInflight: 1, RetryHintS: 5})
	release, _ := s.Admit()
	release()
	release() // idempotent

	if _, err := s.Admit(); err != nil {
		t.Fatalf("expected admission after release, got %v", err)
	}
}

func TestMiddleware_RejectsWithRetryAfterWhenOverloaded(t *testing.T) {
	s := New(Config{Service: "orders", MaxInflight: 0, RetryHintS: 7})
	handler := Middleware(s)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "7" {
		t.Fatalf("expected Retry-After: 7, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestMiddleware_NeverShedsHealthEndpoints(t *testing.T) {
	s := New(Config{Service: "orders", MaxInflight: 0, RetryHintS: 5})
	handler := Middleware(s)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected health endpoint to bypass shedding, got %d", rec.Code)
	}
}
