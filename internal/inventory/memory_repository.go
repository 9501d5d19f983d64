package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used in dev mode without a
// Postgres DSN and by this package's tests.
type MemoryRepository struct {
	mu              sync.Mutex
	products        map[uuid.UUID]Product
	reservationsBy  map[reservationKey]Reservation
	reservationList []Reservation
}

type reservationKey struct {
	idempotencyKey string
	productID      uuid.UUID
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		products:       make(map[uuid.UUID]Product),
		reservationsBy: make(map[reservationKey]Reservation),
	}
}

func (r *MemoryRepository) UpsertProduct(ctx context.Context, p Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
	return nil
}

func (r *MemoryRepository) GetProduct(ctx context.Context, id uuid.UUID) (Product, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	return p, ok, nil
}

func (r *MemoryRepository) Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.IdempotencyKey != "" {
		if ids, ok := r.existingReservation(req); ok {
			return ids, nil
		}
	}

	for _, item := range req.Items {
		p, ok := r.products[item.ProductID]
		if !ok || p.Available() < item.Quantity {
			return ReserveResult{Status: ReservationInsufficient}, nil
		}
	}

	var ids []uuid.UUID
	for _, item := range req.Items {
		p := r.products[item.ProductID]
		p.Reserved += item.Quantity
		r.products[item.ProductID] = p

		res := Reservation{
			ID:             uuid.New(),
			OrderID:        req.OrderID,
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			Status:         ReservationReserved,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      time.Now(),
		}
		ids = append(ids, res.ID)
		r.reservationList = append(r.reservationList, res)
		if req.IdempotencyKey != "" {
			r.reservationsBy[reservationKey{req.IdempotencyKey, item.ProductID}] = res
		}
	}

	return ReserveResult{ReservationIDs: ids, Status: ReservationReserved}, nil
}

// existingReservation checks whether every item in req already has a
// reservation recorded under req.IdempotencyKey, and if so returns the
// aggregate result without re-reserving stock.
func (r *MemoryRepository) existingReservation(req ReserveRequest) (ReserveResult, bool) {
	var ids []uuid.UUID
	for _, item := range req.Items {
		res, ok := r.reservationsBy[reservationKey{req.IdempotencyKey, item.ProductID}]
		if !ok {
			return ReserveResult{}, false
		}
		ids = append(ids, res.ID)
	}
	return ReserveResult{ReservationIDs: ids, Status: ReservationReserved}, true
}
