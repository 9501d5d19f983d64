package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository over a pgx connection pool.
// Reserve locks every referenced product row with SELECT ... FOR UPDATE
// (ordered by product id to avoid deadlocks between concurrent
// multi-item reservations) before checking availability, so two
// concurrent reservations against the same product never both succeed
// past the available-stock check.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs a PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const upsertProductSQL = `
	INSERT INTO products (id, sku, stock, reserved)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE SET sku = excluded.sku, stock = excluded.stock, reserved = excluded.reserved
`

func (r *PostgresRepository) UpsertProduct(ctx context.Context, p Product) error {
	_, err := r.pool.Exec(ctx, upsertProductSQL, p.ID, p.SKU, p.Stock, p.Reserved)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

const selectProductSQL = `SELECT id, sku, stock, reserved FROM products WHERE id = $1`

func (r *PostgresRepository) GetProduct(ctx context.Context, id uuid.UUID) (Product, bool, error) {
	var p Product
	err := r.pool.QueryRow(ctx, selectProductSQL, id).Scan(&p.ID, &p.SKU, &p.Stock, &p.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, false, nil
	}
	if err != nil {
		return Product{}, false, fmt.Errorf("get product: %w", err)
	}
	return p, true, nil
}

const selectExistingReservationSQL = `
	SELECT id FROM reservations WHERE idempotency_key = $1 AND product_id = $2
`

const lockProductSQL = `SELECT id, sku, stock, reserved FROM products WHERE id = $1 FOR UPDATE`

const insertReservationSQL = `
	INSERT INTO reservations (id, order_id, product_id, quantity, status, idempotency_key, created_at)
	VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), now())
`

const updateProductReservedSQL = `UPDATE products SET reserved = reserved + $2 WHERE id = $1`

func (r *PostgresRepository) Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ReserveResult{}, fmt.Errorf("begin reserve tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if req.IdempotencyKey != "" {
		if result, ok, err := r.existingReservationTx(ctx, tx, req); err != nil {
			return ReserveResult{}, err
		} else if ok {
			if err := tx.Commit(ctx); err != nil {
				return ReserveResult{}, fmt.Errorf("commit idempotent reserve read: %w", err)
			}
			return result, nil
		}
	}

	lockOrder := append([]ReserveItem(nil), req.Items...)
	sort.Slice(lockOrder, func(i, j int) bool {
		return lockOrder[i].ProductID.String() < lockOrder[j].ProductID.String()
	})

	products := make(map[uuid.UUID]Product, len(req.Items))
	for _, item := range lockOrder {
		var p Product
		err := tx.QueryRow(ctx, lockProductSQL, item.ProductID).Scan(&p.ID, &p.SKU, &p.Stock, &p.Reserved)
		if errors.Is(err, pgx.ErrNoRows) {
			return ReserveResult{Status: ReservationInsufficient}, tx.Commit(ctx)
		}
		if err != nil {
			return ReserveResult{}, fmt.Errorf("lock product %s: %w", item.ProductID, err)
		}
		products[item.ProductID] = p
	}

	for _, item := range req.Items {
		if products[item.ProductID].Available() < item.Quantity {
			return ReserveResult{Status: ReservationInsufficient}, tx.Commit(ctx)
		}
	}

	var ids []uuid.UUID
	for _, item := range req.Items {
		id := uuid.New()
		if _, err := tx.Exec(ctx, insertReservationSQL, id, req.OrderID, item.ProductID,
			item.Quantity, ReservationReserved, req.IdempotencyKey); err != nil {
			return ReserveResult{}, fmt.Errorf("insert reservation: %w", err)
		}
		if _, err := tx.Exec(ctx, updateProductReservedSQL, item.ProductID, item.Quantity); err != nil {
			return ReserveResult{}, fmt.Errorf("update reserved stock: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return ReserveResult{}, fmt.Errorf("commit reserve tx: %w", err)
	}
	return ReserveResult{ReservationIDs: ids, Status: ReservationReserved}, nil
}

func (r *PostgresRepository) existingReservationTx(ctx context.Context, tx pgx.Tx, req ReserveRequest) (ReserveResult, bool, error) {
	var ids []uuid.UUID
	for _, item := range req.Items {
		var id uuid.UUID
		err := tx.QueryRow(ctx, selectExistingReservationSQL, req.IdempotencyKey, item.ProductID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return ReserveResult{}, false, nil
		}
		if err != nil {
			return ReserveResult{}, false, fmt.Errorf("check existing reservation: %w", err)
		}
		ids = append(ids, id)
	}
	return ReserveResult{ReservationIDs: ids, Status: ReservationReserved}, true, nil
}
