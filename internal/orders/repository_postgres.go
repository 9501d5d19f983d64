package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-commerce/backbone/internal/money"
	"github.com/meridian-commerce/backbone/internal/outbox"
)

// PostgresRepository implements Repository over a pgx connection pool.
// The durable idempotency collapse is a partial unique index on
// idempotency_key; CreateOrder relies on its conflict to decide winner
// vs. loser.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs a PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const insertOrderSQL = `
	INSERT INTO orders (id, customer_id, items, total_cents, status, idempotency_key, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), now(), now())
	ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
	RETURNING created_at, updated_at
`

func (r *PostgresRepository) CreateOrder(ctx context.Context, order Order, outboxRepo outbox.Repository, ev outbox.Event) (Order, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Order{}, false, fmt.Errorf("begin create-order tx: %w", err)
	}
	defer tx.Rollback(ctx)

	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return Order{}, false, fmt.Errorf("encode order items: %w", err)
	}

	row := tx.QueryRow(ctx, insertOrderSQL, order.ID, order.CustomerID, itemsJSON,
		order.Total.Cents(), order.Status, order.IdempotencyKey)
	if err := row.Scan(&order.CreatedAt, &order.UpdatedAt); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return Order{}, false, fmt.Errorf("insert order: %w", err)
		}
		// Collapsed on a concurrent duplicate idempotency key: the winner
		// already committed, so read its row back instead of our own.
		existing, ok, err := r.getByIdempotencyKeyTx(ctx, tx, order.IdempotencyKey)
		if err != nil {
			return Order{}, false, err
		}
		if !ok {
			return Order{}, false, fmt.Errorf("order insert conflicted but no row found for key")
		}
		if err := tx.Commit(ctx); err != nil {
			return Order{}, false, fmt.Errorf("commit collapsed read: %w", err)
		}
		return existing, false, nil
	}

	if err := outboxRepo.Append(ctx, outbox.NewAppender(tx), ev); err != nil {
		return Order{}, false, fmt.Errorf("append order_created outbox event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, false, fmt.Errorf("commit create-order tx: %w", err)
	}
	return order, true, nil
}

const updateStatusSQL = `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, outboxRepo outbox.Repository, ev outbox.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update-status tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, updateStatusSQL, id, status); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if err := outboxRepo.Append(ctx, outbox.NewAppender(tx), ev); err != nil {
		return fmt.Errorf("append order_status_updated outbox event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update-status tx: %w", err)
	}
	return nil
}

const selectOrderSQL = `
	SELECT id, customer_id, items, total_cents, status, coalesce(idempotency_key, ''), created_at, updated_at
	FROM orders WHERE id = $1
`

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (Order, bool, error) {
	row := r.pool.QueryRow(ctx, selectOrderSQL, id)
	return scanOrder(row)
}

const selectOrderByKeySQL = `
	SELECT id, customer_id, items, total_cents, status, coalesce(idempotency_key, ''), created_at, updated_at
	FROM orders WHERE idempotency_key = $1
`

func (r *PostgresRepository) GetByIdempotencyKey(ctx context.Context, key string) (Order, bool, error) {
	row := r.pool.QueryRow(ctx, selectOrderByKeySQL, key)
	return scanOrder(row)
}

func (r *PostgresRepository) getByIdempotencyKeyTx(ctx context.Context, tx pgx.Tx, key string) (Order, bool, error) {
	row := tx.QueryRow(ctx, selectOrderByKeySQL, key)
	return scanOrder(row)
}

const listOrdersSQL = `
	SELECT id, customer_id, items, total_cents, status, coalesce(idempotency_key, ''), created_at, updated_at
	FROM orders ORDER BY created_at DESC LIMIT $1
`

func (r *PostgresRepository) List(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, listOrdersSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		order, _, err := scanOrderRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (Order, bool, error) {
	order, err := scanOrderInto(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, false, nil
		}
		return Order{}, false, err
	}
	return order, true, nil
}

func scanOrderRows(row rowScanner) (Order, bool, error) {
	order, err := scanOrderInto(row)
	if err != nil {
		return Order{}, false, err
	}
	return order, true, nil
}

func scanOrderInto(row rowScanner) (Order, error) {
	var order Order
	var itemsJSON []byte
	var totalCents int64
	if err := row.Scan(&order.ID, &order.CustomerID, &itemsJSON, &totalCents,
		&order.Status, &order.IdempotencyKey, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return Order{}, fmt.Errorf("decode order items: %w", err)
	}
	order.Total = money.FromCents(totalCents)
	return order, nil
}
