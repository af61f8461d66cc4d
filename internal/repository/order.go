package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-orders/internal/domain/cart"
	"github.com/xenking/oolio-orders/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, idempotency_key, customer_id, restaurant_id, fulfillment,
		items, address, subtotal, tax_rate, tax_amount, delivery_fee, total, tax_region,
		customer_note, restaurant_note, status, status_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	selectOrderSQL = `SELECT id, idempotency_key, customer_id, restaurant_id, fulfillment,
		items, address, subtotal, tax_rate, tax_amount, delivery_fee, total, tax_region,
		customer_note, restaurant_note, status, status_version, created_at
		FROM orders`

	getOrderByIDSQL             = selectOrderSQL + ` WHERE id = $1`
	getOrderByIdempotencyKeySQL = selectOrderSQL + ` WHERE idempotency_key = $1`

	getOrderHistorySQL = `SELECT from_status, to_status, actor, note, created_at
		FROM order_status_history WHERE order_id = $1 ORDER BY id`

	insertHistorySQL = `INSERT INTO order_status_history (order_id, from_status, to_status, actor, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	updateOrderStatusSQL = `UPDATE orders
		SET status = $2, status_version = $3, restaurant_note = $4, updated_at = $5
		WHERE id = $1 AND status_version = $6`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order together with its initial history. Items and
// address are serialized to JSON for the JSONB columns. A reused idempotency
// key yields order.ErrDuplicateOrder.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	var addressJSON []byte
	if o.Address != nil {
		if addressJSON, err = json.Marshal(o.Address); err != nil {
			return fmt.Errorf("marshaling order address: %w", err)
		}
	}

	lc := o.Lifecycle()
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		q := o.Quote
		_, err := tx.Exec(ctx, createOrderSQL,
			o.ID, o.IdempotencyKey, o.CustomerID, o.RestaurantID, o.Fulfillment.String(),
			itemsJSON, addressJSON, q.Subtotal, q.TaxRate, q.TaxAmount, q.DeliveryFee, q.Total, q.Region,
			o.CustomerNote, lc.RestaurantNote, lc.Status.String(), lc.Version, o.CreatedAt, o.UpdatedAt(),
		)
		if err != nil {
			return err
		}
		for _, ch := range lc.History {
			if err := insertHistory(ctx, tx, o.ID, ch); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return order.ErrDuplicateOrder
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	return nil
}

// GetByID returns the order with the given id or order.ErrNotFound.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, getOrderByIDSQL, id)
}

// GetByIdempotencyKey returns the order placed under key or order.ErrNotFound.
func (r *OrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	return r.get(ctx, getOrderByIdempotencyKeySQL, key)
}

// UpdateStatus writes the order's lifecycle and appends change to the
// history, provided the stored version still equals expectedVersion.
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *order.Order, change order.StatusChange, expectedVersion int) error {
	lc := o.Lifecycle()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updateOrderStatusSQL,
			o.ID, lc.Status.String(), lc.Version, lc.RestaurantNote, change.At, expectedVersion,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return order.ErrConcurrentUpdate
		}
		return insertHistory(ctx, tx, o.ID, change)
	})
	if err != nil {
		if errors.Is(err, order.ErrConcurrentUpdate) {
			return err
		}
		return fmt.Errorf("updating status of order %q: %w", o.ID, err)
	}
	return nil
}

func (r *OrderRepository) get(ctx context.Context, query, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}

	rows, err = r.pool.Query(ctx, getOrderHistorySQL, row.o.ID)
	if err != nil {
		return nil, fmt.Errorf("getting history of order %q: %w", row.o.ID, err)
	}
	history, err := pgx.CollectRows(rows, scanStatusChange)
	if err != nil {
		return nil, fmt.Errorf("getting history of order %q: %w", row.o.ID, err)
	}
	row.lc.History = history

	return order.Restore(row.o, row.lc), nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, orderID string, ch order.StatusChange) error {
	var from *string
	if ch.From != nil {
		s := ch.From.String()
		from = &s
	}
	_, err := tx.Exec(ctx, insertHistorySQL, orderID, from, ch.To.String(), ch.Actor, ch.Note, ch.At)
	return err
}

type orderRow struct {
	o  order.Order
	lc order.Lifecycle
}

func scanOrder(row pgx.CollectableRow) (orderRow, error) {
	var (
		r           orderRow
		fulfillment string
		status      string
		itemsJSON   []byte
		addressJSON []byte
	)
	q := &r.o.Quote
	err := row.Scan(
		&r.o.ID, &r.o.IdempotencyKey, &r.o.CustomerID, &r.o.RestaurantID, &fulfillment,
		&itemsJSON, &addressJSON, &q.Subtotal, &q.TaxRate, &q.TaxAmount, &q.DeliveryFee, &q.Total, &q.Region,
		&r.o.CustomerNote, &r.lc.RestaurantNote, &status, &r.lc.Version, &r.o.CreatedAt,
	)
	if err != nil {
		return r, err
	}
	r.o.CreatedAt = r.o.CreatedAt.UTC()

	if r.o.Fulfillment, err = cart.ParseFulfillment(fulfillment); err != nil {
		return r, err
	}
	if r.lc.Status, err = order.ParseStatus(status); err != nil {
		return r, err
	}
	if err := json.Unmarshal(itemsJSON, &r.o.Items); err != nil {
		return r, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if len(addressJSON) > 0 {
		r.o.Address = new(order.Address)
		if err := json.Unmarshal(addressJSON, r.o.Address); err != nil {
			return r, fmt.Errorf("unmarshaling order address: %w", err)
		}
	}
	return r, nil
}

func scanStatusChange(row pgx.CollectableRow) (order.StatusChange, error) {
	var (
		ch   order.StatusChange
		from *string
		to   string
		at   time.Time
	)
	if err := row.Scan(&from, &to, &ch.Actor, &ch.Note, &at); err != nil {
		return ch, err
	}
	ch.At = at.UTC()

	var err error
	if from != nil {
		s, err := order.ParseStatus(*from)
		if err != nil {
			return ch, err
		}
		ch.From = &s
	}
	if ch.To, err = order.ParseStatus(to); err != nil {
		return ch, err
	}
	return ch, nil
}
