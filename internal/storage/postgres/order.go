package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-orders/internal/domain/order"
)

const (
	orderColumns = `id, user_id, items, amount, address, payment_method, payment, status, external_ref, created_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders`

	markOrderPaidSQL = `UPDATE orders SET payment = TRUE WHERE id = $1`

	setExternalRefSQL = `UPDATE orders SET external_ref = $2 WHERE id = $1`

	updateOrderStatusSQL = `UPDATE orders SET status = $2 WHERE id = $1`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Items
// and address are stored as JSONB.
type OrderRepository struct {
	q querier
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	addressJSON, err := json.Marshal(o.Address)
	if err != nil {
		return fmt.Errorf("marshaling order address: %w", err)
	}

	_, err = r.q.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, itemsJSON, o.Amount, addressJSON,
		string(o.Method), o.Payment, string(o.Status), o.ExternalRef, o.Date,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderSQL, id)
}

// GetForUpdate locks the row with SELECT ... FOR UPDATE. Outside a
// transaction the lock is released immediately.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderForUpdateSQL, id)
}

func (r *OrderRepository) getOne(ctx context.Context, sql, id string) (*order.Order, error) {
	rows, err := r.q.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// List returns matching orders, oldest first.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.UserID != "" {
		where = append(where, "user_id = "+arg(f.UserID))
	}
	if f.Unpaid {
		where = append(where, "payment = FALSE")
	}
	if len(f.Methods) > 0 {
		methods := make([]string, 0, len(f.Methods))
		for _, m := range f.Methods {
			methods = append(methods, string(m))
		}
		where = append(where, "payment_method = ANY("+arg(methods)+")")
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at < "+arg(f.CreatedBefore))
	}

	sql := listOrdersSQL
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at, id"

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return orders, nil
}

func (r *OrderRepository) MarkPaid(ctx context.Context, id string) error {
	return r.exec(ctx, "marking order paid", markOrderPaidSQL, id)
}

func (r *OrderRepository) SetExternalRef(ctx context.Context, id, ref string) error {
	return r.exec(ctx, "setting external ref", setExternalRefSQL, id, ref)
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status order.Status) error {
	return r.exec(ctx, "updating order status", updateOrderStatusSQL, id, string(status))
}

func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, "deleting order", deleteOrderSQL, id)
}

// exec runs a single-row statement and maps zero affected rows to
// order.ErrNotFound.
func (r *OrderRepository) exec(ctx context.Context, op, sql, id string, args ...any) error {
	tag, err := r.q.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("%s %q: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o           order.Order
		itemsJSON   []byte
		addressJSON []byte
		method      string
		status      string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &itemsJSON, &o.Amount, &addressJSON,
		&method, &o.Payment, &status, &o.ExternalRef, &o.Date,
	)
	if err != nil {
		return order.Order{}, fmt.Errorf("scanning order: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return order.Order{}, fmt.Errorf("unmarshaling items of order %q: %w", o.ID, err)
	}
	if err := json.Unmarshal(addressJSON, &o.Address); err != nil {
		return order.Order{}, fmt.Errorf("unmarshaling address of order %q: %w", o.ID, err)
	}
	o.Method = order.Method(method)
	o.Status = order.Status(status)
	o.Date = o.Date.UTC()
	return o, nil
}
