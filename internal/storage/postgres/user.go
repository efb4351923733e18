package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-orders/internal/domain/user"
)

const (
	getUserSQL = `SELECT id, name, email, cart_data FROM users WHERE id = $1`

	upsertUserSQL = `INSERT INTO users (id, name, email, cart_data) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, cart_data = EXCLUDED.cart_data`

	clearCartSQL = `UPDATE users SET cart_data = '{}'::jsonb WHERE id = $1`
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	q querier
}

func (r *UserRepository) Get(ctx context.Context, id string) (*user.User, error) {
	rows, err := r.q.Query(ctx, getUserSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting user %q: %w", id, err)
	}

	u, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (user.User, error) {
		var (
			u        user.User
			cartJSON []byte
		)
		if err := row.Scan(&u.ID, &u.Name, &u.Email, &cartJSON); err != nil {
			return user.User{}, err
		}
		if err := json.Unmarshal(cartJSON, &u.Cart); err != nil {
			return user.User{}, fmt.Errorf("unmarshaling cart: %w", err)
		}
		return u, nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("getting user %q: %w", id, err)
	}
	if u.Cart == nil {
		u.Cart = user.Cart{}
	}
	return &u, nil
}

// Create inserts the user or replaces an existing one with the same id.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	cart := u.Cart
	if cart == nil {
		cart = user.Cart{}
	}
	cartJSON, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshaling cart: %w", err)
	}

	if _, err := r.q.Exec(ctx, upsertUserSQL, u.ID, u.Name, u.Email, cartJSON); err != nil {
		return fmt.Errorf("creating user %q: %w", u.ID, err)
	}
	return nil
}

func (r *UserRepository) ClearCart(ctx context.Context, id string) error {
	tag, err := r.q.Exec(ctx, clearCartSQL, id)
	if err != nil {
		return fmt.Errorf("clearing cart of user %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}
