package user

import (
	"context"
	"maps"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested user does not exist.
var ErrNotFound = errors.New("user not found")

// Cart maps an item id to per-size quantities.
type Cart map[string]map[string]int

// Empty reports whether the cart holds no items.
func (c Cart) Empty() bool {
	for _, sizes := range c {
		for _, qty := range sizes {
			if qty > 0 {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy of c.
func (c Cart) Clone() Cart {
	out := make(Cart, len(c))
	for id, sizes := range c {
		out[id] = maps.Clone(sizes)
	}
	return out
}

// User is the part of a customer account the order lifecycle needs.
type User struct {
	ID    string
	Name  string
	Email string
	Cart  Cart
}

// Repository defines persistence operations for users.
type Repository interface {
	Get(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, u *User) error
	// ClearCart resets the user's cart to empty. Returns ErrNotFound for
	// unknown users.
	ClearCart(ctx context.Context, id string) error
}
