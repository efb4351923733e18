// Package storetest holds the behavioural test suite every storage backend
// must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-orders/internal/domain/auth"
	"github.com/xenking/storefront-orders/internal/domain/order"
	"github.com/xenking/storefront-orders/internal/domain/user"
)

// Backend is a complete storage backend.
type Backend interface {
	order.Store
	APIKeys() auth.Repository
}

// Run executes the suite. newBackend is called once per subtest and must
// return an isolated, empty backend.
func Run(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("OrderRoundTrip", func(t *testing.T) { testOrderRoundTrip(t, newBackend(t)) })
	t.Run("OrderUpdates", func(t *testing.T) { testOrderUpdates(t, newBackend(t)) })
	t.Run("OrderList", func(t *testing.T) { testOrderList(t, newBackend(t)) })
	t.Run("UserCart", func(t *testing.T) { testUserCart(t, newBackend(t)) })
	t.Run("TxCommit", func(t *testing.T) { testTxCommit(t, newBackend(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newBackend(t)) })
	t.Run("APIKeys", func(t *testing.T) { testAPIKeys(t, newBackend(t)) })
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func seedUser(t *testing.T, b Backend, id string) {
	t.Helper()
	require.NoError(t, b.Users().Create(context.Background(), &user.User{
		ID:    id,
		Name:  "User " + id,
		Email: id + "@example.com",
		Cart:  user.Cart{"p1": {"M": 2, "L": 1}},
	}))
}

func newOrder(userID string, method order.Method, date time.Time) *order.Order {
	return &order.Order{
		ID:     uuid.NewString(),
		UserID: userID,
		Items: []order.Item{
			{ProductID: "p1", Name: "Shirt", Price: decimal.RequireFromString("499.50"), Quantity: 2, Size: "M"},
		},
		Amount: decimal.RequireFromString("1009.00"),
		Address: order.Address{
			FirstName: "Asha",
			Street:    "1 Main St",
			City:      "Pune",
			Zipcode:   "411001",
			Country:   "IN",
		},
		Method: method,
		Status: order.StatusPlaced,
		Date:   date,
	}
}

func testOrderRoundTrip(t *testing.T, b Backend) {
	ctx := context.Background()
	seedUser(t, b, "u1")

	o := newOrder("u1", order.MethodCard, base)
	require.NoError(t, b.Orders().Create(ctx, o))

	got, err := b.Orders().Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, o.UserID, got.UserID)
	assert.True(t, o.Amount.Equal(got.Amount), "amount %s != %s", o.Amount, got.Amount)
	assert.Equal(t, o.Address, got.Address)
	assert.Equal(t, o.Method, got.Method)
	assert.Equal(t, o.Status, got.Status)
	assert.False(t, got.Payment)
	assert.True(t, o.Date.Equal(got.Date))
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Shirt", got.Items[0].Name)
	assert.True(t, decimal.RequireFromString("499.5").Equal(got.Items[0].Price))
	assert.Equal(t, 2, got.Items[0].Quantity)

	_, err = b.Orders().Get(ctx, "missing")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func testOrderUpdates(t *testing.T, b Backend) {
	ctx := context.Background()
	seedUser(t, b, "u1")
	o := newOrder("u1", order.MethodRegional, base)
	require.NoError(t, b.Orders().Create(ctx, o))

	require.NoError(t, b.Orders().SetExternalRef(ctx, o.ID, "order_abc"))
	require.NoError(t, b.Orders().UpdateStatus(ctx, o.ID, order.StatusShipped))
	require.NoError(t, b.Orders().MarkPaid(ctx, o.ID))

	got, err := b.Orders().Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "order_abc", got.ExternalRef)
	assert.Equal(t, order.StatusShipped, got.Status)
	assert.True(t, got.Payment)

	require.NoError(t, b.Orders().Delete(ctx, o.ID))
	_, err = b.Orders().Get(ctx, o.ID)
	assert.ErrorIs(t, err, order.ErrNotFound)

	assert.ErrorIs(t, b.Orders().MarkPaid(ctx, o.ID), order.ErrNotFound)
	assert.ErrorIs(t, b.Orders().UpdateStatus(ctx, o.ID, order.StatusPacking), order.ErrNotFound)
	assert.ErrorIs(t, b.Orders().Delete(ctx, o.ID), order.ErrNotFound)
}

func testOrderList(t *testing.T, b Backend) {
	ctx := context.Background()
	seedUser(t, b, "u1")
	seedUser(t, b, "u2")

	cod := newOrder("u1", order.MethodCOD, base)
	card := newOrder("u1", order.MethodCard, base.Add(time.Minute))
	paid := newOrder("u2", order.MethodRegional, base.Add(2*time.Minute))
	paid.Payment = true
	late := newOrder("u2", order.MethodCard, base.Add(time.Hour))
	for _, o := range []*order.Order{late, paid, card, cod} {
		require.NoError(t, b.Orders().Create(ctx, o))
	}

	ids := func(f order.Filter) []string {
		t.Helper()
		list, err := b.Orders().List(ctx, f)
		require.NoError(t, err)
		out := make([]string, 0, len(list))
		for _, o := range list {
			out = append(out, o.ID)
		}
		return out
	}

	assert.Equal(t, []string{cod.ID, card.ID, paid.ID, late.ID}, ids(order.Filter{}))
	assert.Equal(t, []string{cod.ID, card.ID}, ids(order.Filter{UserID: "u1"}))
	assert.Equal(t, []string{card.ID, late.ID}, ids(order.Filter{
		Unpaid:  true,
		Methods: []order.Method{order.MethodCard, order.MethodRegional},
	}))
	assert.Equal(t, []string{card.ID}, ids(order.Filter{
		Unpaid:        true,
		Methods:       []order.Method{order.MethodCard, order.MethodRegional},
		CreatedBefore: base.Add(30 * time.Minute),
	}))
	assert.Empty(t, ids(order.Filter{UserID: "nobody"}))
}

func testUserCart(t *testing.T, b Backend) {
	ctx := context.Background()
	seedUser(t, b, "u1")

	u, err := b.Users().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, u.Cart["p1"]["M"])
	assert.False(t, u.Cart.Empty())

	require.NoError(t, b.Users().ClearCart(ctx, "u1"))
	u, err = b.Users().Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Cart.Empty())

	_, err = b.Users().Get(ctx, "ghost")
	assert.ErrorIs(t, err, user.ErrNotFound)
	assert.ErrorIs(t, b.Users().ClearCart(ctx, "ghost"), user.ErrNotFound)
}

func testTxCommit(t *testing.T, b Backend) {
	ctx := context.Background()
	seedUser(t, b, "u1")
	o := newOrder("u1", order.MethodCard, base)
	require.NoError(t, b.Orders().Create(ctx, o))

	err := b.InTx(ctx, func(ctx context.Context, tx order.Store) error {
		locked, err := tx.Orders().GetForUpdate(ctx, o.ID)
		if err != nil {
			return err
		}
		if err := tx.Orders().MarkPaid(ctx, locked.ID); err != nil {
			return err
		}
		return tx.Users().ClearCart(ctx, locked.UserID)
	})
	require.NoError(t, err)

	got, err := b.Orders().Get(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.Payment)

	u, err := b.Users().Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Cart.Empty())
}

func testTxRollback(t *testing.T, b Backend) {
	ctx := context.Background()
	seedUser(t, b, "u1")
	o := newOrder("u1", order.MethodCard, base)
	require.NoError(t, b.Orders().Create(ctx, o))

	errAbort := errors.New("abort")
	err := b.InTx(ctx, func(ctx context.Context, tx order.Store) error {
		if err := tx.Orders().MarkPaid(ctx, o.ID); err != nil {
			return err
		}
		if err := tx.Users().ClearCart(ctx, "u1"); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	got, err := b.Orders().Get(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, got.Payment)

	u, err := b.Users().Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, u.Cart.Empty())
}

func testAPIKeys(t *testing.T, b Backend) {
	ctx := context.Background()
	keys := b.APIKeys()

	_, err := keys.FindByHash(ctx, "nope")
	assert.ErrorIs(t, err, auth.ErrKeyNotFound)

	require.NoError(t, keys.Upsert(ctx, auth.APIKeyInfo{
		ID:      "admin",
		KeyHash: "hash-1",
		Name:    "Admin",
		Scopes:  []string{auth.ScopeOrdersAdmin},
	}))
	info, err := keys.FindByHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "admin", info.ID)
	assert.True(t, info.HasScope(auth.ScopeOrdersAdmin))

	require.NoError(t, keys.Upsert(ctx, auth.APIKeyInfo{ID: "admin", KeyHash: "hash-2", Name: "Admin"}))
	_, err = keys.FindByHash(ctx, "hash-1")
	assert.ErrorIs(t, err, auth.ErrKeyNotFound)
	info, err = keys.FindByHash(ctx, "hash-2")
	require.NoError(t, err)
	assert.False(t, info.HasScope(auth.ScopeOrdersAdmin))
}
