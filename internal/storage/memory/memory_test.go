package memory

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-orders/internal/domain/auth"
	"github.com/xenking/storefront-orders/internal/domain/order"
	"github.com/xenking/storefront-orders/internal/domain/user"
	"github.com/xenking/storefront-orders/internal/storage/storetest"
)

func TestStore_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Users().Create(ctx, &user.User{ID: "u1", Cart: user.Cart{"p1": {"M": 1}}}))

	errBoom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx order.Store) error {
		if err := tx.Orders().Create(ctx, &order.Order{ID: "o1", UserID: "u1", Amount: decimal.NewFromInt(10)}); err != nil {
			return err
		}
		if err := tx.Users().ClearCart(ctx, "u1"); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	_, err = s.Orders().Get(ctx, "o1")
	assert.ErrorIs(t, err, order.ErrNotFound)

	u, err := s.Users().Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, u.Cart.Empty())
}

func TestStore_RollbackKeepsConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Orders().Create(ctx, &order.Order{ID: "o1", UserID: "u1", Status: order.StatusPlaced}))

	entered := make(chan struct{})
	release := make(chan struct{})
	errBoom := errors.New("boom")

	txDone := make(chan error, 1)
	go func() {
		txDone <- s.InTx(ctx, func(ctx context.Context, tx order.Store) error {
			close(entered)
			<-release
			return errBoom
		})
	}()
	<-entered

	updated := make(chan error, 1)
	go func() { updated <- s.Orders().UpdateStatus(ctx, "o1", order.StatusShipped) }()

	time.Sleep(10 * time.Millisecond)
	close(release)

	require.ErrorIs(t, <-txDone, errBoom)
	require.NoError(t, <-updated)

	got, err := s.Orders().Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, got.Status)
}

func TestStore_NestedTxJoins(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.InTx(ctx, func(ctx context.Context, tx order.Store) error {
		return tx.InTx(ctx, func(ctx context.Context, tx order.Store) error {
			return tx.Orders().Create(ctx, &order.Order{ID: "o1"})
		})
	})
	require.NoError(t, err)

	_, err = s.Orders().Get(ctx, "o1")
	require.NoError(t, err)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	o := &order.Order{ID: "o1", Items: []order.Item{{Name: "Shirt", Quantity: 1}}}
	require.NoError(t, s.Orders().Create(ctx, o))

	o.Items[0].Name = "changed"
	got, err := s.Orders().Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "Shirt", got.Items[0].Name)

	got.Items[0].Quantity = 5
	again, err := s.Orders().Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Items[0].Quantity)
}

func TestStore_ListOrdered(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Orders().Create(ctx, &order.Order{ID: id, UserID: "u1", Date: base.Add(time.Duration(i) * time.Minute)}))
	}

	list, err := s.Orders().List(ctx, order.Filter{UserID: "u1"})
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, o := range list {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestStore_MissingRecords(t *testing.T) {
	ctx := context.Background()
	s := New()

	assert.ErrorIs(t, s.Orders().MarkPaid(ctx, "x"), order.ErrNotFound)
	assert.ErrorIs(t, s.Orders().Delete(ctx, "x"), order.ErrNotFound)
	assert.ErrorIs(t, s.Users().ClearCart(ctx, "x"), user.ErrNotFound)

	_, err := s.APIKeys().FindByHash(ctx, "x")
	assert.ErrorIs(t, err, auth.ErrKeyNotFound)
}

func TestStore_APIKeyUpsertReplacesHash(t *testing.T) {
	ctx := context.Background()
	s := New()
	keys := s.APIKeys()

	require.NoError(t, keys.Upsert(ctx, auth.APIKeyInfo{ID: "k1", KeyHash: "old", Scopes: []string{auth.ScopeOrdersAdmin}}))
	require.NoError(t, keys.Upsert(ctx, auth.APIKeyInfo{ID: "k1", KeyHash: "new", Scopes: []string{auth.ScopeOrdersAdmin}}))

	_, err := keys.FindByHash(ctx, "old")
	assert.ErrorIs(t, err, auth.ErrKeyNotFound)

	info, err := keys.FindByHash(ctx, "new")
	require.NoError(t, err)
	assert.True(t, info.HasScope(auth.ScopeOrdersAdmin))
}

func TestStoreSuite(t *testing.T) {
	storetest.Run(t, func(*testing.T) storetest.Backend { return New() })
}
