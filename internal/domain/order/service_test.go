package order_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-orders/internal/domain/order"
	"github.com/xenking/storefront-orders/internal/domain/payment"
	"github.com/xenking/storefront-orders/internal/domain/user"
	"github.com/xenking/storefront-orders/internal/storage/memory"
)

// --- Mock implementations ---

type mockCardGateway struct {
	mu        sync.Mutex
	requests  []payment.CheckoutRequest
	statuses  map[string]payment.RemoteStatus
	createErr error
	statusErr error
}

func (m *mockCardGateway) CreateCheckoutSession(_ context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return nil, m.createErr
	}
	m.requests = append(m.requests, req)
	id := "cs_" + req.Reference
	return &payment.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (m *mockCardGateway) SessionStatus(_ context.Context, id string) (payment.RemoteStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statusErr != nil {
		return payment.StatusPending, m.statusErr
	}
	return m.statuses[id], nil
}

type mockRegionalGateway struct {
	mu        sync.Mutex
	nextID    string
	requests  []payment.RegionalOrderRequest
	statuses  map[string]payment.RemoteStatus
	createErr error
}

func (m *mockRegionalGateway) CreateOrder(_ context.Context, req payment.RegionalOrderRequest) (*payment.RegionalOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return nil, m.createErr
	}
	m.requests = append(m.requests, req)
	id := m.nextID
	if id == "" {
		id = "order_" + req.Receipt
	}
	return &payment.RegionalOrder{
		ID:          id,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Receipt:     req.Receipt,
	}, nil
}

func (m *mockRegionalGateway) FetchOrder(_ context.Context, id string) (*payment.RegionalOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return &payment.RegionalOrder{ID: id, Status: m.statuses[id]}, nil
}

// --- Helpers ---

const (
	testUser    = "user-1"
	otherUser   = "user-2"
	testSecret  = "s3cr3t"
	testOrigin  = "https://shop.test"
	exampleSig  = "ee21698235c31aef5bb049b86d1c00014db7de75dbe78cb4ed9ffa8e90855655"
	exampleRef  = "order_abc"
	examplePay  = "pay_xyz"
	deliveryFee = 10
)

type fixture struct {
	svc      *order.Service
	store    *memory.Store
	card     *mockCardGateway
	regional *mockRegionalGateway
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:    memory.New(),
		card:     &mockCardGateway{statuses: map[string]payment.RemoteStatus{}},
		regional: &mockRegionalGateway{statuses: map[string]payment.RemoteStatus{}},
		now:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	ctx := context.Background()
	for _, id := range []string{testUser, otherUser} {
		require.NoError(t, f.store.Users().Create(ctx, &user.User{
			ID:   id,
			Name: "Test " + id,
			Cart: user.Cart{"p1": {"M": 2}},
		}))
	}

	svc, err := order.NewService(
		order.Config{
			Currency:       "inr",
			DeliveryCharge: decimal.NewFromInt(deliveryFee),
		},
		f.store,
		f.card,
		f.regional,
		payment.NewSignatureVerifier([]byte(testSecret)),
		order.WithClock(func() time.Time { return f.now }),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) cart(t *testing.T, userID string) user.Cart {
	t.Helper()
	u, err := f.store.Users().Get(context.Background(), userID)
	require.NoError(t, err)
	return u.Cart
}

func (f *fixture) order(t *testing.T, id string) *order.Order {
	t.Helper()
	o, err := f.store.Orders().Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

func shirtRequest(method order.Method) order.PlaceOrderRequest {
	return order.PlaceOrderRequest{
		CreateOrderRequest: order.CreateOrderRequest{
			UserID: testUser,
			Items: []order.Item{
				{ProductID: "p1", Name: "Shirt", Price: decimal.NewFromInt(500), Quantity: 2, Size: "M"},
			},
			Amount: decimal.NewFromInt(1010),
			Address: order.Address{
				FirstName: "Asha",
				Street:    "1 Main St",
				City:      "Pune",
				Country:   "IN",
			},
			Method: method,
		},
		Origin: testOrigin,
	}
}

// --- Tests ---

func TestPlaceOrder_CashOnDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.PlaceOrder(ctx, shirtRequest(order.MethodCOD))
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	assert.Nil(t, res.Checkout)

	stored := f.order(t, res.Order.ID)
	assert.Equal(t, order.StatusPlaced, stored.Status)
	assert.False(t, stored.Payment)
	assert.Equal(t, order.MethodCOD, stored.Method)
	assert.True(t, decimal.NewFromInt(1010).Equal(stored.Amount))
	assert.Equal(t, f.now, stored.Date)
	assert.Empty(t, stored.ExternalRef)

	assert.True(t, f.cart(t, testUser).Empty(), "cash on delivery clears the cart")
	assert.Empty(t, f.card.requests)
	assert.Empty(t, f.regional.requests)
}

func TestPlaceOrder_Card(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.PlaceOrder(ctx, shirtRequest(order.MethodCard))
	require.NoError(t, err)
	require.NotNil(t, res.Checkout)

	id := res.Order.ID
	assert.Equal(t, "https://checkout.test/cs_"+id, res.Checkout.SessionURL)
	assert.False(t, f.cart(t, testUser).Empty(), "cart is kept until payment")

	require.Len(t, f.card.requests, 1)
	req := f.card.requests[0]
	assert.Equal(t, testOrigin+"/verify?success=true&orderId="+url.QueryEscape(id), req.SuccessURL)
	assert.Equal(t, testOrigin+"/verify?success=false&orderId="+url.QueryEscape(id), req.CancelURL)
	assert.Equal(t, payment.ModePayment, req.Mode)
	assert.Equal(t, []payment.LineItem{
		{Currency: "inr", Name: "Shirt", UnitAmountMinor: 50000, Quantity: 2},
		{Currency: "inr", Name: "Delivery Charges", UnitAmountMinor: 1000, Quantity: 1},
	}, req.LineItems)

	stored := f.order(t, id)
	assert.False(t, stored.Payment)
	assert.Equal(t, "cs_"+id, stored.ExternalRef)
}

func TestPlaceOrder_Regional(t *testing.T) {
	f := newFixture(t)
	f.regional.nextID = exampleRef
	ctx := context.Background()

	res, err := f.svc.PlaceOrder(ctx, shirtRequest(order.MethodRegional))
	require.NoError(t, err)
	require.NotNil(t, res.Checkout)
	require.NotNil(t, res.Checkout.RegionalOrder)

	ro := res.Checkout.RegionalOrder
	assert.Equal(t, exampleRef, ro.ID)
	assert.Equal(t, int64(101000), ro.AmountMinor)
	assert.Equal(t, "INR", ro.Currency)
	assert.Equal(t, res.Order.ID, ro.Receipt)

	assert.Equal(t, exampleRef, f.order(t, res.Order.ID).ExternalRef)
	assert.False(t, f.cart(t, testUser).Empty())
}

func TestPlaceOrder_FrontendURLOverridesOrigin(t *testing.T) {
	f := newFixture(t)
	svc, err := order.NewService(
		order.Config{Currency: "inr", DeliveryCharge: decimal.NewFromInt(deliveryFee), FrontendURL: "https://front.test/"},
		f.store, f.card, f.regional, payment.NewSignatureVerifier([]byte(testSecret)),
	)
	require.NoError(t, err)

	res, err := svc.PlaceOrder(context.Background(), shirtRequest(order.MethodCard))
	require.NoError(t, err)

	require.Len(t, f.card.requests, 1)
	assert.Equal(t, "https://front.test/verify?success=true&orderId="+res.Order.ID, f.card.requests[0].SuccessURL)
}

func TestPlaceOrder_GatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.card.createErr = errors.New("connection refused")
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, shirtRequest(order.MethodCard))
	require.Error(t, err)
	assert.Equal(t, order.KindGateway, order.KindOf(err))

	var ge *payment.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, payment.ProviderCard, ge.Provider)

	orders, err := f.svc.ListOrdersForUser(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, orders, 1, "order stays unpaid for reconciliation")
	assert.Empty(t, orders[0].ExternalRef)
	assert.False(t, f.cart(t, testUser).Empty())
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *order.CreateOrderRequest)
		field  string
	}{
		{"missing user", func(r *order.CreateOrderRequest) { r.UserID = "" }, "userId"},
		{"unknown method", func(r *order.CreateOrderRequest) { r.Method = "paypal" }, "paymentMethod"},
		{"no items", func(r *order.CreateOrderRequest) { r.Items = nil }, "items"},
		{"zero quantity", func(r *order.CreateOrderRequest) { r.Items[0].Quantity = 0 }, "items[0].quantity"},
		{"negative price", func(r *order.CreateOrderRequest) { r.Items[0].Price = decimal.NewFromInt(-1) }, "items[0].price"},
		{"empty name", func(r *order.CreateOrderRequest) { r.Items[0].Name = " " }, "items[0].name"},
		{"sub-unit price", func(r *order.CreateOrderRequest) {
			r.Items[0].Price = decimal.RequireFromString("0.333")
			r.Items[0].Quantity = 3
			r.Amount = decimal.RequireFromString("10.999")
		}, "items[0].price"},
		{"sub-unit amount", func(r *order.CreateOrderRequest) { r.Amount = decimal.RequireFromString("1010.001") }, "amount"},
		{"zero amount", func(r *order.CreateOrderRequest) { r.Amount = decimal.Zero }, "amount"},
		{"amount without delivery", func(r *order.CreateOrderRequest) { r.Amount = decimal.NewFromInt(1000) }, "amount"},
		{"missing street", func(r *order.CreateOrderRequest) { r.Address.Street = "" }, "address.street"},
		{"missing country", func(r *order.CreateOrderRequest) { r.Address.Country = "" }, "address.country"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := shirtRequest(order.MethodCOD).CreateOrderRequest
			req.Items = append([]order.Item(nil), req.Items...)
			tt.mutate(&req)

			_, err := f.svc.CreateOrder(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, order.KindValidation, order.KindOf(err))

			var ve *order.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)

			assert.False(t, f.cart(t, testUser).Empty(), "rejected order leaves the cart alone")
		})
	}
}

func TestNewService_DeliveryCharge(t *testing.T) {
	for _, charge := range []string{"-1", "9.995"} {
		t.Run(charge, func(t *testing.T) {
			_, err := order.NewService(
				order.Config{Currency: "inr", DeliveryCharge: decimal.RequireFromString(charge)},
				memory.New(), &mockCardGateway{}, &mockRegionalGateway{},
				payment.NewSignatureVerifier([]byte(testSecret)),
			)
			require.Error(t, err)
		})
	}
}

func TestCreateOrder_UnknownUser(t *testing.T) {
	f := newFixture(t)
	req := shirtRequest(order.MethodCOD).CreateOrderRequest
	req.UserID = "ghost"

	_, err := f.svc.CreateOrder(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, order.KindNotFound, order.KindOf(err))

	orders, err := f.svc.ListAllOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestConfirmCardPayment(t *testing.T) {
	t.Run("success marks paid and clears cart", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		res, err := f.svc.PlaceOrder(ctx, shirtRequest(order.MethodCard))
		require.NoError(t, err)

		paid, err := f.svc.ConfirmCardPayment(ctx, order.CardConfirmation{OrderID: res.Order.ID, UserID: testUser, Success: true})
		require.NoError(t, err)
		assert.True(t, paid)
		assert.True(t, f.order(t, res.Order.ID).Payment)
		assert.True(t, f.cart(t, testUser).Empty())
	})

	t.Run("repeated success is idempotent", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		res, err := f.svc.PlaceOrder(ctx, shirtRequest(order.MethodCard))
		require.NoError(t, err)

		c := order.CardConfirmation{OrderID: res.Order.ID, UserID: testUser, Success: true}
		_, err = f.svc.ConfirmCardPayment(ctx, c)
		require.NoError(t, err)

		// A cart filled after payment belongs to the next purchase.
		require.NoError(t, f.store.Users().Create(ctx, &user.User{ID: testUser, Cart: user.Cart{"p2": {"L": 1}}}))

		paid, err := f.svc.ConfirmCardPayment(ctx, c)
		require.NoError(t, err)
		assert.True(t, paid)
		assert.False(t, f.cart(t, testUser).Empty())
	})

	t.Run("failure deletes the order", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		res, err := f.svc.PlaceOrder(ctx, shirtRequest(order.MethodCard))
		require.NoError(t, err)

		paid, err := f.svc.ConfirmCardPayment(ctx, order.CardConfirmation{OrderID: res.Order.ID, UserID: testUser})
		require.NoError(t, err)
		assert.False(t, paid)

		_, err = f.store.Orders().Get(ctx, res.Order.ID)
		assert.ErrorIs(t, err, order.ErrNotFound)
		assert.False(t, f.cart(t, testUser).Empty())
	})

	t.Run("failure after payment conflicts", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		res, err := f.svc.PlaceOrder(ctx, shirtRequest(order.MethodCard))
		require.NoError(t, err)
		_, err = f.svc.ConfirmCardPayment(ctx, order.CardConfirmation{OrderID: res.Order.ID, UserID: testUser, Success: true})
		require.NoError(t, err)

		_, err = f.svc.ConfirmCardPayment(ctx, order.CardConfirmation{OrderID: res.Order.ID, UserID: testUser})
		require.Error(t, err)
		assert.Equal(t, order.KindConflict, order.KindOf(err))
		assert.True(t, f.order(t, res.Order.ID).Payment)
	})

	t.Run("another user's order is not found", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		res, err := f.svc.PlaceOrder(ctx, shirtRequest(order.MethodCard))
		require.NoError(t, err)

		_, err = f.svc.ConfirmCardPayment(ctx, order.CardConfirmation{OrderID: res.Order.ID, UserID: otherUser})
		require.Error(t, err)
		assert.Equal(t, order.KindNotFound, order.KindOf(err))
		assert.False(t, f.order(t, res.Order.ID).Payment)
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ConfirmCardPayment(context.Background(), order.CardConfirmation{OrderID: "missing", UserID: testUser, Success: true})
		assert.Equal(t, order.KindNotFound, order.KindOf(err))
	})

	t.Run("cash on delivery order is rejected", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		res, err := f.svc.PlaceOrder(ctx, shirtRequest(order.MethodCOD))
		require.NoError(t, err)

		_, err = f.svc.ConfirmCardPayment(ctx, order.CardConfirmation{OrderID: res.Order.ID, UserID: testUser, Success: true})
		assert.Equal(t, order.KindValidation, order.KindOf(err))
		assert.False(t, f.order(t, res.Order.ID).Payment)
	})
}

func TestConfirmRegionalPayment(t *testing.T) {
	place := func(t *testing.T, f *fixture) string {
		t.Helper()
		f.regional.nextID = exampleRef
		res, err := f.svc.PlaceOrder(context.Background(), shirtRequest(order.MethodRegional))
		require.NoError(t, err)
		return res.Order.ID
	}

	t.Run("valid signature", func(t *testing.T) {
		f := newFixture(t)
		id := place(t, f)

		err := f.svc.ConfirmRegionalPayment(context.Background(), order.RegionalConfirmation{
			OrderID:           id,
			UserID:            testUser,
			ExternalOrderID:   exampleRef,
			ExternalPaymentID: examplePay,
			Signature:         exampleSig,
		})
		require.NoError(t, err)
		assert.True(t, f.order(t, id).Payment)
		assert.True(t, f.cart(t, testUser).Empty())
	})

	t.Run("invalid signature changes nothing", func(t *testing.T) {
		f := newFixture(t)
		id := place(t, f)

		err := f.svc.ConfirmRegionalPayment(context.Background(), order.RegionalConfirmation{
			OrderID:           id,
			UserID:            testUser,
			ExternalOrderID:   exampleRef,
			ExternalPaymentID: "pay_xyy",
			Signature:         exampleSig,
		})
		require.ErrorIs(t, err, order.ErrInvalidSignature)
		assert.Equal(t, order.KindIntegrity, order.KindOf(err))

		stored := f.order(t, id)
		assert.False(t, stored.Payment)
		assert.False(t, f.cart(t, testUser).Empty())
	})

	t.Run("proof for another gateway order", func(t *testing.T) {
		f := newFixture(t)
		f.regional.nextID = "order_other"
		res, err := f.svc.PlaceOrder(context.Background(), shirtRequest(order.MethodRegional))
		require.NoError(t, err)

		err = f.svc.ConfirmRegionalPayment(context.Background(), order.RegionalConfirmation{
			OrderID:           res.Order.ID,
			UserID:            testUser,
			ExternalOrderID:   exampleRef,
			ExternalPaymentID: examplePay,
			Signature:         exampleSig,
		})
		assert.Equal(t, order.KindIntegrity, order.KindOf(err))
		assert.False(t, f.order(t, res.Order.ID).Payment)
	})

	t.Run("order without gateway reference", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		// Gateway creation fails for the expensive order, leaving it without
		// a reference.
		expensive := shirtRequest(order.MethodRegional)
		expensive.Items[0].Quantity = 1000
		expensive.Amount = decimal.NewFromInt(500010)
		f.regional.createErr = errors.New("connection refused")
		_, err := f.svc.PlaceOrder(ctx, expensive)
		require.Error(t, err)
		f.regional.createErr = nil

		orders, err := f.svc.ListOrdersForUser(ctx, testUser)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		unreferenced := orders[0].ID
		require.Empty(t, orders[0].ExternalRef)

		// A cheaper order is paid for with a genuine proof.
		place(t, f)

		err = f.svc.ConfirmRegionalPayment(ctx, order.RegionalConfirmation{
			OrderID:           unreferenced,
			UserID:            testUser,
			ExternalOrderID:   exampleRef,
			ExternalPaymentID: examplePay,
			Signature:         exampleSig,
		})
		require.ErrorIs(t, err, order.ErrInvalidSignature)
		assert.False(t, f.order(t, unreferenced).Payment)
	})

	t.Run("missing fields", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.ConfirmRegionalPayment(context.Background(), order.RegionalConfirmation{
			OrderID:         "x",
			UserID:          testUser,
			ExternalOrderID: exampleRef,
			Signature:       exampleSig,
		})
		var ve *order.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "externalPaymentId", ve.Field)
	})

	t.Run("repeated confirmation is idempotent", func(t *testing.T) {
		f := newFixture(t)
		id := place(t, f)
		c := order.RegionalConfirmation{
			OrderID:           id,
			UserID:            testUser,
			ExternalOrderID:   exampleRef,
			ExternalPaymentID: examplePay,
			Signature:         exampleSig,
		}
		require.NoError(t, f.svc.ConfirmRegionalPayment(context.Background(), c))
		require.NoError(t, f.svc.ConfirmRegionalPayment(context.Background(), c))
		assert.True(t, f.order(t, id).Payment)
	})
}

func TestListOrdersForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.PlaceOrder(ctx, shirtRequest(order.MethodCOD))
	require.NoError(t, err)
	f.advance(time.Minute)

	other := shirtRequest(order.MethodCOD)
	other.UserID = otherUser
	_, err = f.svc.PlaceOrder(ctx, other)
	require.NoError(t, err)
	f.advance(time.Minute)

	second, err := f.svc.PlaceOrder(ctx, shirtRequest(order.MethodCard))
	require.NoError(t, err)

	orders, err := f.svc.ListOrdersForUser(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, first.Order.ID, orders[0].ID)
	assert.Equal(t, second.Order.ID, orders[1].ID)

	all, err := f.svc.ListAllOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := f.svc.ListOrdersForUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.svc.ListOrdersForUser(ctx, "")
	assert.Equal(t, order.KindValidation, order.KindOf(err))
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.PlaceOrder(ctx, shirtRequest(order.MethodCOD))
	require.NoError(t, err)
	id := res.Order.ID

	require.NoError(t, f.svc.UpdateStatus(ctx, id, "Shipped"))
	assert.Equal(t, order.StatusShipped, f.order(t, id).Status)

	// Statuses are not ordered.
	require.NoError(t, f.svc.UpdateStatus(ctx, id, "Packing"))
	assert.Equal(t, order.StatusPacking, f.order(t, id).Status)

	err = f.svc.UpdateStatus(ctx, id, "Lost")
	assert.Equal(t, order.KindValidation, order.KindOf(err))
	assert.Equal(t, order.StatusPacking, f.order(t, id).Status)

	err = f.svc.UpdateStatus(ctx, "missing", "Shipped")
	assert.Equal(t, order.KindNotFound, order.KindOf(err))

	assert.False(t, f.order(t, id).Payment, "status does not touch payment")
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	paid, err := f.svc.PlaceOrder(ctx, shirtRequest(order.MethodCard))
	require.NoError(t, err)
	expired, err := f.svc.PlaceOrder(ctx, shirtRequest(order.MethodCard))
	require.NoError(t, err)
	pending, err := f.svc.PlaceOrder(ctx, shirtRequest(order.MethodRegional))
	require.NoError(t, err)
	cod, err := f.svc.PlaceOrder(ctx, shirtRequest(order.MethodCOD))
	require.NoError(t, err)

	f.card.createErr = errors.New("boom")
	_, err = f.svc.PlaceOrder(ctx, shirtRequest(order.MethodCard))
	require.Error(t, err)
	f.card.createErr = nil

	f.card.statuses[paid.Order.ExternalRef] = payment.StatusPaid
	f.card.statuses[expired.Order.ExternalRef] = payment.StatusExpired

	// Too young: nothing is touched.
	report, err := f.svc.Reconcile(ctx, order.ReconcileOptions{OlderThan: time.Hour, Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Checked)

	f.advance(2 * time.Hour)
	report, err = f.svc.Reconcile(ctx, order.ReconcileOptions{OlderThan: time.Hour, Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, &order.ReconcileReport{Checked: 4, Confirmed: 1, Deleted: 2, Pending: 1}, report)

	assert.True(t, f.order(t, paid.Order.ID).Payment)
	assert.False(t, f.order(t, pending.Order.ID).Payment)
	assert.False(t, f.order(t, cod.Order.ID).Payment)
	_, err = f.store.Orders().Get(ctx, expired.Order.ID)
	assert.ErrorIs(t, err, order.ErrNotFound)

	all, err := f.svc.ListAllOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.True(t, f.cart(t, testUser).Empty())
}

func TestReconcile_GatewayErrorsCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, shirtRequest(order.MethodCard))
	require.NoError(t, err)
	f.card.statusErr = errors.New("timeout")
	f.advance(time.Hour)

	report, err := f.svc.Reconcile(ctx, order.ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Failed)
}

func TestReconcile_AbandonsStalePendingOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.PlaceOrder(ctx, shirtRequest(order.MethodRegional))
	require.NoError(t, err)
	opts := order.ReconcileOptions{OlderThan: time.Hour, AbandonAfter: 48 * time.Hour}

	f.advance(2 * time.Hour)
	report, err := f.svc.Reconcile(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pending)
	assert.False(t, f.order(t, res.Order.ID).Payment)

	f.advance(48 * time.Hour)
	report, err = f.svc.Reconcile(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)

	_, err = f.store.Orders().Get(ctx, res.Order.ID)
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestReconcile_SkipsCheckoutsInFlight(t *testing.T) {
	f := newFixture(t)
	svc, err := order.NewService(
		order.Config{Currency: "inr", DeliveryCharge: decimal.NewFromInt(deliveryFee), CheckoutTimeout: 30 * time.Second},
		f.store, f.card, f.regional, payment.NewSignatureVerifier([]byte(testSecret)),
		order.WithClock(func() time.Time { return f.now }),
	)
	require.NoError(t, err)
	ctx := context.Background()

	// The order exists but its gateway reference is not recorded yet.
	o, err := svc.CreateOrder(ctx, shirtRequest(order.MethodCard).CreateOrderRequest)
	require.NoError(t, err)
	f.advance(10 * time.Second)

	report, err := svc.Reconcile(ctx, order.ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Checked)
	_, err = f.store.Orders().Get(ctx, o.ID)
	require.NoError(t, err)

	f.advance(time.Minute)
	report, err = svc.Reconcile(ctx, order.ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
}
