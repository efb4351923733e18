package order

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront-orders/internal/domain/payment"
)

const (
	instrumentationName = "github.com/xenking/storefront-orders/internal/domain/order"
	deliveryItemName    = "Delivery Charges"
)

// Config holds the pricing and redirect settings of the lifecycle.
type Config struct {
	// Currency is the lower-case ISO 4217 code charged in, e.g. "inr".
	Currency string
	// DeliveryCharge is added once to every order, in major units.
	DeliveryCharge decimal.Decimal
	// FrontendURL is the base for checkout redirect URLs. When empty the
	// request origin is used.
	FrontendURL string
	// CheckoutTimeout bounds a gateway checkout call. Reconcile leaves
	// younger orders alone.
	CheckoutTimeout time.Duration
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithTracerProvider sets the provider for gateway call spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the provider for lifecycle counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter(instrumentationName) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service owns the order state machine: creation, checkout, payment
// confirmation and fulfillment status.
type Service struct {
	cfg      Config
	store    Store
	card     payment.CardGateway
	regional payment.RegionalGateway
	verifier *payment.SignatureVerifier

	now    func() time.Time
	tracer trace.Tracer
	meter  metric.Meter

	placed    metric.Int64Counter
	confirmed metric.Int64Counter
	rejected  metric.Int64Counter
}

// NewService creates an order Service with the required dependencies.
func NewService(
	cfg Config,
	store Store,
	card payment.CardGateway,
	regional payment.RegionalGateway,
	verifier *payment.SignatureVerifier,
	opts ...Option,
) (*Service, error) {
	if cfg.DeliveryCharge.IsNegative() || !payment.WholeMinorUnits(cfg.DeliveryCharge) {
		return nil, errors.Errorf("invalid delivery charge %s", cfg.DeliveryCharge)
	}

	s := &Service{
		cfg:      cfg,
		store:    store,
		card:     card,
		regional: regional,
		verifier: verifier,
		now:      time.Now,
		tracer:   tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meter:    metricnoop.NewMeterProvider().Meter(instrumentationName),
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	if s.placed, err = s.meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders created, by payment method"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.placed counter")
	}
	if s.confirmed, err = s.meter.Int64Counter("payments.confirmed",
		metric.WithDescription("Orders marked paid, by payment method and source"),
	); err != nil {
		return nil, errors.Wrap(err, "payments.confirmed counter")
	}
	if s.rejected, err = s.meter.Int64Counter("payments.rejected",
		metric.WithDescription("Payment confirmations rejected, by reason"),
	); err != nil {
		return nil, errors.Wrap(err, "payments.rejected counter")
	}
	return s, nil
}

// CreateOrderRequest holds the input for creating an order.
type CreateOrderRequest struct {
	UserID  string
	Items   []Item
	Amount  decimal.Decimal
	Address Address
	Method  Method
}

// PlaceOrderRequest is CreateOrderRequest plus what checkout needs.
type PlaceOrderRequest struct {
	CreateOrderRequest
	// Origin is the client origin used for redirect URLs when no frontend
	// URL is configured.
	Origin string
}

// Checkout is the payable handle returned for gateway orders.
type Checkout struct {
	// SessionURL is the hosted card checkout page.
	SessionURL string
	// RegionalOrder is the gateway order the client pays against.
	RegionalOrder *payment.RegionalOrder
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order    *Order
	Checkout *Checkout
}

// PlaceOrder creates the order and, for gateway methods, its checkout.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	o, err := s.CreateOrder(ctx, req.CreateOrderRequest)
	if err != nil {
		return nil, err
	}
	if !o.Method.Gateway() {
		return &PlaceOrderResult{Order: o}, nil
	}

	co, err := s.CreateCheckoutSession(ctx, o, req.Origin)
	if err != nil {
		return nil, err
	}
	return &PlaceOrderResult{Order: o, Checkout: co}, nil
}

// CreateOrder validates the request and persists an unpaid order. Cash on
// delivery orders clear the user's cart in the same transaction.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}

	o := &Order{
		ID:      uuid.NewString(),
		UserID:  req.UserID,
		Items:   slices.Clone(req.Items),
		Amount:  req.Amount,
		Address: req.Address,
		Method:  req.Method,
		Status:  StatusPlaced,
		Date:    s.now().UTC().Truncate(time.Millisecond),
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		if _, err := tx.Users().Get(ctx, o.UserID); err != nil {
			return errors.Wrap(err, "get user")
		}
		if err := tx.Orders().Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		if o.Method == MethodCOD {
			if err := tx.Users().ClearCart(ctx, o.UserID); err != nil {
				return errors.Wrap(err, "clear cart")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("method", string(o.Method))))
	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.String("method", string(o.Method)),
		zap.Stringer("amount", o.Amount),
	)
	return o, nil
}

func (s *Service) validateCreate(req CreateOrderRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return &ValidationError{Field: "userId", Reason: "required"}
	}
	if !req.Method.Valid() {
		return &ValidationError{Field: "paymentMethod", Reason: fmt.Sprintf("unsupported method %q", req.Method)}
	}
	if len(req.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "at least one item required"}
	}

	subtotal := decimal.Zero
	for i, item := range req.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.Name) == "" {
			return &ValidationError{Field: field + ".name", Reason: "required"}
		}
		if !item.Price.IsPositive() {
			return &ValidationError{Field: field + ".price", Reason: "must be greater than 0"}
		}
		if !payment.WholeMinorUnits(item.Price) {
			return &ValidationError{Field: field + ".price", Reason: "at most two decimal places"}
		}
		if item.Quantity <= 0 {
			return &ValidationError{Field: field + ".quantity", Reason: "must be greater than 0"}
		}
		subtotal = subtotal.Add(item.Subtotal())
	}

	if !req.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be greater than 0"}
	}
	if !payment.WholeMinorUnits(req.Amount) {
		return &ValidationError{Field: "amount", Reason: "at most two decimal places"}
	}
	if want := subtotal.Add(s.cfg.DeliveryCharge); !req.Amount.Equal(want) {
		return &ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("must equal items total plus delivery charge (%s)", want),
		}
	}
	return req.Address.Validate()
}

// CreateCheckoutSession asks the order's gateway for a payable session and
// records the gateway reference on the order. Gateway failures are returned
// as *payment.GatewayError and are not retried.
func (s *Service) CreateCheckoutSession(ctx context.Context, o *Order, origin string) (*Checkout, error) {
	switch o.Method {
	case MethodCard:
		return s.cardCheckout(ctx, o, origin)
	case MethodRegional:
		return s.regionalCheckout(ctx, o)
	default:
		return nil, &ValidationError{Field: "paymentMethod", Reason: "cash on delivery has no checkout"}
	}
}

func (s *Service) cardCheckout(ctx context.Context, o *Order, origin string) (*Checkout, error) {
	base := s.cfg.FrontendURL
	if base == "" {
		base = origin
	}
	base = strings.TrimRight(base, "/")
	if base == "" {
		return nil, &ValidationError{Field: "origin", Reason: "redirect base URL unknown"}
	}

	items := make([]payment.LineItem, 0, len(o.Items)+1)
	for _, item := range o.Items {
		items = append(items, payment.LineItem{
			Currency:        s.cfg.Currency,
			Name:            item.Name,
			UnitAmountMinor: payment.MinorUnits(item.Price),
			Quantity:        int64(item.Quantity),
		})
	}
	items = append(items, payment.LineItem{
		Currency:        s.cfg.Currency,
		Name:            deliveryItemName,
		UnitAmountMinor: payment.MinorUnits(s.cfg.DeliveryCharge),
		Quantity:        1,
	})

	id := url.QueryEscape(o.ID)
	req := payment.CheckoutRequest{
		SuccessURL: base + "/verify?success=true&orderId=" + id,
		CancelURL:  base + "/verify?success=false&orderId=" + id,
		LineItems:  items,
		Mode:       payment.ModePayment,
		Reference:  o.ID,
	}

	ctx, span := s.tracer.Start(ctx, "CardGateway.CreateCheckoutSession",
		trace.WithAttributes(attribute.String("order.id", o.ID)),
	)
	defer span.End()

	sess, err := s.card.CreateCheckoutSession(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create checkout session")
		return nil, &payment.GatewayError{Provider: payment.ProviderCard, Op: "create checkout session", Err: err}
	}

	if err := s.store.Orders().SetExternalRef(ctx, o.ID, sess.ID); err != nil {
		return nil, errors.Wrap(err, "record checkout session")
	}
	o.ExternalRef = sess.ID

	return &Checkout{SessionURL: sess.URL}, nil
}

func (s *Service) regionalCheckout(ctx context.Context, o *Order) (*Checkout, error) {
	ctx, span := s.tracer.Start(ctx, "RegionalGateway.CreateOrder",
		trace.WithAttributes(attribute.String("order.id", o.ID)),
	)
	defer span.End()

	ro, err := s.regional.CreateOrder(ctx, payment.RegionalOrderRequest{
		AmountMinor: payment.MinorUnits(o.Amount),
		Currency:    strings.ToUpper(s.cfg.Currency),
		Receipt:     o.ID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create gateway order")
		return nil, &payment.GatewayError{Provider: payment.ProviderRegional, Op: "create order", Err: err}
	}

	if err := s.store.Orders().SetExternalRef(ctx, o.ID, ro.ID); err != nil {
		return nil, errors.Wrap(err, "record gateway order")
	}
	o.ExternalRef = ro.ID

	return &Checkout{RegionalOrder: ro}, nil
}

// CardConfirmation is the redirect callback of a card checkout.
type CardConfirmation struct {
	OrderID string
	UserID  string
	Success bool
}

// ConfirmCardPayment applies a card checkout outcome. On success the order is
// marked paid and the cart cleared; otherwise the order is deleted as
// abandoned. It reports whether the order ended up paid.
func (s *Service) ConfirmCardPayment(ctx context.Context, c CardConfirmation) (bool, error) {
	if c.OrderID == "" {
		return false, &ValidationError{Field: "orderId", Reason: "required"}
	}

	var newlyPaid bool
	err := s.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		o, err := ownedOrder(ctx, tx, c.OrderID, c.UserID, MethodCard)
		if err != nil {
			return err
		}
		if !c.Success {
			if o.Payment {
				return errors.Wrapf(ErrAlreadyPaid, "cancel order %s", o.ID)
			}
			return tx.Orders().Delete(ctx, o.ID)
		}
		newlyPaid, err = markPaid(ctx, tx, o)
		return err
	})
	if err != nil {
		return false, err
	}

	lg := zctx.From(ctx).With(zap.String("order_id", c.OrderID))
	if !c.Success {
		lg.Info("Card checkout cancelled, order removed")
		return false, nil
	}
	if newlyPaid {
		s.confirmed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", string(MethodCard)),
			attribute.String("source", "callback"),
		))
		lg.Info("Card payment confirmed")
	}
	return true, nil
}

// RegionalConfirmation is the signed payment proof of the regional gateway.
type RegionalConfirmation struct {
	OrderID           string
	UserID            string
	ExternalOrderID   string
	ExternalPaymentID string
	Signature         string
}

// ConfirmRegionalPayment verifies the gateway signature and marks the order
// paid. A bad signature leaves both the order and the cart untouched.
func (s *Service) ConfirmRegionalPayment(ctx context.Context, c RegionalConfirmation) error {
	for _, f := range []struct{ name, value string }{
		{"orderId", c.OrderID},
		{"externalOrderId", c.ExternalOrderID},
		{"externalPaymentId", c.ExternalPaymentID},
		{"signature", c.Signature},
	} {
		if f.value == "" {
			return &ValidationError{Field: f.name, Reason: "required"}
		}
	}

	lg := zctx.From(ctx).With(
		zap.String("order_id", c.OrderID),
		zap.String("external_order_id", c.ExternalOrderID),
	)
	if !s.verifier.Verify(c.ExternalOrderID, c.ExternalPaymentID, c.Signature) {
		s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "signature")))
		lg.Warn("Payment signature mismatch")
		return errors.Wrapf(ErrInvalidSignature, "order %s", c.OrderID)
	}

	var newlyPaid bool
	err := s.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		o, err := ownedOrder(ctx, tx, c.OrderID, c.UserID, MethodRegional)
		if err != nil {
			return err
		}
		// A valid signature for a different gateway order must not pay this
		// one. An order without a reference was never issued a gateway order.
		if o.ExternalRef == "" || o.ExternalRef != c.ExternalOrderID {
			return errors.Wrapf(ErrInvalidSignature, "gateway order %s does not belong to order %s", c.ExternalOrderID, o.ID)
		}
		newlyPaid, err = markPaid(ctx, tx, o)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "reference")))
			lg.Warn("Payment proof references another gateway order")
		}
		return err
	}

	if newlyPaid {
		s.confirmed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", string(MethodRegional)),
			attribute.String("source", "callback"),
		))
		lg.Info("Regional payment confirmed")
	}
	return nil
}

// ownedOrder loads and locks the order, hiding orders of other users.
func ownedOrder(ctx context.Context, tx Store, orderID, userID string, method Method) (*Order, error) {
	o, err := tx.Orders().GetForUpdate(ctx, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", orderID)
	}
	if o.UserID != userID {
		return nil, errors.Wrapf(ErrNotFound, "get order %s", orderID)
	}
	if o.Method != method {
		return nil, &ValidationError{Field: "paymentMethod", Reason: fmt.Sprintf("order is paid by %s", o.Method)}
	}
	return o, nil
}

// markPaid sets the payment flag and clears the cart unless the order is
// already paid. It reports whether anything changed.
func markPaid(ctx context.Context, tx Store, o *Order) (bool, error) {
	if o.Payment {
		return false, nil
	}
	if err := tx.Orders().MarkPaid(ctx, o.ID); err != nil {
		return false, errors.Wrap(err, "mark paid")
	}
	if err := tx.Users().ClearCart(ctx, o.UserID); err != nil {
		return false, errors.Wrap(err, "clear cart")
	}
	o.Payment = true
	return true, nil
}

// ListAllOrders returns every order, for administrative review.
func (s *Service) ListAllOrders(ctx context.Context) ([]Order, error) {
	orders, err := s.store.Orders().List(ctx, Filter{})
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// ListOrdersForUser returns the orders placed by userID.
func (s *Service) ListOrdersForUser(ctx context.Context, userID string) ([]Order, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "userId", Reason: "required"}
	}
	orders, err := s.store.Orders().List(ctx, Filter{UserID: userID})
	if err != nil {
		return nil, errors.Wrapf(err, "list orders of user %s", userID)
	}
	return orders, nil
}

// UpdateStatus overwrites the fulfillment status of an order.
func (s *Service) UpdateStatus(ctx context.Context, orderID, status string) error {
	if orderID == "" {
		return &ValidationError{Field: "orderId", Reason: "required"}
	}
	st, err := ParseStatus(status)
	if err != nil {
		return err
	}
	if err := s.store.Orders().UpdateStatus(ctx, orderID, st); err != nil {
		return errors.Wrapf(err, "update status of order %s", orderID)
	}

	zctx.From(ctx).Info("Order status updated",
		zap.String("order_id", orderID),
		zap.String("status", string(st)),
	)
	return nil
}
