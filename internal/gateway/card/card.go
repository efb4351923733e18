// Package card adapts Stripe Checkout to payment.CardGateway.
package card

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront-orders/internal/domain/payment"
)

// sessionAPI is the subset of the Stripe checkout session client in use.
type sessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

var _ payment.CardGateway = (*Gateway)(nil)

// Gateway creates and inspects Stripe checkout sessions.
type Gateway struct {
	sessions sessionAPI
}

// Options configures New.
type Options struct {
	SecretKey      string
	Timeout        time.Duration
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
}

// New returns a Gateway talking to the Stripe API with an instrumented
// HTTP client.
func New(opts Options) (*Gateway, error) {
	if opts.SecretKey == "" {
		return nil, errors.New("stripe secret key is empty")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	transportOpts := []otelhttp.Option{}
	if opts.TracerProvider != nil {
		transportOpts = append(transportOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}
	client := &http.Client{
		Timeout:   opts.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport, transportOpts...),
	}

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:    client,
		LeveledLogger: opts.Logger.Named("stripe").Sugar(),
	})
	return &Gateway{sessions: &session.Client{B: backend, Key: opts.SecretKey}}, nil
}

// CreateCheckoutSession creates a hosted payment session.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		Mode:              stripe.String(req.Mode),
		ClientReferenceID: stripe.String(req.Reference),
	}
	params.Context = ctx
	for _, item := range req.LineItems {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(item.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
				UnitAmount: stripe.Int64(item.UnitAmountMinor),
			},
			Quantity: stripe.Int64(item.Quantity),
		})
	}

	s, err := g.sessions.New(params)
	if err != nil {
		return nil, errors.Wrap(err, "create checkout session")
	}
	return &payment.CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// SessionStatus reports whether the session was paid, has expired, or is
// still open.
func (g *Gateway) SessionStatus(ctx context.Context, id string) (payment.RemoteStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := g.sessions.Get(id, params)
	if err != nil {
		return payment.StatusPending, errors.Wrapf(err, "get checkout session %s", id)
	}
	return remoteStatus(s), nil
}

func remoteStatus(s *stripe.CheckoutSession) payment.RemoteStatus {
	switch {
	case s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		s.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return payment.StatusPaid
	case s.Status == stripe.CheckoutSessionStatusExpired:
		return payment.StatusExpired
	default:
		return payment.StatusPending
	}
}
