// Package payment defines the contract between the order lifecycle and the
// external payment providers.
package payment

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Provider names a payment gateway in errors, logs and metrics.
type Provider string

const (
	ProviderCard     Provider = "card"
	ProviderRegional Provider = "regional"
)

// ModePayment is the only checkout mode used: a one-off payment.
const ModePayment = "payment"

// RemoteStatus is the payment state a gateway reports for a session or order.
type RemoteStatus int

const (
	StatusPending RemoteStatus = iota
	StatusPaid
	StatusExpired
)

func (s RemoteStatus) String() string {
	switch s {
	case StatusPaid:
		return "paid"
	case StatusExpired:
		return "expired"
	default:
		return "pending"
	}
}

var hundred = decimal.NewFromInt(100)

// MinorUnits converts a major-unit amount to minor units (×100), rounding
// half away from zero.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// WholeMinorUnits reports whether d converts to minor units without
// rounding.
func WholeMinorUnits(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// LineItem is one row of a hosted checkout.
type LineItem struct {
	Currency        string
	Name            string
	UnitAmountMinor int64
	Quantity        int64
}

// CheckoutRequest asks the card gateway for a hosted payment session.
type CheckoutRequest struct {
	SuccessURL string
	CancelURL  string
	LineItems  []LineItem
	Mode       string
	// Reference is echoed back by the gateway as the client reference id.
	Reference string
}

// CheckoutSession is a created hosted payment session.
type CheckoutSession struct {
	ID  string
	URL string
}

// CardGateway creates hosted card checkout sessions.
type CardGateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	SessionStatus(ctx context.Context, id string) (RemoteStatus, error)
}

// RegionalOrderRequest asks the regional gateway for a payable order.
type RegionalOrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
}

// RegionalOrder is the gateway-side order handle returned to the client.
type RegionalOrder struct {
	ID          string
	AmountMinor int64
	Currency    string
	Receipt     string
	Status      RemoteStatus
}

// RegionalGateway creates and fetches regional gateway orders.
type RegionalGateway interface {
	CreateOrder(ctx context.Context, req RegionalOrderRequest) (*RegionalOrder, error)
	FetchOrder(ctx context.Context, id string) (*RegionalOrder, error)
}

// GatewayError reports a failed call to a payment provider.
type GatewayError struct {
	Provider Provider
	Op       string
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s gateway: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// ErrNotConfigured is returned by Unconfigured.
var ErrNotConfigured = errors.New("gateway credentials not configured")

// Unconfigured stands in for a provider whose credentials are absent. Every
// call fails with ErrNotConfigured, so orders for that method are rejected
// as gateway failures before anything is charged.
type Unconfigured struct{}

var (
	_ CardGateway     = Unconfigured{}
	_ RegionalGateway = Unconfigured{}
)

func (Unconfigured) CreateCheckoutSession(context.Context, CheckoutRequest) (*CheckoutSession, error) {
	return nil, ErrNotConfigured
}

func (Unconfigured) SessionStatus(context.Context, string) (RemoteStatus, error) {
	return StatusPending, ErrNotConfigured
}

func (Unconfigured) CreateOrder(context.Context, RegionalOrderRequest) (*RegionalOrder, error) {
	return nil, ErrNotConfigured
}

func (Unconfigured) FetchOrder(context.Context, string) (*RegionalOrder, error) {
	return nil, ErrNotConfigured
}
