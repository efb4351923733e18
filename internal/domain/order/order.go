package order

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-orders/internal/domain/user"
)

// Method identifies how an order is paid for. It is fixed at creation.
type Method string

const (
	// MethodCOD is cash on delivery: no gateway interaction.
	MethodCOD Method = "cod"
	// MethodCard pays through a hosted card checkout session.
	MethodCard Method = "card"
	// MethodRegional pays through the regional gateway with signed confirmations.
	MethodRegional Method = "regional"
)

// Valid reports whether m is a supported payment method.
func (m Method) Valid() bool {
	switch m {
	case MethodCOD, MethodCard, MethodRegional:
		return true
	}
	return false
}

// Gateway reports whether orders paid with m are confirmed by an external gateway.
func (m Method) Gateway() bool {
	return m == MethodCard || m == MethodRegional
}

// Status is the fulfillment status of an order. It is independent of payment.
type Status string

const (
	StatusPlaced         Status = "Order Placed"
	StatusPacking        Status = "Packing"
	StatusShipped        Status = "Shipped"
	StatusOutForDelivery Status = "Out for delivery"
	StatusDelivered      Status = "Delivered"
)

// Statuses lists every accepted fulfillment status.
var Statuses = []Status{
	StatusPlaced,
	StatusPacking,
	StatusShipped,
	StatusOutForDelivery,
	StatusDelivered,
}

// ParseStatus returns the Status matching s. Transitions between statuses are
// not ordered, only membership is checked.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	if !slices.Contains(Statuses, st) {
		return "", &ValidationError{Field: "status", Reason: "unknown status " + strconv.Quote(s)}
	}
	return st, nil
}

// Order is a persisted purchase with its payment and fulfillment state.
type Order struct {
	ID      string
	UserID  string
	Items   []Item
	Amount  decimal.Decimal
	Address Address
	Method  Method
	Payment bool
	Status  Status
	// ExternalRef is the gateway session or gateway order id, set once the
	// checkout was created. Empty for cash on delivery.
	ExternalRef string
	Date        time.Time
}

// Item is a single line item. Prices are in major currency units.
type Item struct {
	ProductID string          `json:"productId,omitempty"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Size      string          `json:"size,omitempty"`
}

// Subtotal returns price × quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Address is the shipping address snapshot taken at order time.
type Address struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	Street    string `json:"street"`
	City      string `json:"city"`
	State     string `json:"state,omitempty"`
	Zipcode   string `json:"zipcode,omitempty"`
	Country   string `json:"country"`
	Phone     string `json:"phone,omitempty"`
}

// Validate checks the fields required to ship an order.
func (a Address) Validate() error {
	for _, f := range []struct {
		name  string
		value string
	}{
		{"address.street", a.Street},
		{"address.city", a.City},
		{"address.country", a.Country},
	} {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.name, Reason: "required"}
		}
	}
	return nil
}

// Clone returns a deep copy of o.
func (o Order) Clone() Order {
	o.Items = slices.Clone(o.Items)
	return o
}

// Filter selects orders in Repository.List. Zero fields match everything.
type Filter struct {
	UserID        string
	Unpaid        bool
	Methods       []Method
	CreatedBefore time.Time
}

// Match reports whether o satisfies the filter.
func (f Filter) Match(o Order) bool {
	if f.UserID != "" && o.UserID != f.UserID {
		return false
	}
	if f.Unpaid && o.Payment {
		return false
	}
	if len(f.Methods) > 0 && !slices.Contains(f.Methods, o.Method) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !o.Date.Before(f.CreatedBefore) {
		return false
	}
	return true
}

// Repository defines persistence operations for orders. Methods addressing a
// single order return ErrNotFound when it does not exist.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// GetForUpdate is Get that also locks the order until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, f Filter) ([]Order, error)
	MarkPaid(ctx context.Context, id string) error
	SetExternalRef(ctx context.Context, id, ref string) error
	UpdateStatus(ctx context.Context, id string, status Status) error
	Delete(ctx context.Context, id string) error
}

// Store groups the repositories the order lifecycle touches and runs
// multi-document steps atomically.
type Store interface {
	Orders() Repository
	Users() user.Repository
	// InTx runs fn with a Store bound to a single transaction. The transaction
	// commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
