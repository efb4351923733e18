package order

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-orders/internal/domain/payment"
	"github.com/xenking/storefront-orders/internal/domain/user"
)

// Sentinel errors for the order lifecycle.
var (
	ErrNotFound         = errors.New("order not found")
	ErrInvalidSignature = errors.New("invalid payment signature")
	ErrAlreadyPaid      = errors.New("order already paid")
	ErrUnauthorized     = errors.New("unauthorized")
)

// ValidationError reports a malformed or missing input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Kind is the closed set of failure classes reported to callers.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindGateway      Kind = "gateway"
	KindIntegrity    Kind = "integrity"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindInternal     Kind = "internal"
)

// KindOf classifies err. It returns "" for a nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	var ge *payment.GatewayError
	if errors.As(err, &ge) {
		return KindGateway
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, user.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidSignature):
		return KindIntegrity
	case errors.Is(err, ErrAlreadyPaid):
		return KindConflict
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	default:
		return KindInternal
	}
}
