package order

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"

	"github.com/xenking/storefront-orders/internal/domain/payment"
	"github.com/xenking/storefront-orders/internal/domain/user"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"validation", &ValidationError{Field: "amount", Reason: "required"}, KindValidation},
		{"wrapped validation", errors.Wrap(&ValidationError{Field: "x", Reason: "y"}, "create"), KindValidation},
		{"order not found", errors.Wrap(ErrNotFound, "get order"), KindNotFound},
		{"user not found", errors.Wrap(user.ErrNotFound, "get user"), KindNotFound},
		{"signature", ErrInvalidSignature, KindIntegrity},
		{"already paid", errors.Wrapf(ErrAlreadyPaid, "cancel order %s", "o1"), KindConflict},
		{"unauthorized", ErrUnauthorized, KindUnauthorized},
		{"gateway", &payment.GatewayError{Provider: payment.ProviderCard, Op: "create", Err: errors.New("502")}, KindGateway},
		{"unknown", errors.New("disk full"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestParseStatus(t *testing.T) {
	for _, st := range Statuses {
		got, err := ParseStatus(string(st))
		assert.NoError(t, err)
		assert.Equal(t, st, got)
	}

	_, err := ParseStatus("Returned")
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, "status", ve.Field)
}

func TestFilterMatch(t *testing.T) {
	o := Order{UserID: "u1", Method: MethodCard}

	assert.True(t, Filter{}.Match(o))
	assert.True(t, Filter{UserID: "u1", Unpaid: true}.Match(o))
	assert.False(t, Filter{UserID: "u2"}.Match(o))
	assert.False(t, Filter{Methods: []Method{MethodCOD}}.Match(o))

	o.Payment = true
	assert.False(t, Filter{Unpaid: true}.Match(o))
}
