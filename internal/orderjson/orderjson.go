// Package orderjson writes orders in their public JSON form.
package orderjson

import (
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-orders/internal/domain/order"
)

// Decimal writes d as a JSON number.
func Decimal(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.String()))
}

// Encode writes o as a JSON object. Dates are Unix milliseconds.
func Encode(e *jx.Encoder, o order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("userId", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					encodeItem(e, it)
				}
			})
		})
		e.Field("amount", func(e *jx.Encoder) { Decimal(e, o.Amount) })
		e.Field("address", func(e *jx.Encoder) { encodeAddress(e, o.Address) })
		e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(string(o.Method)) })
		e.Field("payment", func(e *jx.Encoder) { e.Bool(o.Payment) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		if o.ExternalRef != "" {
			e.Field("externalRef", func(e *jx.Encoder) { e.Str(o.ExternalRef) })
		}
		e.Field("date", func(e *jx.Encoder) { e.Int64(o.Date.UnixMilli()) })
	})
}

// EncodeList writes orders as a JSON array.
func EncodeList(e *jx.Encoder, orders []order.Order) {
	e.Arr(func(e *jx.Encoder) {
		for _, o := range orders {
			Encode(e, o)
		}
	})
}

func encodeItem(e *jx.Encoder, it order.Item) {
	e.Obj(func(e *jx.Encoder) {
		if it.ProductID != "" {
			e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
		}
		e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
		e.Field("price", func(e *jx.Encoder) { Decimal(e, it.Price) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
		if it.Size != "" {
			e.Field("size", func(e *jx.Encoder) { e.Str(it.Size) })
		}
	})
}

func encodeAddress(e *jx.Encoder, a order.Address) {
	e.Obj(func(e *jx.Encoder) {
		for _, f := range []struct {
			key, value string
		}{
			{"firstName", a.FirstName},
			{"lastName", a.LastName},
			{"email", a.Email},
			{"street", a.Street},
			{"city", a.City},
			{"state", a.State},
			{"zipcode", a.Zipcode},
			{"country", a.Country},
			{"phone", a.Phone},
		} {
			e.Field(f.key, func(e *jx.Encoder) { e.Str(f.value) })
		}
	})
}
