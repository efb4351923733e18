package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront-orders/internal/domain/order"
	"github.com/xenking/storefront-orders/internal/orderjson"
)

// PlaceOrder creates an order for the caller. Gateway methods also return
// the payable checkout: a session URL for card, a gateway order for regional.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data, err := readBody(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	req, err := decodePlaceOrder(data)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	result, err := h.orderService.PlaceOrder(ctx, order.PlaceOrderRequest{
		CreateOrderRequest: order.CreateOrderRequest{
			UserID:  UserIDFrom(ctx),
			Items:   req.Items,
			Amount:  req.Amount,
			Address: req.Address,
			Method:  req.Method,
		},
		Origin: r.Header.Get("Origin"),
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeOK(w, func(e *jx.Encoder) {
		e.Field("message", func(e *jx.Encoder) { e.Str("Order Placed") })
		e.Field("order", func(e *jx.Encoder) { orderjson.Encode(e, *result.Order) })
		co := result.Checkout
		if co == nil {
			return
		}
		if co.SessionURL != "" {
			e.Field("sessionUrl", func(e *jx.Encoder) { e.Str(co.SessionURL) })
		}
		if ro := co.RegionalOrder; ro != nil {
			e.Field("regionalOrder", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("id", func(e *jx.Encoder) { e.Str(ro.ID) })
					e.Field("amount", func(e *jx.Encoder) { e.Int64(ro.AmountMinor) })
					e.Field("currency", func(e *jx.Encoder) { e.Str(ro.Currency) })
					e.Field("receipt", func(e *jx.Encoder) { e.Str(ro.Receipt) })
				})
			})
		}
	})
}

// VerifyCard applies the card checkout redirect outcome.
func (h *Handler) VerifyCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data, err := readBody(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	req, err := decodeVerifyCard(data)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	paid, err := h.orderService.ConfirmCardPayment(ctx, order.CardConfirmation{
		OrderID: req.OrderID,
		UserID:  UserIDFrom(ctx),
		Success: req.Success,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	msg := "Payment successful"
	if !paid {
		msg = "Payment cancelled, order removed"
	}
	writeOK(w, func(e *jx.Encoder) {
		e.Field("paid", func(e *jx.Encoder) { e.Bool(paid) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
}

// VerifyRegional checks the regional gateway payment proof.
func (h *Handler) VerifyRegional(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data, err := readBody(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	req, err := decodeVerifyRegional(data)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	if err := h.orderService.ConfirmRegionalPayment(ctx, order.RegionalConfirmation{
		OrderID:           req.OrderID,
		UserID:            UserIDFrom(ctx),
		ExternalOrderID:   req.ExternalOrderID,
		ExternalPaymentID: req.ExternalPaymentID,
		Signature:         req.Signature,
	}); err != nil {
		writeError(ctx, w, err)
		return
	}

	writeOK(w, func(e *jx.Encoder) {
		e.Field("paid", func(e *jx.Encoder) { e.Bool(true) })
		e.Field("message", func(e *jx.Encoder) { e.Str("Payment successful") })
	})
}

// UserOrders lists the caller's orders.
func (h *Handler) UserOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orders, err := h.orderService.ListOrdersForUser(ctx, UserIDFrom(ctx))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeOrders(w, orders)
}

// AllOrders lists every order.
func (h *Handler) AllOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orders, err := h.orderService.ListAllOrders(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeOrders(w, orders)
}

// UpdateStatus sets the fulfillment status of an order.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data, err := readBody(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	req, err := decodeUpdateStatus(data)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	if err := h.orderService.UpdateStatus(ctx, req.OrderID, req.Status); err != nil {
		writeError(ctx, w, err)
		return
	}
	writeOK(w, func(e *jx.Encoder) {
		e.Field("message", func(e *jx.Encoder) { e.Str("Status Updated") })
	})
}

func writeOrders(w http.ResponseWriter, orders []order.Order) {
	writeOK(w, func(e *jx.Encoder) {
		e.Field("orders", func(e *jx.Encoder) { orderjson.EncodeList(e, orders) })
	})
}
