package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-orders/internal/domain/order"
)

// statusOf maps an error kind to its HTTP status code.
func statusOf(k order.Kind) int {
	switch k {
	case order.KindValidation, order.KindIntegrity:
		return http.StatusBadRequest
	case order.KindUnauthorized:
		return http.StatusUnauthorized
	case order.KindNotFound:
		return http.StatusNotFound
	case order.KindConflict:
		return http.StatusConflict
	case order.KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func write(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeOK writes {"success":true, ...} with the fields added by fields.
func writeOK(w http.ResponseWriter, fields func(e *jx.Encoder)) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
		if fields != nil {
			fields(e)
		}
	})
	write(w, http.StatusOK, &e)
}

// writeError classifies err, logs it and writes the failure envelope.
// Internal error details are logged but not returned.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := order.KindOf(err)
	status := statusOf(kind)

	msg := err.Error()
	lg := zctx.From(ctx)
	switch kind {
	case order.KindInternal:
		lg.Error("Request failed", zap.Error(err))
		msg = "internal error"
	case order.KindGateway:
		lg.Error("Payment gateway call failed", zap.Error(err))
	default:
		lg.Warn("Request rejected", zap.String("kind", string(kind)), zap.Error(err))
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(false) })
		e.Field("error", func(e *jx.Encoder) { e.Str(string(kind)) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	write(w, status, &e)
}
