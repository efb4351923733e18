package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-orders/internal/domain/auth"
	"github.com/xenking/storefront-orders/internal/domain/order"
)

// Handler serves the order API, delegating business logic to the order
// service.
type Handler struct {
	orderService *order.Service
	security     *SecurityHandler
	users        *UserAuthenticator
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	orderService *order.Service,
	security *SecurityHandler,
	users *UserAuthenticator,
) *Handler {
	return &Handler{
		orderService: orderService,
		security:     security,
		users:        users,
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/order/place", h.user(h.PlaceOrder))
	mux.Handle("POST /api/order/verify/card", h.user(h.VerifyCard))
	mux.Handle("POST /api/order/verify/regional", h.user(h.VerifyRegional))
	mux.Handle("GET /api/order/mine", h.user(h.UserOrders))

	mux.Handle("GET /api/admin/orders", h.admin(h.AllOrders))
	mux.Handle("POST /api/admin/orders/status", h.admin(h.UpdateStatus))
}

// user requires a valid user token and stores the user id in the request
// context.
func (h *Handler) user(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.users.UserID(r)
		if err != nil {
			writeError(r.Context(), w, err)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey{}, id)
		ctx = zctx.With(ctx, zap.String("user_id", id))
		next(w, r.WithContext(ctx))
	})
}

// admin requires an API key with the orders admin scope.
func (h *Handler) admin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := h.security.HandleAPIKey(r.Context(), r.Header.Get(APIKeyHeader), auth.ScopeOrdersAdmin)
		if err != nil {
			writeError(r.Context(), w, err)
			return
		}
		ctx := zctx.With(r.Context(), zap.String("api_key_id", info.ID))
		next(w, r.WithContext(ctx))
	})
}
