package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-orders/internal/domain/order"
	"github.com/xenking/storefront-orders/internal/handler"
	"github.com/xenking/storefront-orders/internal/reconcile"
	"github.com/xenking/storefront-orders/pkg/health"
	"github.com/xenking/storefront-orders/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store.Driver),
	)

	backend, err := OpenBackend(ctx, cfg.Store)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer backend.Close()

	if err := backend.Migrate(ctx); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck(backend.Driver(), 5*time.Second, health.PingCheck(backend))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.Serve()

	orderService, err := NewOrderService(cfg, backend, lg, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Card and regional checkouts call the gateway inline.
		WriteTimeout:   cfg.Gateway.Timeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler:        NewHTTPHandler(ctx, cfg, backend, orderService, healthSvc, m),
	}

	if cfg.Reconcile.Interval > 0 {
		loop := &reconcile.Loop{
			Reconciler: orderService,
			Interval:   cfg.Reconcile.Interval,
			Options: order.ReconcileOptions{
				OlderThan:    cfg.Reconcile.OlderThan,
				Concurrency:  cfg.Reconcile.Concurrency,
				AbandonAfter: cfg.Reconcile.AbandonAfter,
			},
		}
		go func() {
			if err := loop.Run(ctx); err != nil {
				lg.Error("Reconcile loop stopped", zap.Error(err))
			}
		}()
		lg.Info("Reconcile loop started", zap.Duration("interval", cfg.Reconcile.Interval))
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.Drain()
		lg.Info("Draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// NewHTTPHandler mounts the API and health routes and wraps them in the
// middleware chain.
func NewHTTPHandler(
	ctx context.Context,
	cfg *Config,
	store Store,
	orderService *order.Service,
	healthSvc *health.Health,
	m httpmiddleware.Telemetry,
) http.Handler {
	h := handler.NewHandler(
		orderService,
		handler.NewSecurityHandler(store.APIKeys(), []byte(cfg.Auth.APIKeyPepper)),
		handler.NewUserAuthenticator([]byte(cfg.Auth.JWTSecret)),
	)

	mux := http.NewServeMux()
	healthSvc.Register(mux)
	h.Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	return httpmiddleware.Wrap(mux,
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.RequestID(),
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			Origins:     cfg.CORS.Origins,
			Headers:     []string{"Content-Type", "Authorization", handler.TokenHeader, handler.APIKeyHeader},
			Credentials: cfg.CORS.AllowCredentials,
			MaxAge:      24 * time.Hour,
		}),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Rules: rateLimitRules(cfg.RateLimit),
		}),
		httpmiddleware.Instrument("storefront-orders", routeFinder, m),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	)
}

// rateLimitRules limits every API call by client address, and additionally
// user routes by token and admin routes by API key. Health routes are not limited.
func rateLimitRules(cfg RateLimitConfig) []httpmiddleware.RateLimitRule {
	return []httpmiddleware.RateLimitRule{
		{
			Name:       "client",
			PathPrefix: "/api/",
			Max:        cfg.Max,
			Window:     cfg.Window,
			Key:        httpmiddleware.ClientIP(cfg.TrustProxy),
		},
		{
			Name:       "user",
			PathPrefix: "/api/order/",
			Max:        cfg.UserMax,
			Window:     cfg.Window,
			Key:        httpmiddleware.Credential(handler.TokenHeader, "Authorization"),
		},
		{
			Name:       "admin",
			PathPrefix: "/api/admin/",
			Max:        cfg.AdminMax,
			Window:     cfg.Window,
			Key:        httpmiddleware.Credential(handler.APIKeyHeader),
		},
	}
}
