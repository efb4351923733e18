package app

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront-orders/internal/domain/payment"
	"github.com/xenking/storefront-orders/internal/gateway/card"
	"github.com/xenking/storefront-orders/internal/gateway/regional"
)

func validConfig() *Config {
	return &Config{
		Addr:    "0.0.0.0:8080",
		Store:   StoreConfig{Driver: DriverMemory},
		Auth:    AuthConfig{APIKeyPepper: "pepper", JWTSecret: "jwt"},
		Payment: PaymentConfig{Currency: "inr", DeliveryCharge: "10"},
		Gateway: GatewayConfig{Timeout: 15 * time.Second},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "Valid", mutate: func(*Config) {}},
		{
			name:    "PostgresWithoutURL",
			mutate:  func(c *Config) { c.Store.Driver = DriverPostgres },
			wantErr: "database URL is required",
		},
		{
			name:    "MongoWithoutURI",
			mutate:  func(c *Config) { c.Store.Driver = DriverMongo },
			wantErr: "mongo URI is required",
		},
		{
			name:    "UnknownDriver",
			mutate:  func(c *Config) { c.Store.Driver = "sqlite" },
			wantErr: `unknown store driver "sqlite"`,
		},
		{
			name:    "NoJWTSecret",
			mutate:  func(c *Config) { c.Auth.JWTSecret = "" },
			wantErr: "JWT secret is required",
		},
		{
			name:    "NoPepper",
			mutate:  func(c *Config) { c.Auth.APIKeyPepper = "" },
			wantErr: "API key pepper is required",
		},
		{
			name:    "BadDeliveryCharge",
			mutate:  func(c *Config) { c.Payment.DeliveryCharge = "ten" },
			wantErr: "parse delivery charge",
		},
		{
			name:    "NegativeDeliveryCharge",
			mutate:  func(c *Config) { c.Payment.DeliveryCharge = "-1" },
			wantErr: "negative delivery charge",
		},
		{
			name:    "SubUnitDeliveryCharge",
			mutate:  func(c *Config) { c.Payment.DeliveryCharge = "9.995" },
			wantErr: "more than two decimal places",
		},
		{
			name:    "NegativeInterval",
			mutate:  func(c *Config) { c.Reconcile.Interval = -time.Second },
			wantErr: "negative reconcile interval",
		},
		{
			name:    "NegativeAbandonAge",
			mutate:  func(c *Config) { c.Reconcile.AbandonAfter = -time.Hour },
			wantErr: "negative reconcile abandon age",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_DeliveryCharge(t *testing.T) {
	cfg := validConfig()
	cfg.Payment.DeliveryCharge = "12.50"

	d, err := cfg.DeliveryCharge()
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("12.5")))
}

func TestConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")

	cfg := validConfig()
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", cfg.Store.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)

	cfg = validConfig()
	cfg.Addr = "127.0.0.1:8081"
	cfg.Store.DatabaseURL = "postgres://explicit/db"
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/db", cfg.Store.DatabaseURL)
	assert.Equal(t, "127.0.0.1:8081", cfg.Addr)
}

func TestGateways(t *testing.T) {
	tp := tracenoop.NewTracerProvider()

	t.Run("Unconfigured", func(t *testing.T) {
		cardGW, regionalGW, err := Gateways(validConfig(), zap.NewNop(), tp)
		require.NoError(t, err)
		assert.IsType(t, payment.Unconfigured{}, cardGW)
		assert.IsType(t, payment.Unconfigured{}, regionalGW)
	})
	t.Run("Configured", func(t *testing.T) {
		cfg := validConfig()
		cfg.Card.SecretKey = "sk_test_123"
		cfg.Regional = RegionalConfig{BaseURL: "http://localhost:1", KeyID: "rzp_test", KeySecret: "s3cr3t"}

		cardGW, regionalGW, err := Gateways(cfg, zap.NewNop(), tp)
		require.NoError(t, err)
		assert.IsType(t, &card.Gateway{}, cardGW)
		assert.IsType(t, &regional.Client{}, regionalGW)
	})
}

func TestOpenBackend_Memory(t *testing.T) {
	ctx := context.Background()
	b, err := OpenBackend(ctx, StoreConfig{Driver: DriverMemory})
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, DriverMemory, b.Driver())
	require.NoError(t, b.Migrate(ctx))
	require.NoError(t, b.Ping(ctx))

	svc, err := NewOrderService(validConfig(), b, zap.NewNop(), tracenoop.NewTracerProvider(), noop.NewMeterProvider())
	require.NoError(t, err)
	orders, err := svc.ListAllOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestOpenBackend_Unknown(t *testing.T) {
	_, err := OpenBackend(context.Background(), StoreConfig{Driver: "sqlite"})
	require.Error(t, err)
}
