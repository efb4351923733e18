package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-orders/internal/domain/payment"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr      string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Store     StoreConfig
	Auth      AuthConfig
	Payment   PaymentConfig
	Card      CardConfig
	Regional  RegionalConfig
	Gateway   GatewayConfig
	Reconcile ReconcileConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// StoreConfig selects and locates the order store.
type StoreConfig struct {
	Driver        string `default:"postgres" usage:"Store driver: postgres, mongo or memory"`
	DatabaseURL   string `usage:"PostgreSQL connection URL (SHOP_STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	MongoURI      string `usage:"MongoDB connection URI; the deployment must be a replica set" flag:"mongo-uri"`
	MongoDatabase string `default:"shop" usage:"MongoDB database name" flag:"mongo-database"`
}

// AuthConfig holds the secrets used to authenticate callers.
type AuthConfig struct {
	APIKeyPepper string `usage:"HMAC pepper for admin API key hashing" flag:"api-key-pepper"`
	JWTSecret    string `usage:"HS256 secret of user tokens" flag:"jwt-secret"`
}

// PaymentConfig holds order pricing and redirect settings.
type PaymentConfig struct {
	Currency       string `default:"inr" usage:"Lower-case ISO 4217 currency code"`
	DeliveryCharge string `default:"10" usage:"Delivery charge added to every order, in major units" flag:"delivery-charge"`
	FrontendURL    string `usage:"Base URL for checkout redirects; request Origin when empty" flag:"frontend-url"`
}

// CardConfig configures the hosted card checkout provider.
type CardConfig struct {
	SecretKey string `usage:"Card gateway secret key; card payments are rejected when empty" flag:"card-secret-key"`
}

// RegionalConfig configures the regional gateway.
type RegionalConfig struct {
	BaseURL   string `default:"https://api.razorpay.com" usage:"Regional gateway API base URL" flag:"regional-base-url"`
	KeyID     string `usage:"Regional gateway key id" flag:"regional-key-id"`
	KeySecret string `usage:"Regional gateway key secret, also the signature secret" flag:"regional-key-secret"`
}

// GatewayConfig holds settings shared by the payment gateway clients.
type GatewayConfig struct {
	Timeout time.Duration `default:"15s" usage:"Timeout of a single gateway call" flag:"gateway-timeout"`
}

// ReconcileConfig controls the background sweep of unpaid gateway orders.
type ReconcileConfig struct {
	Interval    time.Duration `default:"0s" usage:"Sweep interval; zero disables the sweep" flag:"reconcile-interval"`
	OlderThan   time.Duration `default:"1h" usage:"Only orders older than this are reconciled" flag:"reconcile-older-than"`
	Concurrency int           `default:"4" usage:"Parallel gateway lookups per sweep" flag:"reconcile-concurrency"`
	// AbandonAfter covers regional orders, which never report expiry.
	AbandonAfter time.Duration `default:"48h" usage:"Delete unpaid orders still pending at the gateway after this; zero keeps them" flag:"reconcile-abandon-after"`
}

// RateLimitConfig sets the sliding window limits. Zero disables a limit.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max API requests per window per client address"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
	// UserMax and AdminMax count per credential, so users behind one NAT do
	// not share a budget.
	UserMax    int  `default:"30"  usage:"Max /api/order requests per window per user token" flag:"rate-limit-user"`
	AdminMax   int  `default:"300" usage:"Max /api/admin requests per window per API key" flag:"rate-limit-admin"`
	TrustProxy bool `default:"false" usage:"Key client limits by X-Forwarded-For" flag:"rate-limit-trust-proxy"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials for listed origins" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, flags, YAML
// config files, and applies platform-specific defaults. The result is
// validated for serving.
func LoadConfig() (*Config, error) {
	cfg, err := load(false)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadConfig loads configuration like LoadConfig but ignores command line
// flags and skips validation. Tools that own their flags use it and check
// only the settings they need.
func ReadConfig() (*Config, error) {
	return load(true)
}

func load(skipFlags bool) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		SkipFlags: skipFlags,
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	return &cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("database URL is required: set SHOP_STORE_DATABASE_URL or DATABASE_URL")
		}
	case DriverMongo:
		if c.Store.MongoURI == "" {
			return errors.New("mongo URI is required: set SHOP_STORE_MONGO_URI")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT secret is required: set SHOP_AUTH_JWT_SECRET")
	}
	if c.Auth.APIKeyPepper == "" {
		return errors.New("API key pepper is required: set SHOP_AUTH_API_KEY_PEPPER")
	}
	if c.Payment.Currency == "" {
		return errors.New("payment currency is required")
	}
	if _, err := c.DeliveryCharge(); err != nil {
		return err
	}
	if c.Reconcile.Interval < 0 {
		return errors.Errorf("negative reconcile interval %s", c.Reconcile.Interval)
	}
	if c.Reconcile.AbandonAfter < 0 {
		return errors.Errorf("negative reconcile abandon age %s", c.Reconcile.AbandonAfter)
	}
	return nil
}

// DeliveryCharge parses the configured delivery charge.
func (c *Config) DeliveryCharge() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.Payment.DeliveryCharge)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse delivery charge %q", c.Payment.DeliveryCharge)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Errorf("negative delivery charge %s", d)
	}
	if !payment.WholeMinorUnits(d) {
		return decimal.Zero, errors.Errorf("delivery charge %s has more than two decimal places", d)
	}
	return d, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Store.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.Store.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
