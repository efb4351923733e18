package app

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-orders/internal/domain/auth"
	"github.com/xenking/storefront-orders/internal/domain/order"
	"github.com/xenking/storefront-orders/internal/storage/memory"
	"github.com/xenking/storefront-orders/internal/storage/mongo"
	"github.com/xenking/storefront-orders/internal/storage/postgres"
)

// Store is the storage a running server needs.
type Store interface {
	order.Store
	APIKeys() auth.Repository
	Ping(ctx context.Context) error
}

var (
	_ Store = (*postgres.Store)(nil)
	_ Store = (*mongo.Store)(nil)
	_ Store = (*memory.Store)(nil)
)

// Backend is an opened Store together with its schema and connection
// lifecycle.
type Backend struct {
	Store
	driver  string
	migrate func(ctx context.Context) error
	close   func()
}

// Driver returns the store driver name.
func (b *Backend) Driver() string { return b.driver }

// Migrate creates the tables or indexes the store needs. It is idempotent.
func (b *Backend) Migrate(ctx context.Context) error {
	if b.migrate == nil {
		return nil
	}
	return b.migrate(ctx)
}

// Close releases the store connections.
func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// OpenBackend connects to the store selected by cfg.Driver.
func OpenBackend(ctx context.Context, cfg StoreConfig) (*Backend, error) {
	switch cfg.Driver {
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		return &Backend{
			Store:  postgres.NewStore(pool),
			driver: cfg.Driver,
			migrate: func(ctx context.Context) error {
				return postgres.RunMigrations(ctx, pool)
			},
			close: pool.Close,
		}, nil
	case DriverMongo:
		client, err := mongo.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, errors.Wrap(err, "connect mongo")
		}
		db := client.Database(cfg.MongoDatabase)
		return &Backend{
			Store:  mongo.NewStore(db),
			driver: cfg.Driver,
			migrate: func(ctx context.Context) error {
				return mongo.EnsureIndexes(ctx, db)
			},
			close: func() {
				_ = client.Disconnect(context.Background())
			},
		}, nil
	case DriverMemory:
		return &Backend{Store: memory.New(), driver: cfg.Driver}, nil
	default:
		return nil, errors.Errorf("unknown store driver %q", cfg.Driver)
	}
}
