// Package mongo implements the order, user and API key repositories on
// MongoDB. Multi-document steps run in session transactions, so the server
// must be a replica set.
package mongo

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/xenking/storefront-orders/internal/domain/auth"
	"github.com/xenking/storefront-orders/internal/domain/order"
	"github.com/xenking/storefront-orders/internal/domain/user"
)

const (
	ordersCollection  = "orders"
	usersCollection   = "users"
	apiKeysCollection = "api_keys"
)

// Connect opens a client for uri and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ping")
	}
	return client, nil
}

// EnsureIndexes creates the indexes the repositories rely on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	if _, err := db.Collection(ordersCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "date", Value: 1}}},
		{Keys: bson.D{{Key: "payment", Value: 1}, {Key: "date", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("creating order indexes: %w", err)
	}
	if _, err := db.Collection(apiKeysCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "keyHash", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("creating api key indexes: %w", err)
	}
	return nil
}

var _ order.Store = (*Store)(nil)

// Store groups the repositories over one database.
type Store struct {
	db *mongo.Database
}

// NewStore returns a Store using db.
func NewStore(db *mongo.Database) *Store {
	return &Store{db: db}
}

func (s *Store) Orders() order.Repository {
	return &OrderRepository{c: s.db.Collection(ordersCollection)}
}

func (s *Store) Users() user.Repository {
	return &UserRepository{c: s.db.Collection(usersCollection)}
}

// APIKeys returns the API key repository.
func (s *Store) APIKeys() auth.Repository {
	return &APIKeyRepository{c: s.db.Collection(apiKeysCollection)}
}

// InTx runs fn in a session transaction. Operations must use the context
// passed to fn. When ctx already carries a session, fn joins it.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Store) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx, s)
	}

	sess, err := s.db.Client().StartSession()
	if err != nil {
		return errors.Wrap(err, "start session")
	}
	defer sess.EndSession(context.Background())

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc, s)
	})
	return err
}

// Ping checks server connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}
