package mongo

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/storefront-orders/internal/domain/auth"
	"github.com/xenking/storefront-orders/internal/domain/user"
)

type userDoc struct {
	ID       string    `bson:"_id"`
	Name     string    `bson:"name"`
	Email    string    `bson:"email"`
	CartData user.Cart `bson:"cartData"`
}

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository on the users collection.
type UserRepository struct {
	c *mongo.Collection
}

func (r *UserRepository) Get(ctx context.Context, id string) (*user.User, error) {
	var doc userDoc
	if err := r.c.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("getting user %q: %w", id, err)
	}
	if doc.CartData == nil {
		doc.CartData = user.Cart{}
	}
	return &user.User{ID: doc.ID, Name: doc.Name, Email: doc.Email, Cart: doc.CartData}, nil
}

// Create inserts the user or replaces an existing one with the same id.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	cart := u.Cart
	if cart == nil {
		cart = user.Cart{}
	}
	doc := userDoc{ID: u.ID, Name: u.Name, Email: u.Email, CartData: cart}
	_, err := r.c.ReplaceOne(ctx, bson.D{{Key: "_id", Value: u.ID}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("creating user %q: %w", u.ID, err)
	}
	return nil
}

func (r *UserRepository) ClearCart(ctx context.Context, id string) error {
	res, err := r.c.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "cartData", Value: bson.D{}}}}},
	)
	if err != nil {
		return fmt.Errorf("clearing cart of user %q: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return user.ErrNotFound
	}
	return nil
}

type apiKeyDoc struct {
	ID      string   `bson:"_id"`
	KeyHash string   `bson:"keyHash"`
	Name    string   `bson:"name"`
	Scopes  []string `bson:"scopes"`
	Active  bool     `bson:"active"`
}

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository provides API key lookups on the api_keys collection.
type APIKeyRepository struct {
	c *mongo.Collection
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var doc apiKeyDoc
	err := r.c.FindOne(ctx, bson.D{{Key: "keyHash", Value: hash}, {Key: "active", Value: true}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, auth.ErrKeyNotFound
		}
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	return &auth.APIKeyInfo{ID: doc.ID, KeyHash: doc.KeyHash, Name: doc.Name, Scopes: doc.Scopes}, nil
}

// Upsert stores the key, replacing an existing key with the same id.
func (r *APIKeyRepository) Upsert(ctx context.Context, info auth.APIKeyInfo) error {
	doc := apiKeyDoc{ID: info.ID, KeyHash: info.KeyHash, Name: info.Name, Scopes: info.Scopes, Active: true}
	if doc.Scopes == nil {
		doc.Scopes = []string{}
	}
	_, err := r.c.ReplaceOne(ctx, bson.D{{Key: "_id", Value: info.ID}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting api key %q: %w", info.ID, err)
	}
	return nil
}
