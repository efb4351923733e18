package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xenking/storefront-orders/internal/domain/auth"
	"github.com/xenking/storefront-orders/internal/domain/order"
)

const (
	// APIKeyHeader carries the admin API key.
	APIKeyHeader = "api_key"
	// TokenHeader carries the user JWT. A bearer Authorization header is
	// also accepted.
	TokenHeader = "token"
)

// SecurityHandler authenticates admin requests via HMAC-SHA256 hashed API keys.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// HandleAPIKey hashes key, looks it up and compares the stored hash in
// constant time. The key must carry scope.
func (s *SecurityHandler) HandleAPIKey(ctx context.Context, key, scope string) (*auth.APIKeyInfo, error) {
	if key == "" {
		return nil, errors.Wrap(order.ErrUnauthorized, "api key missing")
	}
	hexHash := auth.HashKey(s.pepper, key)

	info, err := s.apikeys.FindByHash(ctx, hexHash)
	if err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			return nil, errors.Wrap(order.ErrUnauthorized, "unknown api key")
		}
		return nil, errors.Wrap(err, "find api key")
	}

	hash, _ := hex.DecodeString(hexHash)
	storedBytes, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, storedBytes) != 1 {
		return nil, errors.Wrap(order.ErrUnauthorized, "api key hash mismatch")
	}

	if !info.HasScope(scope) {
		return nil, errors.Wrapf(order.ErrUnauthorized, "api key %s lacks scope %s", info.ID, scope)
	}
	return info, nil
}

// UserAuthenticator resolves the calling user from an HS256 JWT.
type UserAuthenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewUserAuthenticator returns a UserAuthenticator verifying tokens with secret.
func NewUserAuthenticator(secret []byte) *UserAuthenticator {
	return &UserAuthenticator{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// tokenFrom reads the token from the "token" header or a bearer
// Authorization header.
func tokenFrom(r *http.Request) string {
	if t := r.Header.Get(TokenHeader); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// UserID verifies the request token and returns its user id, taken from the
// "id" claim or, when absent, "sub".
func (a *UserAuthenticator) UserID(r *http.Request) (string, error) {
	raw := tokenFrom(r)
	if raw == "" {
		return "", errors.Wrap(order.ErrUnauthorized, "token missing")
	}

	claims := jwt.MapClaims{}
	if _, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return "", errors.Wrapf(order.ErrUnauthorized, "invalid token: %v", err)
	}

	if id, ok := claims["id"].(string); ok && id != "" {
		return id, nil
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.Wrap(order.ErrUnauthorized, "token has no subject")
	}
	return sub, nil
}

type userIDKey struct{}

// UserIDFrom returns the authenticated user id stored in ctx.
func UserIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}
