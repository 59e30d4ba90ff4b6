// Package identity resolves callers to stable principals. Token issuance
// belongs to an external authentication service; this package only
// verifies what it issued.
package identity

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/keeperhq/capsulekeeper/internal/errs"
)

// Principal is the verified identity of a caller.
type Principal struct {
	ID uuid.UUID
}

// Resolver turns a bearer credential into a principal.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Principal, error)
}

// JWTResolver verifies HS256 tokens whose subject is the principal id.
type JWTResolver struct {
	signKey []byte
}

// NewJWTResolver constructs a resolver over the shared signing key.
func NewJWTResolver(signKey []byte) *JWTResolver {
	return &JWTResolver{signKey: signKey}
}

// Resolve parses and verifies the token.
func (r *JWTResolver) Resolve(_ context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, errs.ErrUnauthorized
	}
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.signKey, nil
	})
	if err != nil || !tok.Valid {
		return Principal{}, errs.ErrUnauthorized
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return Principal{}, errs.ErrUnauthorized
	}
	return Principal{ID: id}, nil
}

type ctxKey string

const principalKey ctxKey = "ck.principal"

// WithPrincipal stores the verified principal in context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext fetches the principal placed by the auth middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
