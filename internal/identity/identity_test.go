package identity

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, key []byte, subject string, method jwt.SigningMethod) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestJWTResolver_Resolve(t *testing.T) {
	t.Parallel()
	key := []byte("test-signing-key")
	r := NewJWTResolver(key)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	p, err := r.Resolve(ctx, signToken(t, key, id.String(), jwt.SigningMethodHS256))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.ID != id {
		t.Fatalf("principal mismatch: want %s got %s", id, p.ID)
	}
}

func TestJWTResolver_Rejects(t *testing.T) {
	t.Parallel()
	key := []byte("test-signing-key")
	r := NewJWTResolver(key)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"wrong key", signToken(t, []byte("other-key"), id.String(), jwt.SigningMethodHS256)},
		{"non-uuid subject", signToken(t, key, "alice", jwt.SigningMethodHS256)},
		{"nil subject", signToken(t, key, uuid.Nil.String(), jwt.SigningMethodHS256)},
		{"wrong method", signToken(t, key, id.String(), jwt.SigningMethodHS384)},
	}
	for _, tc := range cases {
		if _, err := r.Resolve(ctx, tc.token); err == nil {
			t.Fatalf("%s: want error", tc.name)
		}
	}
}

func TestPrincipalContext(t *testing.T) {
	t.Parallel()
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("empty context should not carry a principal")
	}
	p := Principal{ID: uuid.Must(uuid.NewV4())}
	got, ok := FromContext(WithPrincipal(context.Background(), p))
	if !ok || got != p {
		t.Fatalf("context round trip: ok=%v got=%+v", ok, got)
	}
}
