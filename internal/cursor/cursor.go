// Package cursor encodes pagination positions as opaque tokens. A cursor
// is a keyset position (created_at, id) of the last item the caller saw;
// listings resume strictly after it in newest-first order.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/keeperhq/capsulekeeper/internal/errs"
)

// Cursor is a stable position inside a capsule's memory collection.
type Cursor struct {
	CreatedAt time.Time `json:"c"`
	ID        uuid.UUID `json:"i"`
}

// Encode serializes the cursor into an opaque URL-safe token.
func Encode(c Cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses a token produced by Encode. An empty token yields nil
// (start of collection); a malformed one is the caller's fault.
func Decode(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: bad cursor", errs.ErrInvalidInput)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: bad cursor", errs.ErrInvalidInput)
	}
	if c.ID == uuid.Nil || c.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: bad cursor", errs.ErrInvalidInput)
	}
	return &c, nil
}
