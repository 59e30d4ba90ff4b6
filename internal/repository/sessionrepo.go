package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/keeperhq/capsulekeeper/internal/model"
)

// SessionRepository tracks in-flight upload sessions. Sessions are
// deliberately not durable application state: the only implementation is
// in-memory, and losing them on restart at worst forces a re-upload.
type SessionRepository interface {
	// Create inserts a new session.
	Create(ctx context.Context, s *model.UploadSession) error
	// Get loads a session by ID or returns ErrNotFound.
	Get(ctx context.Context, id string) (*model.UploadSession, error)
	// FindByIdem returns the unexpired session created under the
	// (capsule, idem) pair, or ErrNotFound.
	FindByIdem(ctx context.Context, capsuleID uuid.UUID, idemKey string) (*model.UploadSession, error)
	// Update replaces the stored session.
	Update(ctx context.Context, s *model.UploadSession) error
	// Delete removes the session; missing sessions return ErrNotFound.
	Delete(ctx context.Context, id string) error
	// ActiveCount returns the number of unexpired sessions for a capsule.
	ActiveCount(ctx context.Context, capsuleID uuid.UUID, now time.Time) (int, error)
	// Expired returns every session past its expiry at now.
	Expired(ctx context.Context, now time.Time) ([]*model.UploadSession, error)
}
