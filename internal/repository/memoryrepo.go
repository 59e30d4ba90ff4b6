package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/keeperhq/capsulekeeper/internal/cursor"
	"github.com/keeperhq/capsulekeeper/internal/model"
)

// MemoryRepository provides keyed access to memory records.
type MemoryRepository interface {
	// Create inserts a new memory. The idem digest is stored alongside
	// the (capsule_id, idem_key) dedup key for replay verification.
	Create(ctx context.Context, m *model.Memory, idemDigest string) error

	// Get loads a memory by ID, including soft-deleted records.
	Get(ctx context.Context, id uuid.UUID) (*model.Memory, error)

	// FindByIdem returns the memory previously created under the dedup
	// key together with its stored payload digest, or ErrNotFound.
	FindByIdem(ctx context.Context, capsuleID uuid.UUID, idemKey string) (*model.Memory, string, error)

	// Update replaces the stored record.
	Update(ctx context.Context, m *model.Memory) error

	// Delete removes the record entirely (hard delete).
	Delete(ctx context.Context, id uuid.UUID) error

	// List returns up to limit+1 non-deleted memories of the capsule in
	// (created_at, id) descending order, resuming strictly after the
	// cursor when one is given. The extra row lets the caller decide
	// whether a next page exists.
	List(ctx context.Context, capsuleID uuid.UUID, after *cursor.Cursor, limit int) ([]*model.Memory, error)

	// Exists reports presence for each id, in order. Soft-deleted
	// memories count as absent.
	Exists(ctx context.Context, ids []uuid.UUID) ([]bool, error)
}
