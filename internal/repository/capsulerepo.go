// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/keeperhq/capsulekeeper/internal/model"
)

// CapsuleRepository provides keyed access to capsule records.
type CapsuleRepository interface {
	// Create inserts a new capsule.
	Create(ctx context.Context, c *model.Capsule) error
	// Get loads a capsule by ID.
	Get(ctx context.Context, id uuid.UUID) (*model.Capsule, error)
	// GetByOwner loads the first capsule owned by the principal (self-capsule).
	GetByOwner(ctx context.Context, owner uuid.UUID) (*model.Capsule, error)
	// Update replaces the stored record (owners, events, counters).
	Update(ctx context.Context, c *model.Capsule) error
}
