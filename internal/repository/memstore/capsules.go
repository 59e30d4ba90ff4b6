// Package memstore contains in-memory implementations of the repository
// interfaces. Each store serializes operations behind one mutex, which
// gives every public call the atomic, torn-write-free semantics the
// services rely on. Used by tests and by -dev mode.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/keeperhq/capsulekeeper/internal/errs"
	"github.com/keeperhq/capsulekeeper/internal/model"
)

// CapsuleStore is an in-memory CapsuleRepository.
type CapsuleStore struct {
	mu   sync.Mutex
	caps map[uuid.UUID]*model.Capsule
}

// NewCapsuleStore constructs an empty capsule store.
func NewCapsuleStore() *CapsuleStore {
	return &CapsuleStore{caps: make(map[uuid.UUID]*model.Capsule)}
}

// Create inserts a new capsule.
func (s *CapsuleStore) Create(_ context.Context, c *model.Capsule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caps[c.ID]; ok {
		return errs.ErrAlreadyExists
	}
	s.caps[c.ID] = cloneCapsule(c)
	return nil
}

// Get loads a capsule by ID.
func (s *CapsuleStore) Get(_ context.Context, id uuid.UUID) (*model.Capsule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caps[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return cloneCapsule(c), nil
}

// GetByOwner returns the oldest capsule actively owned by the principal.
func (s *CapsuleStore) GetByOwner(_ context.Context, owner uuid.UUID) (*model.Capsule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.Capsule
	for _, c := range s.caps {
		if c.Owners[owner] != model.OwnerActive {
			continue
		}
		if best == nil || c.CreatedAt.Before(best.CreatedAt) {
			best = c
		}
	}
	if best == nil {
		return nil, errs.ErrNotFound
	}
	return cloneCapsule(best), nil
}

// Update replaces the stored record.
func (s *CapsuleStore) Update(_ context.Context, c *model.Capsule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caps[c.ID]; !ok {
		return errs.ErrNotFound
	}
	s.caps[c.ID] = cloneCapsule(c)
	return nil
}

// cloneCapsule deep-copies so callers never alias stored state.
func cloneCapsule(c *model.Capsule) *model.Capsule {
	out := *c
	out.Owners = maps.Clone(c.Owners)
	out.Controls = slices.Clone(c.Controls)
	out.Connections = slices.Clone(c.Connections)
	out.Galleries = slices.Clone(c.Galleries)
	out.FiredEvents = maps.Clone(c.FiredEvents)
	if c.ConnectionGroups != nil {
		out.ConnectionGroups = make(map[uuid.UUID][]uuid.UUID, len(c.ConnectionGroups))
		for k, v := range c.ConnectionGroups {
			out.ConnectionGroups[k] = slices.Clone(v)
		}
	}
	return &out
}
