package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/keeperhq/capsulekeeper/internal/cursor"
	"github.com/keeperhq/capsulekeeper/internal/errs"
	"github.com/keeperhq/capsulekeeper/internal/model"
)

type idemKey struct {
	capsuleID uuid.UUID
	key       string
}

// MemoryStore is an in-memory MemoryRepository.
type MemoryStore struct {
	mu      sync.Mutex
	mems    map[uuid.UUID]*model.Memory
	byIdem  map[idemKey]uuid.UUID
	digests map[idemKey]string
}

// NewMemoryStore constructs an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mems:    make(map[uuid.UUID]*model.Memory),
		byIdem:  make(map[idemKey]uuid.UUID),
		digests: make(map[idemKey]string),
	}
}

// Create inserts a new memory and records its idempotency digest.
func (s *MemoryStore) Create(_ context.Context, m *model.Memory, idemDigest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mems[m.ID]; ok {
		return errs.ErrAlreadyExists
	}
	k := idemKey{m.CapsuleID, m.Meta.IdemKey}
	if _, ok := s.byIdem[k]; ok {
		return errs.ErrAlreadyExists
	}
	s.mems[m.ID] = cloneMemory(m)
	s.byIdem[k] = m.ID
	s.digests[k] = idemDigest
	return nil
}

// Get loads a memory by ID, including soft-deleted records.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mems[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return cloneMemory(m), nil
}

// FindByIdem returns the memory created under the dedup key and its digest.
func (s *MemoryStore) FindByIdem(_ context.Context, capsuleID uuid.UUID, key string) (*model.Memory, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idemKey{capsuleID, key}
	id, ok := s.byIdem[k]
	if !ok {
		return nil, "", errs.ErrNotFound
	}
	return cloneMemory(s.mems[id]), s.digests[k], nil
}

// Update replaces the stored record.
func (s *MemoryStore) Update(_ context.Context, m *model.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mems[m.ID]; !ok {
		return errs.ErrNotFound
	}
	s.mems[m.ID] = cloneMemory(m)
	return nil
}

// Delete removes the record entirely.
func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mems[id]
	if !ok {
		return errs.ErrNotFound
	}
	k := idemKey{m.CapsuleID, m.Meta.IdemKey}
	delete(s.byIdem, k)
	delete(s.digests, k)
	delete(s.mems, id)
	return nil
}

// List returns up to limit+1 non-deleted memories newest-first, resuming
// strictly after the cursor position when given.
func (s *MemoryStore) List(_ context.Context, capsuleID uuid.UUID, after *cursor.Cursor, limit int) ([]*model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*model.Memory
	for _, m := range s.mems {
		if m.CapsuleID != capsuleID || m.Deleted() {
			continue
		}
		all = append(all, m)
	}
	slices.SortFunc(all, func(a, b *model.Memory) int {
		if !a.Meta.CreatedAt.Equal(b.Meta.CreatedAt) {
			if a.Meta.CreatedAt.After(b.Meta.CreatedAt) {
				return -1
			}
			return 1
		}
		// created_at ties break on id descending, matching the SQL order
		switch {
		case a.ID.String() > b.ID.String():
			return -1
		case a.ID.String() < b.ID.String():
			return 1
		}
		return 0
	})

	out := make([]*model.Memory, 0, limit+1)
	for _, m := range all {
		if after != nil {
			if m.Meta.CreatedAt.After(after.CreatedAt) {
				continue
			}
			if m.Meta.CreatedAt.Equal(after.CreatedAt) && m.ID.String() >= after.ID.String() {
				continue
			}
		}
		out = append(out, cloneMemory(m))
		if len(out) == limit+1 {
			break
		}
	}
	return out, nil
}

// Exists reports presence per id; soft-deleted memories count as absent.
func (s *MemoryStore) Exists(_ context.Context, ids []uuid.UUID) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(ids))
	for i, id := range ids {
		m, ok := s.mems[id]
		out[i] = ok && !m.Deleted()
	}
	return out, nil
}

func cloneMemory(m *model.Memory) *model.Memory {
	out := *m
	out.InlineAssets = make([]model.InlineAsset, len(m.InlineAssets))
	for i, a := range m.InlineAssets {
		a.Bytes = slices.Clone(a.Bytes)
		out.InlineAssets[i] = a
	}
	out.BlobAssets = slices.Clone(m.BlobAssets)
	out.ExternalAssets = slices.Clone(m.ExternalAssets)
	if m.Access.Inner != nil {
		inner := *m.Access.Inner
		out.Access.Inner = &inner
	}
	return &out
}
