package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/keeperhq/capsulekeeper/internal/errs"
	"github.com/keeperhq/capsulekeeper/internal/model"
)

// BlobStore is an in-memory BlobRepository.
type BlobStore struct {
	mu     sync.Mutex
	chunks map[string]map[int][]byte
	metas  map[string]*model.BlobMeta
}

// NewBlobStore constructs an empty blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		chunks: make(map[string]map[int][]byte),
		metas:  make(map[string]*model.BlobMeta),
	}
}

// PutChunk stores one chunk, replacing any previous bytes at that index.
func (s *BlobStore) PutChunk(_ context.Context, locator string, index int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	per, ok := s.chunks[locator]
	if !ok {
		per = make(map[int][]byte)
		s.chunks[locator] = per
	}
	per[index] = slices.Clone(data)
	return nil
}

// ReadChunk returns one stored chunk.
func (s *BlobStore) ReadChunk(_ context.Context, locator string, index int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	per, ok := s.chunks[locator]
	if !ok {
		return nil, errs.ErrNotFound
	}
	data, ok := per[index]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return slices.Clone(data), nil
}

// ChunkStats returns chunk count and total size under the locator.
func (s *BlobStore) ChunkStats(_ context.Context, locator string) (int, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	per, ok := s.chunks[locator]
	if !ok {
		return 0, 0, errs.ErrNotFound
	}
	var size int64
	for _, c := range per {
		size += int64(len(c))
	}
	return len(per), size, nil
}

// SaveMeta records the finalized blob row.
func (s *BlobStore) SaveMeta(_ context.Context, meta *model.BlobMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := *meta
	s.metas[meta.Locator] = &m
	return nil
}

// GetMeta returns the finalized blob row.
func (s *BlobStore) GetMeta(_ context.Context, locator string) (*model.BlobMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.metas[locator]
	if !ok {
		return nil, errs.ErrNotFound
	}
	m := *meta
	return &m, nil
}

// Delete removes meta and chunks for the locator.
func (s *BlobStore) Delete(_ context.Context, locator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, hadChunks := s.chunks[locator]
	_, hadMeta := s.metas[locator]
	if !hadChunks && !hadMeta {
		return errs.ErrNotFound
	}
	delete(s.chunks, locator)
	delete(s.metas, locator)
	return nil
}
