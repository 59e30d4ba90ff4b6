// Package service contains application services for uploads, capsules and memories.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/keeperhq/capsulekeeper/internal/errs"
	"github.com/keeperhq/capsulekeeper/internal/model"
	"github.com/keeperhq/capsulekeeper/internal/repository"
)

// BlobStore is chunk-addressed storage with a single integrity gate at
// finalize. It has no knowledge of memories or capsules.
type BlobStore interface {
	// PutChunk appends one chunk under the locator.
	PutChunk(ctx context.Context, locator string, index int, data []byte) error
	// Finalize recomputes the digest over all chunks in index order and
	// commits the blob iff it matches the caller-declared hash and length.
	Finalize(ctx context.Context, locator, declaredSHA256 string, declaredLen int64) (model.BlobRef, error)
	// ReadChunk returns one stored chunk.
	ReadChunk(ctx context.Context, locator string, index int) ([]byte, error)
	// GetMeta returns size and chunk count for a finalized blob.
	GetMeta(ctx context.Context, locator string) (*model.BlobMeta, error)
	// Delete removes the blob and its chunks.
	Delete(ctx context.Context, locator string) error
}

type BlobStoreImpl struct {
	repo repository.BlobRepository
	now  NowFunc
}

// NewBlobStore constructs a BlobStore over the given backend.
func NewBlobStore(repo repository.BlobRepository, now NowFunc) *BlobStoreImpl {
	if now == nil {
		now = defaultNow
	}
	return &BlobStoreImpl{repo: repo, now: now}
}

// PutChunk validates and stores one chunk.
func (s *BlobStoreImpl) PutChunk(ctx context.Context, locator string, index int, data []byte) error {
	if locator == "" {
		return fmt.Errorf("%w: empty locator", errs.ErrInvalidInput)
	}
	if index < 0 {
		return fmt.Errorf("%w: negative chunk index", errs.ErrInvalidInput)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty chunk", errs.ErrInvalidInput)
	}
	return s.repo.PutChunk(ctx, locator, index, data)
}

// Finalize is the single integrity gate for all uploaded content. It
// never retries: on mismatch the caller must re-upload.
func (s *BlobStoreImpl) Finalize(ctx context.Context, locator, declaredSHA256 string, declaredLen int64) (model.BlobRef, error) {
	if declaredLen <= 0 {
		return model.BlobRef{}, fmt.Errorf("%w: declared length must be positive", errs.ErrInvalidInput)
	}
	if raw, err := hex.DecodeString(declaredSHA256); err != nil || len(raw) != sha256.Size {
		return model.BlobRef{}, fmt.Errorf("%w: declared hash is not a sha256 hex digest", errs.ErrInvalidInput)
	}

	count, size, err := s.repo.ChunkStats(ctx, locator)
	if err != nil {
		return model.BlobRef{}, err
	}
	if size != declaredLen {
		return model.BlobRef{}, &errs.IntegrityError{
			Kind: errs.IntegritySize,
			Want: strconv.FormatInt(declaredLen, 10),
			Got:  strconv.FormatInt(size, 10),
		}
	}

	h := sha256.New()
	for i := 0; i < count; i++ {
		chunk, err := s.repo.ReadChunk(ctx, locator, i)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return model.BlobRef{}, fmt.Errorf("%w: chunk indices are not contiguous", errs.ErrInvalidInput)
			}
			return model.BlobRef{}, err
		}
		h.Write(chunk)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != declaredSHA256 {
		return model.BlobRef{}, &errs.IntegrityError{
			Kind: errs.IntegrityHash,
			Want: declaredSHA256,
			Got:  got,
		}
	}

	meta := &model.BlobMeta{
		Locator:    locator,
		Size:       size,
		ChunkCount: count,
		SHA256:     got,
		CreatedAt:  s.now(),
	}
	if err := s.repo.SaveMeta(ctx, meta); err != nil {
		return model.BlobRef{}, err
	}
	return meta.Ref(), nil
}

// ReadChunk returns one stored chunk.
func (s *BlobStoreImpl) ReadChunk(ctx context.Context, locator string, index int) ([]byte, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: negative chunk index", errs.ErrInvalidInput)
	}
	return s.repo.ReadChunk(ctx, locator, index)
}

// GetMeta returns the finalized blob row.
func (s *BlobStoreImpl) GetMeta(ctx context.Context, locator string) (*model.BlobMeta, error) {
	return s.repo.GetMeta(ctx, locator)
}

// Delete removes the blob and its chunks.
func (s *BlobStoreImpl) Delete(ctx context.Context, locator string) error {
	return s.repo.Delete(ctx, locator)
}
