package repository

import (
	"context"

	"github.com/keeperhq/capsulekeeper/internal/model"
)

// BlobRepository is chunk-addressed byte storage. It knows nothing about
// memories or capsules; every mutation is keyed by a unique locator, so
// two upload sessions never touch the same storage region.
type BlobRepository interface {
	// PutChunk stores one chunk. Writing the same (locator, index) twice
	// replaces the chunk byte-for-byte.
	PutChunk(ctx context.Context, locator string, index int, data []byte) error

	// ReadChunk returns one stored chunk or ErrNotFound.
	ReadChunk(ctx context.Context, locator string, index int) ([]byte, error)

	// ChunkStats returns the number of chunks stored under the locator
	// and their total byte size.
	ChunkStats(ctx context.Context, locator string) (count int, size int64, err error)

	// SaveMeta records the finalized blob row.
	SaveMeta(ctx context.Context, meta *model.BlobMeta) error

	// GetMeta returns the finalized blob row or ErrNotFound.
	GetMeta(ctx context.Context, locator string) (*model.BlobMeta, error)

	// Delete removes the blob's meta row and all chunks. Deleting a
	// locator with no stored chunks returns ErrNotFound.
	Delete(ctx context.Context, locator string) error
}
