package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/keeperhq/capsulekeeper/internal/errs"
	"github.com/keeperhq/capsulekeeper/internal/model"
)

// BlobRepo implements BlobRepository using PostgreSQL: one row per chunk
// plus a meta row written at finalize.
type BlobRepo struct{ db *DB }

// NewBlobRepo constructs a blob repository.
func NewBlobRepo(db *DB) *BlobRepo { return &BlobRepo{db: db} }

// PutChunk stores one chunk, replacing any previous bytes at that index.
func (r *BlobRepo) PutChunk(ctx context.Context, locator string, index int, data []byte) error {
	const q = `
INSERT INTO blob_chunks (locator, idx, data) VALUES ($1,$2,$3)
ON CONFLICT (locator, idx) DO UPDATE SET data=EXCLUDED.data`
	_, err := r.db.Pool.Exec(ctx, q, locator, index, data)
	return err
}

// ReadChunk returns one stored chunk.
func (r *BlobRepo) ReadChunk(ctx context.Context, locator string, index int) ([]byte, error) {
	const q = `SELECT data FROM blob_chunks WHERE locator=$1 AND idx=$2`
	var data []byte
	if err := r.db.Pool.QueryRow(ctx, q, locator, index).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// ChunkStats returns chunk count and total size under the locator.
func (r *BlobRepo) ChunkStats(ctx context.Context, locator string) (int, int64, error) {
	const q = `SELECT COUNT(*), COALESCE(SUM(LENGTH(data)),0) FROM blob_chunks WHERE locator=$1`
	var (
		count int
		size  int64
	)
	if err := r.db.Pool.QueryRow(ctx, q, locator).Scan(&count, &size); err != nil {
		return 0, 0, err
	}
	if count == 0 {
		return 0, 0, errs.ErrNotFound
	}
	return count, size, nil
}

// SaveMeta records the finalized blob row.
func (r *BlobRepo) SaveMeta(ctx context.Context, meta *model.BlobMeta) error {
	const q = `
INSERT INTO blobs (locator, size, chunk_count, sha256, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (locator) DO UPDATE
SET size=EXCLUDED.size, chunk_count=EXCLUDED.chunk_count, sha256=EXCLUDED.sha256`
	_, err := r.db.Pool.Exec(ctx, q, meta.Locator, meta.Size, meta.ChunkCount, meta.SHA256, meta.CreatedAt)
	return err
}

// GetMeta returns the finalized blob row.
func (r *BlobRepo) GetMeta(ctx context.Context, locator string) (*model.BlobMeta, error) {
	const q = `SELECT locator, size, chunk_count, sha256, created_at FROM blobs WHERE locator=$1`
	var m model.BlobMeta
	err := r.db.Pool.QueryRow(ctx, q, locator).
		Scan(&m.Locator, &m.Size, &m.ChunkCount, &m.SHA256, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// Delete removes the meta row and all chunks in one transaction.
func (r *BlobRepo) Delete(ctx context.Context, locator string) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	metaTag, err := tx.Exec(ctx, `DELETE FROM blobs WHERE locator=$1`, locator)
	if err != nil {
		return err
	}
	chunkTag, err := tx.Exec(ctx, `DELETE FROM blob_chunks WHERE locator=$1`, locator)
	if err != nil {
		return err
	}
	if metaTag.RowsAffected() == 0 && chunkTag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
