package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/keeperhq/capsulekeeper/internal/cursor"
	"github.com/keeperhq/capsulekeeper/internal/errs"
	"github.com/keeperhq/capsulekeeper/internal/model"
)

// MemoryRepo implements MemoryRepository using PostgreSQL. The memory
// body (metadata, access, assets, dashboard) lives in one jsonb document
// per record; created_at and deleted_at are real columns so listing and
// soft-delete filtering never parse json.
type MemoryRepo struct{ db *DB }

// NewMemoryRepo constructs a memory repository.
func NewMemoryRepo(db *DB) *MemoryRepo { return &MemoryRepo{db: db} }

type memoryDoc struct {
	Meta           model.MemoryMeta      `json:"meta"`
	Access         model.MemoryAccess    `json:"access"`
	InlineAssets   []model.InlineAsset   `json:"inline_assets,omitempty"`
	BlobAssets     []model.BlobAsset     `json:"blob_assets,omitempty"`
	ExternalAssets []model.ExternalAsset `json:"external_assets,omitempty"`
	Dashboard      model.Dashboard       `json:"dashboard"`
}

func marshalMemory(m *model.Memory) ([]byte, error) {
	return json.Marshal(memoryDoc{
		Meta:           m.Meta,
		Access:         m.Access,
		InlineAssets:   m.InlineAssets,
		BlobAssets:     m.BlobAssets,
		ExternalAssets: m.ExternalAssets,
		Dashboard:      m.Dashboard,
	})
}

func unmarshalMemory(id, capsuleID uuid.UUID, raw []byte) (*model.Memory, error) {
	var doc memoryDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &model.Memory{
		ID:             id,
		CapsuleID:      capsuleID,
		Meta:           doc.Meta,
		Access:         doc.Access,
		InlineAssets:   doc.InlineAssets,
		BlobAssets:     doc.BlobAssets,
		ExternalAssets: doc.ExternalAssets,
		Dashboard:      doc.Dashboard,
	}, nil
}

// Create inserts a new memory with its idempotency digest.
func (r *MemoryRepo) Create(ctx context.Context, m *model.Memory, idemDigest string) error {
	raw, err := marshalMemory(m)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO memories (id, capsule_id, doc, idem_key, idem_digest, created_at, deleted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err = r.db.Pool.Exec(ctx, q,
		m.ID, m.CapsuleID, raw, m.Meta.IdemKey, idemDigest, m.Meta.CreatedAt, m.Meta.DeletedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Get loads a memory by ID, including soft-deleted records.
func (r *MemoryRepo) Get(ctx context.Context, id uuid.UUID) (*model.Memory, error) {
	const q = `SELECT id, capsule_id, doc FROM memories WHERE id=$1`
	var (
		mid, cid uuid.UUID
		raw      []byte
	)
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&mid, &cid, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return unmarshalMemory(mid, cid, raw)
}

// FindByIdem resolves the dedup key to the original memory and digest.
func (r *MemoryRepo) FindByIdem(ctx context.Context, capsuleID uuid.UUID, idemKey string) (*model.Memory, string, error) {
	const q = `
SELECT id, capsule_id, doc, idem_digest FROM memories
WHERE capsule_id=$1 AND idem_key=$2`
	var (
		mid, cid uuid.UUID
		raw      []byte
		digest   string
	)
	if err := r.db.Pool.QueryRow(ctx, q, capsuleID, idemKey).Scan(&mid, &cid, &raw, &digest); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", errs.ErrNotFound
		}
		return nil, "", err
	}
	m, err := unmarshalMemory(mid, cid, raw)
	if err != nil {
		return nil, "", err
	}
	return m, digest, nil
}

// Update replaces the stored record.
func (r *MemoryRepo) Update(ctx context.Context, m *model.Memory) error {
	raw, err := marshalMemory(m)
	if err != nil {
		return err
	}
	const q = `UPDATE memories SET doc=$2, deleted_at=$3 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, m.ID, raw, m.Meta.DeletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes the record entirely.
func (r *MemoryRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM memories WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// List returns up to limit+1 non-deleted memories newest-first, resuming
// strictly after the cursor position when given. UUIDs compare as bytes,
// which matches their canonical text ordering.
func (r *MemoryRepo) List(ctx context.Context, capsuleID uuid.UUID, after *cursor.Cursor, limit int) ([]*model.Memory, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		const q = `
SELECT id, capsule_id, doc FROM memories
WHERE capsule_id=$1 AND deleted_at IS NULL
ORDER BY created_at DESC, id DESC
LIMIT $2`
		rows, err = r.db.Pool.Query(ctx, q, capsuleID, limit+1)
	} else {
		const q = `
SELECT id, capsule_id, doc FROM memories
WHERE capsule_id=$1 AND deleted_at IS NULL
  AND (created_at, id) < ($2, $3)
ORDER BY created_at DESC, id DESC
LIMIT $4`
		rows, err = r.db.Pool.Query(ctx, q, capsuleID, after.CreatedAt, after.ID, limit+1)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Memory
	for rows.Next() {
		var (
			mid, cid uuid.UUID
			raw      []byte
		)
		if err := rows.Scan(&mid, &cid, &raw); err != nil {
			return nil, err
		}
		m, err := unmarshalMemory(mid, cid, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Exists reports presence per id; soft-deleted records count as absent.
func (r *MemoryRepo) Exists(ctx context.Context, ids []uuid.UUID) ([]bool, error) {
	const q = `SELECT id FROM memories WHERE id = ANY($1) AND deleted_at IS NULL`
	rows, err := r.db.Pool.Query(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := make(map[uuid.UUID]bool, len(ids))
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		present[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]bool, len(ids))
	for i, id := range ids {
		out[i] = present[id]
	}
	return out, nil
}
