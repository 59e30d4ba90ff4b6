package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/keeperhq/capsulekeeper/internal/errs"
	"github.com/keeperhq/capsulekeeper/internal/model"
)

// CapsuleRepo implements CapsuleRepository using PostgreSQL. Owner and
// graph sets are stored as jsonb documents; the capsule row is the unit
// of atomicity.
type CapsuleRepo struct{ db *DB }

// NewCapsuleRepo constructs a capsule repository.
func NewCapsuleRepo(db *DB) *CapsuleRepo { return &CapsuleRepo{db: db} }

// capsuleDoc is the jsonb projection of the non-column capsule state.
type capsuleDoc struct {
	Owners           map[uuid.UUID]model.OwnerState `json:"owners"`
	Controls         []uuid.UUID                    `json:"controls,omitempty"`
	Connections      []uuid.UUID                    `json:"connections,omitempty"`
	ConnectionGroups map[uuid.UUID][]uuid.UUID      `json:"connection_groups,omitempty"`
	Galleries        []uuid.UUID                    `json:"galleries,omitempty"`
	FiredEvents      map[string]time.Time           `json:"fired_events,omitempty"`
}

// Create inserts a new capsule.
func (r *CapsuleRepo) Create(ctx context.Context, c *model.Capsule) error {
	doc, err := json.Marshal(capsuleDoc{
		Owners:           c.Owners,
		Controls:         c.Controls,
		Connections:      c.Connections,
		ConnectionGroups: c.ConnectionGroups,
		Galleries:        c.Galleries,
		FiredEvents:      c.FiredEvents,
	})
	if err != nil {
		return err
	}
	const q = `
INSERT INTO capsules (id, subject, doc, inline_bytes, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)`
	_, err = r.db.Pool.Exec(ctx, q, c.ID, c.Subject, doc, c.InlineBytes, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Get loads a capsule by ID.
func (r *CapsuleRepo) Get(ctx context.Context, id uuid.UUID) (*model.Capsule, error) {
	const q = `
SELECT id, subject, doc, inline_bytes, created_at, updated_at
FROM capsules WHERE id=$1`
	return scanCapsule(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByOwner loads the oldest capsule actively owned by the principal.
func (r *CapsuleRepo) GetByOwner(ctx context.Context, owner uuid.UUID) (*model.Capsule, error) {
	const q = `
SELECT id, subject, doc, inline_bytes, created_at, updated_at
FROM capsules
WHERE doc->'owners'->>$1 = 'active'
ORDER BY created_at ASC
LIMIT 1`
	return scanCapsule(r.db.Pool.QueryRow(ctx, q, owner.String()))
}

// Update replaces the stored record.
func (r *CapsuleRepo) Update(ctx context.Context, c *model.Capsule) error {
	doc, err := json.Marshal(capsuleDoc{
		Owners:           c.Owners,
		Controls:         c.Controls,
		Connections:      c.Connections,
		ConnectionGroups: c.ConnectionGroups,
		Galleries:        c.Galleries,
		FiredEvents:      c.FiredEvents,
	})
	if err != nil {
		return err
	}
	const q = `
UPDATE capsules SET subject=$2, doc=$3, inline_bytes=$4, updated_at=$5 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, c.ID, c.Subject, doc, c.InlineBytes, c.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanCapsule(row pgx.Row) (*model.Capsule, error) {
	var (
		c   model.Capsule
		raw []byte
	)
	if err := row.Scan(&c.ID, &c.Subject, &raw, &c.InlineBytes, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	var doc capsuleDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	c.Owners = doc.Owners
	c.Controls = doc.Controls
	c.Connections = doc.Connections
	c.ConnectionGroups = doc.ConnectionGroups
	c.Galleries = doc.Galleries
	c.FiredEvents = doc.FiredEvents
	return &c, nil
}

// isUniqueViolation reports whether the error is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pg *pgconn.PgError
	return errors.As(err, &pg) && pg.Code == "23505"
}
