package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/keeperhq/capsulekeeper/internal/cursor"
	"github.com/keeperhq/capsulekeeper/internal/errs"
	"github.com/keeperhq/capsulekeeper/internal/model"
)

func seedSession(t *testing.T, s *SessionStore, capsuleID uuid.UUID, id, idem string, expiresAt time.Time) *model.UploadSession {
	t.Helper()
	sess := &model.UploadSession{
		ID:         id,
		CapsuleID:  capsuleID,
		ChunkCount: 1,
		Received:   map[int]struct{}{},
		IdemKey:    idem,
		ExpiresAt:  expiresAt,
	}
	if err := s.Create(context.Background(), sess); err != nil {
		t.Fatalf("seed session %s: %v", id, err)
	}
	return sess
}

func TestSessionStore_DeleteKeepsNewerIdemMapping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewSessionStore()
	capID := uuid.Must(uuid.NewV4())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	stale := seedSession(t, s, capID, "01SESSIONSTALE", "k", base.Add(time.Hour))
	fresh := seedSession(t, s, capID, "01SESSIONFRESH", "k", base.Add(3*time.Hour))

	// the key now belongs to fresh; reaping stale must not unbind it
	if err := s.Delete(ctx, stale.ID); err != nil {
		t.Fatalf("Delete stale: %v", err)
	}
	got, err := s.FindByIdem(ctx, capID, "k")
	if err != nil || got.ID != fresh.ID {
		t.Fatalf("FindByIdem after stale delete: %+v err=%v", got, err)
	}

	// deleting the mapping's current owner releases the key
	if err := s.Delete(ctx, fresh.ID); err != nil {
		t.Fatalf("Delete fresh: %v", err)
	}
	if _, err := s.FindByIdem(ctx, capID, "k"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("idem key survived owner delete: %v", err)
	}
}

func TestSessionStore_ActiveCountSkipsExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewSessionStore()
	capID := uuid.Must(uuid.NewV4())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	seedSession(t, s, capID, "01SESSIONLIVE", "a", now.Add(time.Hour))
	seedSession(t, s, capID, "01SESSIONDEAD", "b", now.Add(-time.Hour))
	seedSession(t, s, uuid.Must(uuid.NewV4()), "01SESSIONELSE", "c", now.Add(time.Hour))
	// a session exactly at its expiry instant is still active
	edge := seedSession(t, s, capID, "01SESSIONEDGE", "d", now)

	n, err := s.ActiveCount(ctx, capID, now)
	if err != nil || n != 2 {
		t.Fatalf("ActiveCount: n=%d err=%v", n, err)
	}
	if exp, err := s.Expired(ctx, now); err != nil || len(exp) != 1 || exp[0].ID == edge.ID {
		t.Fatalf("Expired at boundary: %+v err=%v", exp, err)
	}
}

func seedMemory(t *testing.T, s *MemoryStore, capsuleID uuid.UUID, idem string, at time.Time) *model.Memory {
	t.Helper()
	m := &model.Memory{
		ID:        uuid.Must(uuid.NewV4()),
		CapsuleID: capsuleID,
		Meta: model.MemoryMeta{
			Type:      model.MemoryNote,
			IdemKey:   idem,
			CreatedAt: at,
			UpdatedAt: at,
		},
		Access: model.MemoryAccess{Kind: model.AccessPublic},
	}
	if err := s.Create(context.Background(), m, "digest-"+idem); err != nil {
		t.Fatalf("seed %s: %v", idem, err)
	}
	return m
}

func TestMemoryStore_ListKeysetOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	capID := uuid.Must(uuid.NewV4())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	old := seedMemory(t, s, capID, "a", base)
	mid := seedMemory(t, s, capID, "b", base.Add(time.Minute))
	newest := seedMemory(t, s, capID, "c", base.Add(2*time.Minute))
	seedMemory(t, s, uuid.Must(uuid.NewV4()), "other", base) // different capsule

	out, err := s.List(ctx, capID, nil, 10)
	if err != nil || len(out) != 3 {
		t.Fatalf("List: %d err=%v", len(out), err)
	}
	if out[0].ID != newest.ID || out[1].ID != mid.ID || out[2].ID != old.ID {
		t.Fatalf("order: %v %v %v", out[0].ID, out[1].ID, out[2].ID)
	}

	// limit+1 rows signal another page
	out, err = s.List(ctx, capID, nil, 2)
	if err != nil || len(out) != 3 {
		t.Fatalf("limit+1: %d err=%v", len(out), err)
	}

	// resume strictly after the middle row
	after := &cursor.Cursor{CreatedAt: mid.Meta.CreatedAt, ID: mid.ID}
	out, err = s.List(ctx, capID, after, 10)
	if err != nil || len(out) != 1 || out[0].ID != old.ID {
		t.Fatalf("after cursor: %+v err=%v", out, err)
	}
}

func TestMemoryStore_IdemLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	capID := uuid.Must(uuid.NewV4())
	m := seedMemory(t, s, capID, "k", time.Now().UTC())

	found, digest, err := s.FindByIdem(ctx, capID, "k")
	if err != nil || found.ID != m.ID || digest != "digest-k" {
		t.Fatalf("FindByIdem: %+v %q err=%v", found, digest, err)
	}

	// a second record under the same key is rejected
	dup := *m
	dup.ID = uuid.Must(uuid.NewV4())
	if err := s.Create(ctx, &dup, "other"); err == nil {
		t.Fatalf("duplicate idem key accepted")
	}

	// deletion releases the key
	if err := s.Delete(ctx, m.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := s.FindByIdem(ctx, capID, "k"); err == nil {
		t.Fatalf("idem key survived delete")
	}
}

func TestStores_CallersNeverAliasState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	caps := NewCapsuleStore()
	owner := uuid.Must(uuid.NewV4())
	c := &model.Capsule{
		ID:          uuid.Must(uuid.NewV4()),
		Owners:      map[uuid.UUID]model.OwnerState{owner: model.OwnerActive},
		FiredEvents: map[string]time.Time{},
	}
	if err := caps.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, _ := caps.Get(ctx, c.ID)
	got.FiredEvents["tampered"] = time.Now()
	got.Owners[uuid.Must(uuid.NewV4())] = model.OwnerActive

	fresh, _ := caps.Get(ctx, c.ID)
	if len(fresh.FiredEvents) != 0 || len(fresh.Owners) != 1 {
		t.Fatalf("stored capsule aliased by a reader: %+v", fresh)
	}

	mems := NewMemoryStore()
	m := seedMemory(t, mems, c.ID, "k", time.Now().UTC())
	loaded, _ := mems.Get(ctx, m.ID)
	loaded.Meta.Title = new(string)
	loaded.Access.Kind = model.AccessPrivate

	unchanged, _ := mems.Get(ctx, m.ID)
	if unchanged.Meta.Title != nil || unchanged.Access.Kind != model.AccessPublic {
		t.Fatalf("stored memory aliased by a reader: %+v", unchanged)
	}
}
