package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/keeperhq/capsulekeeper/internal/access"
	"github.com/keeperhq/capsulekeeper/internal/cursor"
	"github.com/keeperhq/capsulekeeper/internal/errs"
	"github.com/keeperhq/capsulekeeper/internal/model"
	"github.com/keeperhq/capsulekeeper/internal/repository"
	"github.com/keeperhq/capsulekeeper/internal/summary"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// ExternalInput references content held by an out-of-process backend.
type ExternalInput struct {
	Location string  `json:"location"`
	Key      string  `json:"key"`
	URL      *string `json:"url,omitempty"`
}

// AssetInput attaches one previously stored payload to a memory. Exactly
// one of Inline, Blob or External must be set.
type AssetInput struct {
	Meta     model.AssetMetadata `json:"meta"`
	Inline   []byte              `json:"inline,omitempty"`
	Blob     *model.BlobRef      `json:"blob,omitempty"`
	External *ExternalInput      `json:"external,omitempty"`
}

// CreateMemoryInput is the phase-2 attachment request: bytes already
// live in the blob store (or ride along inline); this call binds them to
// a new memory.
type CreateMemoryInput struct {
	Type        model.MemoryType    `json:"type"`
	Title       *string             `json:"title,omitempty"`
	Description *string             `json:"description,omitempty"`
	ContentType string              `json:"content_type"`
	Tags        []string            `json:"tags,omitempty"`
	Folder      *string             `json:"folder,omitempty"`
	Edges       []model.StorageEdge `json:"edges,omitempty"`
	Access      model.MemoryAccess  `json:"access"`
	OwnerCode   string              `json:"owner_code,omitempty"`
	Assets      []AssetInput        `json:"assets"`
	IdemKey     string              `json:"idem_key"`
}

// MemoryPatch mutates descriptive metadata and/or the access descriptor.
// Nil fields are left unchanged.
type MemoryPatch struct {
	Title       *string             `json:"title,omitempty"`
	Description *string             `json:"description,omitempty"`
	Tags        *[]string           `json:"tags,omitempty"`
	Folder      *string             `json:"folder,omitempty"`
	Edges       *[]model.StorageEdge `json:"edges,omitempty"`
	Access      *model.MemoryAccess `json:"access,omitempty"`
	OwnerCode   *string             `json:"owner_code,omitempty"`
}

// MemoryService is the capsule/memory store's public surface.
type MemoryService interface {
	// Create runs the phase-2 attachment flow, idempotent on
	// (capsuleID, idem key).
	Create(ctx context.Context, caller, capsuleID uuid.UUID, in CreateMemoryInput) (uuid.UUID, error)
	// Read returns the full memory if the caller may see it.
	Read(ctx context.Context, caller, id uuid.UUID) (*model.Memory, error)
	// Update applies a metadata/access patch.
	Update(ctx context.Context, caller, id uuid.UUID, patch MemoryPatch) error
	// AddAssets attaches further stored assets to an existing memory.
	AddAssets(ctx context.Context, caller, id uuid.UUID, assets []AssetInput) error
	// Delete soft-deletes, or hard-deletes with best-effort blob cleanup.
	Delete(ctx context.Context, caller, id uuid.UUID, hard bool) error
	// List pages through a capsule's memories, newest first, filtered
	// by what the caller may read.
	List(ctx context.Context, caller, capsuleID uuid.UUID, cursorToken string, limit int) (model.Page, error)
	// Ping reports existence per id without full reads.
	Ping(ctx context.Context, ids []uuid.UUID) ([]bool, error)
}

type MemoryServiceImpl struct {
	memories  repository.MemoryRepository
	capsules  repository.CapsuleRepository
	blobs     BlobStore
	notifier  MirrorNotifier
	inlineCap int64
	log       *zap.Logger
	now       NowFunc
}

// NewMemoryService constructs a MemoryService. inlineCap bounds the size
// of a single inline asset payload.
func NewMemoryService(
	memories repository.MemoryRepository,
	capsules repository.CapsuleRepository,
	blobs BlobStore,
	notifier MirrorNotifier,
	inlineCap int64,
	log *zap.Logger,
	now NowFunc,
) *MemoryServiceImpl {
	if inlineCap <= 0 {
		inlineCap = 32 * 1024
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if now == nil {
		now = defaultNow
	}
	return &MemoryServiceImpl{
		memories:  memories,
		capsules:  capsules,
		blobs:     blobs,
		notifier:  notifier,
		inlineCap: inlineCap,
		log:       log,
		now:       now,
	}
}

// Create validates the attachment request and creates the memory. A
// replayed call with the same idempotency key and payload returns the
// original id; the same key with a different payload is rejected.
func (s *MemoryServiceImpl) Create(ctx context.Context, caller, capsuleID uuid.UUID, in CreateMemoryInput) (uuid.UUID, error) {
	if caller == uuid.Nil || capsuleID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: empty caller/capsule id", errs.ErrInvalidInput)
	}
	if in.IdemKey == "" {
		return uuid.Nil, fmt.Errorf("%w: empty idempotency key", errs.ErrInvalidInput)
	}
	if in.Type == "" || in.ContentType == "" {
		return uuid.Nil, fmt.Errorf("%w: type and content_type are required", errs.ErrInvalidInput)
	}
	if err := in.Access.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	cps, err := s.capsules.Get(ctx, capsuleID)
	if err != nil {
		return uuid.Nil, err
	}
	if !cps.CanManage(caller) {
		return uuid.Nil, errs.ErrUnauthorized
	}

	digest := creationDigest(capsuleID, &in)
	if prev, prevDigest, err := s.memories.FindByIdem(ctx, capsuleID, in.IdemKey); err == nil {
		if prevDigest != digest {
			return uuid.Nil, fmt.Errorf("%w: idempotency key reused with different payload", errs.ErrConflict)
		}
		return prev.ID, nil
	} else if !errors.Is(err, errs.ErrNotFound) {
		return uuid.Nil, err
	}

	now := s.now()
	mem := &model.Memory{
		CapsuleID: capsuleID,
		Meta: model.MemoryMeta{
			Type:        in.Type,
			Title:       in.Title,
			Description: in.Description,
			ContentType: in.ContentType,
			Tags:        in.Tags,
			Folder:      in.Folder,
			Edges:       in.Edges,
			IdemKey:     in.IdemKey,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Access: in.Access,
	}
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	mem.ID = id

	if in.OwnerCode != "" {
		if err := access.SealOwnerCode(&mem.Access, []byte(in.OwnerCode)); err != nil {
			return uuid.Nil, err
		}
	}

	inlineBytes, err := s.attach(ctx, mem, in.Assets)
	if err != nil {
		return uuid.Nil, err
	}

	summary.Compute(mem, model.EventSet(cps.FiredEvents), now)

	if err := s.memories.Create(ctx, mem, digest); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			// lost a replay race; re-resolve through the dedup key
			prev, prevDigest, ferr := s.memories.FindByIdem(ctx, capsuleID, in.IdemKey)
			if ferr != nil {
				return uuid.Nil, err
			}
			if prevDigest != digest {
				return uuid.Nil, fmt.Errorf("%w: idempotency key reused with different payload", errs.ErrConflict)
			}
			return prev.ID, nil
		}
		return uuid.Nil, err
	}

	if inlineBytes > 0 {
		cps.InlineBytes += inlineBytes
		cps.UpdatedAt = now
		if err := s.capsules.Update(ctx, cps); err != nil {
			s.log.Warn("update capsule inline counter", zap.String("capsule", capsuleID.String()), zap.Error(err))
		}
	}

	s.notifyEdges(ctx, mem)
	return mem.ID, nil
}

// Read returns the memory. Callers without a grant get ErrNotFound,
// indistinguishable from an id that never existed.
func (s *MemoryServiceImpl) Read(ctx context.Context, caller, id uuid.UUID) (*model.Memory, error) {
	mem, cps, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if mem.Deleted() && !cps.CanManage(caller) {
		return nil, errs.ErrNotFound
	}
	if !access.CanRead(caller, mem, cps, s.now()) {
		return nil, errs.ErrNotFound
	}
	return mem, nil
}

// Update applies the patch and recomputes the dashboard before returning.
func (s *MemoryServiceImpl) Update(ctx context.Context, caller, id uuid.UUID, patch MemoryPatch) error {
	mem, cps, err := s.loadForWrite(ctx, caller, id)
	if err != nil {
		return err
	}

	if patch.Title != nil {
		mem.Meta.Title = patch.Title
	}
	if patch.Description != nil {
		mem.Meta.Description = patch.Description
	}
	if patch.Tags != nil {
		mem.Meta.Tags = *patch.Tags
	}
	if patch.Folder != nil {
		mem.Meta.Folder = patch.Folder
	}
	if patch.Edges != nil {
		mem.Meta.Edges = *patch.Edges
	}
	if patch.Access != nil {
		if err := patch.Access.Validate(); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
		}
		next := *patch.Access
		if patch.OwnerCode != nil && *patch.OwnerCode != "" {
			if err := access.SealOwnerCode(&next, []byte(*patch.OwnerCode)); err != nil {
				return err
			}
		} else {
			// keep the existing owner code through access changes
			next.OwnerCodeHash = mem.Access.OwnerCodeHash
			next.OwnerCodeSalt = mem.Access.OwnerCodeSalt
		}
		mem.Access = next
	}

	now := s.now()
	mem.Meta.UpdatedAt = now
	summary.Compute(mem, model.EventSet(cps.FiredEvents), now)
	if err := s.memories.Update(ctx, mem); err != nil {
		return err
	}
	s.notifyEdges(ctx, mem)
	return nil
}

// AddAssets attaches further stored assets to an existing memory. This
// is the second half of the decoupled flow: each asset may come from an
// independent upload session.
func (s *MemoryServiceImpl) AddAssets(ctx context.Context, caller, id uuid.UUID, assets []AssetInput) error {
	if len(assets) == 0 {
		return fmt.Errorf("%w: no assets", errs.ErrInvalidInput)
	}
	mem, cps, err := s.loadForWrite(ctx, caller, id)
	if err != nil {
		return err
	}

	inlineBytes, err := s.attach(ctx, mem, assets)
	if err != nil {
		return err
	}

	now := s.now()
	mem.Meta.UpdatedAt = now
	summary.Compute(mem, model.EventSet(cps.FiredEvents), now)
	if err := s.memories.Update(ctx, mem); err != nil {
		return err
	}

	if inlineBytes > 0 {
		cps.InlineBytes += inlineBytes
		cps.UpdatedAt = now
		if err := s.capsules.Update(ctx, cps); err != nil {
			s.log.Warn("update capsule inline counter", zap.String("capsule", cps.ID.String()), zap.Error(err))
		}
	}
	s.notifyEdges(ctx, mem)
	return nil
}

// Delete soft-deletes by default. A hard delete removes the record and,
// best-effort, the blobs it owns: a failed chunk cleanup is logged, not
// allowed to block the deletion.
func (s *MemoryServiceImpl) Delete(ctx context.Context, caller, id uuid.UUID, hard bool) error {
	mem, cps, err := s.loadForWrite(ctx, caller, id)
	if err != nil {
		return err
	}
	now := s.now()

	if !hard {
		ts := now
		mem.Meta.DeletedAt = &ts
		mem.Meta.UpdatedAt = now
		summary.Compute(mem, model.EventSet(cps.FiredEvents), now)
		return s.memories.Update(ctx, mem)
	}

	if err := s.memories.Delete(ctx, mem.ID); err != nil {
		return err
	}
	for _, a := range mem.BlobAssets {
		if err := s.blobs.Delete(ctx, a.Ref.Locator); err != nil && !errors.Is(err, errs.ErrNotFound) {
			s.log.Warn("delete owned blob",
				zap.String("memory", mem.ID.String()),
				zap.String("locator", a.Ref.Locator),
				zap.Error(err),
			)
		}
	}
	var inline int64
	for _, a := range mem.InlineAssets {
		inline += int64(len(a.Bytes))
	}
	if inline > 0 {
		cps.InlineBytes -= inline
		cps.UpdatedAt = now
		if err := s.capsules.Update(ctx, cps); err != nil {
			s.log.Warn("update capsule inline counter", zap.String("capsule", cps.ID.String()), zap.Error(err))
		}
	}
	return nil
}

// List pages through the capsule's memories newest-first. Rows the
// caller may not read are filtered out; a page boundary may skip or
// repeat an item mutated mid-pagination.
func (s *MemoryServiceImpl) List(ctx context.Context, caller, capsuleID uuid.UUID, cursorToken string, limit int) (model.Page, error) {
	cps, err := s.capsules.Get(ctx, capsuleID)
	if err != nil {
		return model.Page{}, err
	}
	pos, err := cursor.Decode(cursorToken)
	if err != nil {
		return model.Page{}, err
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	now := s.now()
	items := make([]model.MemoryHeader, 0, limit)
	var more bool
	for {
		batch, err := s.memories.List(ctx, capsuleID, pos, limit)
		if err != nil {
			return model.Page{}, err
		}
		if len(batch) == 0 {
			break
		}
		extraRows := len(batch) > limit
		if extraRows {
			batch = batch[:limit]
		}
		for idx, m := range batch {
			pos = &cursor.Cursor{CreatedAt: m.Meta.CreatedAt, ID: m.ID}
			if !access.CanRead(caller, m, cps, now) {
				continue
			}
			items = append(items, m.Header())
			if len(items) == limit {
				more = extraRows || idx < len(batch)-1
				break
			}
		}
		if len(items) == limit || !extraRows {
			break
		}
	}

	page := model.Page{Items: items}
	if more {
		token := cursor.Encode(*pos)
		page.NextCursor = &token
	}
	return page, nil
}

// Ping reports presence for each id without loading full records.
func (s *MemoryServiceImpl) Ping(ctx context.Context, ids []uuid.UUID) ([]bool, error) {
	if len(ids) == 0 {
		return []bool{}, nil
	}
	return s.memories.Exists(ctx, ids)
}

// attach validates asset inputs and appends them to the memory's
// collections, returning the inline byte total added.
func (s *MemoryServiceImpl) attach(ctx context.Context, mem *model.Memory, assets []AssetInput) (int64, error) {
	var inline int64
	for i, in := range assets {
		sources := 0
		if in.Inline != nil {
			sources++
		}
		if in.Blob != nil {
			sources++
		}
		if in.External != nil {
			sources++
		}
		if sources != 1 {
			return 0, fmt.Errorf("%w: asset[%d] must have exactly one source", errs.ErrInvalidInput, i)
		}
		if in.Meta.Role == "" {
			return 0, fmt.Errorf("%w: asset[%d] missing role", errs.ErrInvalidInput, i)
		}
		if in.Meta.Status == "" {
			in.Meta.Status = model.ProcessingComplete
		}
		id, err := uuid.NewV4()
		if err != nil {
			return 0, err
		}

		switch {
		case in.Inline != nil:
			if int64(len(in.Inline)) > s.inlineCap {
				return 0, fmt.Errorf("%w: asset[%d] inline payload exceeds %d bytes",
					errs.ErrInvalidInput, i, s.inlineCap)
			}
			if in.Meta.Bytes != int64(len(in.Inline)) {
				return 0, fmt.Errorf("%w: asset[%d] declared %d bytes, payload is %d",
					errs.ErrInvalidInput, i, in.Meta.Bytes, len(in.Inline))
			}
			mem.InlineAssets = append(mem.InlineAssets, model.InlineAsset{
				ID:    id,
				Meta:  in.Meta,
				Bytes: in.Inline,
			})
			inline += in.Meta.Bytes

		case in.Blob != nil:
			stored, err := s.blobs.GetMeta(ctx, in.Blob.Locator)
			if err != nil {
				if errors.Is(err, errs.ErrNotFound) {
					return 0, fmt.Errorf("%w: asset[%d] references unknown blob %s",
						errs.ErrInvalidInput, i, in.Blob.Locator)
				}
				return 0, err
			}
			if in.Blob.Len != stored.Size || in.Meta.Bytes != stored.Size {
				return 0, fmt.Errorf("%w: asset[%d] declared %d bytes, blob holds %d",
					errs.ErrInvalidInput, i, in.Meta.Bytes, stored.Size)
			}
			if in.Blob.SHA256 != "" && in.Blob.SHA256 != stored.SHA256 {
				return 0, fmt.Errorf("%w: asset[%d] blob hash mismatch", errs.ErrInvalidInput, i)
			}
			if in.Meta.SHA256 == "" {
				in.Meta.SHA256 = stored.SHA256
			}
			mem.BlobAssets = append(mem.BlobAssets, model.BlobAsset{
				ID:   id,
				Meta: in.Meta,
				Ref:  stored.Ref(),
			})

		case in.External != nil:
			if in.External.Location == "" || in.External.Key == "" {
				return 0, fmt.Errorf("%w: asset[%d] external reference needs location and key",
					errs.ErrInvalidInput, i)
			}
			if in.Meta.Bytes <= 0 {
				return 0, fmt.Errorf("%w: asset[%d] declared size must be positive", errs.ErrInvalidInput, i)
			}
			mem.ExternalAssets = append(mem.ExternalAssets, model.ExternalAsset{
				ID:       id,
				Meta:     in.Meta,
				Location: in.External.Location,
				Key:      in.External.Key,
				URL:      in.External.URL,
			})
		}
	}
	return inline, nil
}

// load fetches the memory and its owning capsule.
func (s *MemoryServiceImpl) load(ctx context.Context, id uuid.UUID) (*model.Memory, *model.Capsule, error) {
	if id == uuid.Nil {
		return nil, nil, fmt.Errorf("%w: empty memory id", errs.ErrInvalidInput)
	}
	mem, err := s.memories.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	cps, err := s.capsules.Get(ctx, mem.CapsuleID)
	if err != nil {
		return nil, nil, err
	}
	return mem, cps, nil
}

// loadForWrite additionally checks write rights: a caller who can see
// the memory but not manage it gets ErrUnauthorized; one who cannot see
// it at all gets ErrNotFound.
func (s *MemoryServiceImpl) loadForWrite(ctx context.Context, caller, id uuid.UUID) (*model.Memory, *model.Capsule, error) {
	mem, cps, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !cps.CanManage(caller) {
		if access.CanRead(caller, mem, cps, s.now()) {
			return nil, nil, errs.ErrUnauthorized
		}
		return nil, nil, errs.ErrNotFound
	}
	return mem, cps, nil
}

// notifyEdges informs the mirror hook about each storage edge. Failures
// are logged only: the local commit already happened and must not be
// blocked by mirror availability.
func (s *MemoryServiceImpl) notifyEdges(ctx context.Context, mem *model.Memory) {
	for _, edge := range mem.Meta.Edges {
		if err := s.notifier.Notify(ctx, mem.ID, edge); err != nil {
			s.log.Warn("mirror notify",
				zap.String("memory", mem.ID.String()),
				zap.String("edge", string(edge)),
				zap.Error(err),
			)
		}
	}
}

// creationDigest produces the stable fingerprint stored with the
// idempotency key. Inline payloads are folded in as hashes so the digest
// stays cheap for large requests.
func creationDigest(capsuleID uuid.UUID, in *CreateMemoryInput) string {
	h := sha256.New()
	h.Write(capsuleID.Bytes())
	norm := *in
	norm.Assets = make([]AssetInput, len(in.Assets))
	for i, a := range in.Assets {
		if a.Inline != nil {
			sum := sha256.Sum256(a.Inline)
			a.Inline = sum[:]
		}
		norm.Assets[i] = a
	}
	raw, _ := json.Marshal(norm)
	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil))
}
