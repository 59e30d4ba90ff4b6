package httpapi

import (
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/keeperhq/capsulekeeper/internal/model"
	"github.com/keeperhq/capsulekeeper/internal/service"
)

// capsuleInfo is the outward projection of a capsule. Owner secure
// material and the full social graph stay server-side.
type capsuleInfo struct {
	ID          uuid.UUID            `json:"id"`
	Subject     string               `json:"subject,omitempty"`
	OwnerCount  int                  `json:"owner_count"`
	InlineBytes int64                `json:"inline_bytes"`
	FiredEvents map[string]time.Time `json:"fired_events,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

func toCapsuleInfo(c *model.Capsule) capsuleInfo {
	return capsuleInfo{
		ID:          c.ID,
		Subject:     c.Subject,
		OwnerCount:  len(c.Owners),
		InlineBytes: c.InlineBytes,
		FiredEvents: c.FiredEvents,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// memoryView is the outward projection of a memory; the owner code hash
// and salt are stripped from the access descriptor.
type memoryView struct {
	ID             uuid.UUID             `json:"id"`
	CapsuleID      uuid.UUID             `json:"capsule_id"`
	Meta           model.MemoryMeta      `json:"meta"`
	Access         model.MemoryAccess    `json:"access"`
	InlineAssets   []model.InlineAsset   `json:"inline_assets,omitempty"`
	BlobAssets     []model.BlobAsset     `json:"blob_assets,omitempty"`
	ExternalAssets []model.ExternalAsset `json:"external_assets,omitempty"`
	Dashboard      model.Dashboard       `json:"dashboard"`
}

func toMemoryView(m *model.Memory) memoryView {
	return memoryView{
		ID:             m.ID,
		CapsuleID:      m.CapsuleID,
		Meta:           m.Meta,
		Access:         stripOwnerCode(m.Access),
		InlineAssets:   m.InlineAssets,
		BlobAssets:     m.BlobAssets,
		ExternalAssets: m.ExternalAssets,
		Dashboard:      m.Dashboard,
	}
}

func stripOwnerCode(a model.MemoryAccess) model.MemoryAccess {
	a.OwnerCodeHash = nil
	a.OwnerCodeSalt = nil
	if a.Inner != nil {
		inner := stripOwnerCode(*a.Inner)
		a.Inner = &inner
	}
	return a
}

type beginUploadRequest struct {
	CapsuleID  uuid.UUID `json:"capsule_id"`
	ChunkCount int       `json:"chunk_count"`
	IdemKey    string    `json:"idem_key"`
}

type beginUploadResponse struct {
	SessionID string `json:"session_id"`
}

type finishUploadRequest struct {
	SHA256 string `json:"sha256"`
	Length int64  `json:"length"`
}

type createCapsuleRequest struct {
	Subject string `json:"subject,omitempty"`
}

type recordEventRequest struct {
	Event string `json:"event"`
}

type createMemoryResponse struct {
	MemoryID uuid.UUID `json:"memory_id"`
}

type addAssetsRequest struct {
	Assets []service.AssetInput `json:"assets"`
}

type pingRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

type pingResponse struct {
	Present []bool `json:"present"`
}
