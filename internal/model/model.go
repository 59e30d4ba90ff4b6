// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// OwnerState tracks the lifecycle of an ownership grant on a capsule.
type OwnerState string

const (
	OwnerActive  OwnerState = "active"
	OwnerInvited OwnerState = "invited"
)

// Capsule is a multi-owner container for one subject's memories.
type Capsule struct {
	ID       uuid.UUID
	Subject  string
	Owners   map[uuid.UUID]OwnerState // >= 1 entry at all times
	Controls []uuid.UUID              // delegated admins

	Connections      []uuid.UUID               // social graph, referenced by Custom access
	ConnectionGroups map[uuid.UUID][]uuid.UUID // group id -> member principals
	Galleries        []uuid.UUID

	// FiredEvents records trigger events that have occurred for this
	// capsule; EventTriggered access gates on membership here.
	FiredEvents map[string]time.Time

	// InlineBytes is the running total of inline asset bytes stored in
	// this capsule (quota hook point, not enforced here).
	InlineBytes int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOwner reports whether p holds an active ownership grant.
func (c *Capsule) IsOwner(p uuid.UUID) bool {
	return c.Owners[p] == OwnerActive
}

// IsController reports whether p is a delegated admin of the capsule.
func (c *Capsule) IsController(p uuid.UUID) bool {
	for _, id := range c.Controls {
		if id == p {
			return true
		}
	}
	return false
}

// CanManage reports whether p may mutate the capsule or its memories.
func (c *Capsule) CanManage(p uuid.UUID) bool {
	return c.IsOwner(p) || c.IsController(p)
}

// GroupMember reports whether p belongs to the given connection group.
func (c *Capsule) GroupMember(group, p uuid.UUID) bool {
	for _, id := range c.ConnectionGroups[group] {
		if id == p {
			return true
		}
	}
	return false
}

// EventSet is the event state handed to the access evaluator.
type EventSet map[string]time.Time

// Fired reports whether the named trigger event has occurred.
func (e EventSet) Fired(name string) bool {
	_, ok := e[name]
	return ok
}

// MemoryType classifies what a memory holds.
type MemoryType string

const (
	MemoryImage    MemoryType = "image"
	MemoryVideo    MemoryType = "video"
	MemoryAudio    MemoryType = "audio"
	MemoryDocument MemoryType = "document"
	MemoryNote     MemoryType = "note"
)

// StorageEdge names an external system holding a mirrored copy of the
// canonical memory record.
type StorageEdge string

// MemoryMeta is the descriptive metadata of a memory.
type MemoryMeta struct {
	Type        MemoryType    `json:"type"`
	Title       *string       `json:"title,omitempty"`
	Description *string       `json:"description,omitempty"`
	ContentType string        `json:"content_type"`
	Tags        []string      `json:"tags,omitempty"`
	Folder      *string       `json:"folder,omitempty"` // parent folder path
	Edges       []StorageEdge `json:"edges,omitempty"`
	IdemKey     string        `json:"idem_key"`

	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Memory is one logical stored item: metadata, access rules and assets.
// The three asset collections are deliberately separate fields so that
// storage-location invariants (inline size cap, blob ref integrity) are
// enforced per collection instead of behind a runtime type tag.
type Memory struct {
	ID        uuid.UUID
	CapsuleID uuid.UUID
	Meta      MemoryMeta
	Access    MemoryAccess

	InlineAssets   []InlineAsset
	BlobAssets     []BlobAsset
	ExternalAssets []ExternalAsset

	Dashboard Dashboard
}

// Deleted reports whether the memory is soft-deleted.
func (m *Memory) Deleted() bool { return m.Meta.DeletedAt != nil }

// Header projects the memory down to its listing view.
func (m *Memory) Header() MemoryHeader {
	return MemoryHeader{
		ID:        m.ID,
		CapsuleID: m.CapsuleID,
		Type:      m.Meta.Type,
		Title:     m.Meta.Title,
		CreatedAt: m.Meta.CreatedAt,
		UpdatedAt: m.Meta.UpdatedAt,
		Dashboard: m.Dashboard,
	}
}

// AssetRole describes which payload variant an asset is.
type AssetRole string

const (
	RoleOriginal   AssetRole = "original"
	RoleThumbnail  AssetRole = "thumbnail"
	RolePreview    AssetRole = "preview"
	RoleDerivative AssetRole = "derivative"
	RoleMetadata   AssetRole = "metadata"
)

// ProcessingStatus tracks derivative production for an asset. The engine
// never transcodes; the status is recorded on behalf of the producer.
type ProcessingStatus string

const (
	ProcessingPending  ProcessingStatus = "pending"
	ProcessingComplete ProcessingStatus = "complete"
	ProcessingFailed   ProcessingStatus = "failed"
)

// AssetMetadata describes one stored payload variant.
type AssetMetadata struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Role        AssetRole        `json:"role"`
	Bytes       int64            `json:"bytes"` // must equal stored payload length
	MimeType    string           `json:"mime_type"`
	SHA256      string           `json:"sha256,omitempty"` // hex
	Width       *int32           `json:"width,omitempty"`
	Height      *int32           `json:"height,omitempty"`
	URL         *string          `json:"url,omitempty"`
	StorageKey  *string          `json:"storage_key,omitempty"`
	Bucket      *string          `json:"bucket,omitempty"`
	Status      ProcessingStatus `json:"status"`
	DeletedAt   *time.Time       `json:"deleted_at,omitempty"`
}

// InlineAsset embeds its payload directly in the memory record.
type InlineAsset struct {
	ID    uuid.UUID     `json:"id"`
	Meta  AssetMetadata `json:"meta"`
	Bytes []byte        `json:"bytes"`
}

// BlobAsset references content held in the internal blob store.
type BlobAsset struct {
	ID   uuid.UUID     `json:"id"`
	Meta AssetMetadata `json:"meta"`
	Ref  BlobRef       `json:"ref"`
}

// ExternalAsset references content held in an out-of-process store; the
// engine keeps only the reference and never reads or writes the bytes.
type ExternalAsset struct {
	ID       uuid.UUID     `json:"id"`
	Meta     AssetMetadata `json:"meta"`
	Location string        `json:"location"` // backend tag, e.g. "s3", "ipfs"
	Key      string        `json:"key"`
	URL      *string       `json:"url,omitempty"`
}

// BlobRef is the durable handle returned after an upload session finishes.
type BlobRef struct {
	Locator string `json:"locator"`
	Len     int64  `json:"len"`
	SHA256  string `json:"sha256"` // hex
}

// BlobMeta is the per-blob bookkeeping kept by the blob store.
type BlobMeta struct {
	Locator    string
	Size       int64
	ChunkCount int
	SHA256     string // set at finalize
	CreatedAt  time.Time
}

// Ref returns the durable handle for a finalized blob.
func (b *BlobMeta) Ref() BlobRef {
	return BlobRef{Locator: b.Locator, Len: b.Size, SHA256: b.SHA256}
}

// SharingStatus is the precomputed visibility classification of a memory.
type SharingStatus string

const (
	SharingPublic  SharingStatus = "public"
	SharingShared  SharingStatus = "shared"
	SharingPrivate SharingStatus = "private"
)

// Dashboard holds the read-side summary fields derived at write time so
// that listing never walks assets or the access tree.
type Dashboard struct {
	IsPublic        bool          `json:"is_public"`
	SharedCount     int           `json:"shared_count"`
	SharingStatus   SharingStatus `json:"sharing_status"`
	TotalSize       int64         `json:"total_size"`
	AssetCount      int           `json:"asset_count"`
	ThumbnailURL    *string       `json:"thumbnail_url,omitempty"`
	PrimaryAssetURL *string       `json:"primary_asset_url,omitempty"`
	HasThumbnails   bool          `json:"has_thumbnails"`
	HasPreviews     bool          `json:"has_previews"`
}

// MemoryHeader is the listing projection of a memory.
type MemoryHeader struct {
	ID        uuid.UUID  `json:"id"`
	CapsuleID uuid.UUID  `json:"capsule_id"`
	Type      MemoryType `json:"type"`
	Title     *string    `json:"title,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Dashboard Dashboard  `json:"dashboard"`
}

// Page is one window of a capsule's memory collection.
type Page struct {
	Items      []MemoryHeader `json:"items"`
	NextCursor *string        `json:"next_cursor,omitempty"`
}

// UploadSession is the ephemeral state of one chunked upload. Sessions are
// not durable application state: losing them on restart only forces a
// re-upload.
type UploadSession struct {
	ID         string // ULID, doubles as the blob locator while staging
	CapsuleID  uuid.UUID
	ChunkCount int
	Received   map[int]struct{}
	IdemKey    string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Bytes      int64

	// Poisoned is set after a failed integrity check at finish; the
	// session stays readable for diagnostics but can never commit. The
	// Fail fields preserve the original mismatch so repeated finish
	// calls report the same failure.
	Poisoned bool
	FailKind string
	FailWant string
	FailGot  string
}

// Complete reports whether every declared chunk index has been received.
func (s *UploadSession) Complete() bool { return len(s.Received) == s.ChunkCount }

// Missing returns the sorted list of chunk indices not yet received.
func (s *UploadSession) Missing() []int {
	out := make([]int, 0, s.ChunkCount-len(s.Received))
	for i := 0; i < s.ChunkCount; i++ {
		if _, ok := s.Received[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// Expired reports whether the session is past its expiry at now.
func (s *UploadSession) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }
