// Package summary derives the dashboard fields stored on every memory.
// The computation runs as the last step of each mutating operation so
// that listings are pure lookups: a read never sums asset sizes or walks
// the access tree to render a row.
package summary

import (
	"time"

	"github.com/keeperhq/capsulekeeper/internal/access"
	"github.com/keeperhq/capsulekeeper/internal/model"
)

// Compute fills mem.Dashboard from the memory's current (non-deleted)
// assets and its access descriptor as of now.
func Compute(mem *model.Memory, events model.EventSet, now time.Time) {
	d := model.Dashboard{}

	eff := access.Effective(&mem.Access, now, events)
	switch eff.Kind {
	case model.AccessPublic:
		d.IsPublic = true
		d.SharingStatus = model.SharingPublic
	case model.AccessCustom:
		d.SharingStatus = model.SharingShared
		d.SharedCount = len(eff.Individuals) + len(eff.Groups)
	default:
		d.SharingStatus = model.SharingPrivate
	}

	var thumb, primary *string
	consider := func(meta *model.AssetMetadata, url *string) {
		if meta.DeletedAt != nil {
			return
		}
		d.AssetCount++
		d.TotalSize += meta.Bytes
		switch meta.Role {
		case model.RoleThumbnail:
			d.HasThumbnails = true
			if thumb == nil {
				thumb = url
			}
		case model.RolePreview:
			d.HasPreviews = true
		case model.RoleOriginal:
			if primary == nil {
				primary = url
			}
		}
	}

	for i := range mem.InlineAssets {
		a := &mem.InlineAssets[i]
		consider(&a.Meta, a.Meta.URL)
	}
	for i := range mem.BlobAssets {
		a := &mem.BlobAssets[i]
		url := a.Meta.URL
		if url == nil {
			loc := a.Ref.Locator
			url = &loc
		}
		consider(&a.Meta, url)
	}
	for i := range mem.ExternalAssets {
		a := &mem.ExternalAssets[i]
		url := a.URL
		if url == nil {
			url = a.Meta.URL
		}
		consider(&a.Meta, url)
	}

	// The primary slot prefers a thumbnail, then falls back to the original.
	d.ThumbnailURL = thumb
	d.PrimaryAssetURL = thumb
	if d.PrimaryAssetURL == nil {
		d.PrimaryAssetURL = primary
	}

	mem.Dashboard = d
}
