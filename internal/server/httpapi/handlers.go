// Package httpapi exposes the storage engine as a JSON API.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gofrs/uuid/v5"

	"github.com/keeperhq/capsulekeeper/internal/errs"
	"github.com/keeperhq/capsulekeeper/internal/identity"
	"github.com/keeperhq/capsulekeeper/internal/service"
)

// maxChunkBody bounds a single chunk request body.
const maxChunkBody = 8 << 20 // 8 MiB

// Handlers wires services into HTTP routes.
type Handlers struct {
	capsules service.CapsuleService
	uploads  service.UploadService
	memories service.MemoryService
}

// NewHandlers constructs the route handlers.
func NewHandlers(capsules service.CapsuleService, uploads service.UploadService, memories service.MemoryService) *Handlers {
	return &Handlers{capsules: capsules, uploads: uploads, memories: memories}
}

func caller(r *http.Request) (uuid.UUID, bool) {
	p, ok := identity.FromContext(r.Context())
	return p.ID, ok
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed json body", errs.ErrInvalidInput)
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.FromString(r.PathValue(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad %s", errs.ErrInvalidInput, name)
	}
	return id, nil
}

// --- Capsules ---

// HandleCreateCapsule handles POST /v1/capsules.
func (h *Handlers) HandleCreateCapsule(w http.ResponseWriter, r *http.Request) {
	who, _ := caller(r)
	var req createCapsuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := h.capsules.Create(r.Context(), who, req.Subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCapsuleInfo(c))
}

// HandleReadCapsule handles GET /v1/capsules/{id}.
func (h *Handlers) HandleReadCapsule(w http.ResponseWriter, r *http.Request) {
	who, _ := caller(r)
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := h.capsules.Read(r.Context(), who, &id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCapsuleInfo(c))
}

// HandleReadSelfCapsule handles GET /v1/capsules/self.
func (h *Handlers) HandleReadSelfCapsule(w http.ResponseWriter, r *http.Request) {
	who, _ := caller(r)
	c, err := h.capsules.Read(r.Context(), who, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCapsuleInfo(c))
}

// HandleRecordEvent handles POST /v1/capsules/{id}/events.
func (h *Handlers) HandleRecordEvent(w http.ResponseWriter, r *http.Request) {
	who, _ := caller(r)
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req recordEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.capsules.RecordEvent(r.Context(), who, id, req.Event); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Uploads ---

// HandleBeginUpload handles POST /v1/uploads.
func (h *Handlers) HandleBeginUpload(w http.ResponseWriter, r *http.Request) {
	who, _ := caller(r)
	var req beginUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sid, err := h.uploads.Begin(r.Context(), who, req.CapsuleID, req.ChunkCount, req.IdemKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, beginUploadResponse{SessionID: sid})
}

// HandlePutChunk handles PUT /v1/uploads/{sid}/chunks/{index}; the body
// is the raw chunk bytes.
func (h *Handlers) HandlePutChunk(w http.ResponseWriter, r *http.Request) {
	who, _ := caller(r)
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: bad chunk index", errs.ErrInvalidInput))
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChunkBody))
	if err != nil {
		writeError(w, fmt.Errorf("%w: chunk exceeds %d bytes", errs.ErrInvalidInput, maxChunkBody))
		return
	}
	if err := h.uploads.PutChunk(r.Context(), who, r.PathValue("sid"), index, data); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleFinishUpload handles POST /v1/uploads/{sid}/finish.
func (h *Handlers) HandleFinishUpload(w http.ResponseWriter, r *http.Request) {
	who, _ := caller(r)
	var req finishUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ref, err := h.uploads.Finish(r.Context(), who, r.PathValue("sid"), req.SHA256, req.Length)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

// HandleAbortUpload handles DELETE /v1/uploads/{sid}. Aborting a session
// that no longer exists is reported as success: abort is always safe.
func (h *Handlers) HandleAbortUpload(w http.ResponseWriter, r *http.Request) {
	who, _ := caller(r)
	err := h.uploads.Abort(r.Context(), who, r.PathValue("sid"))
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Memories ---

// HandleCreateMemory handles POST /v1/capsules/{id}/memories.
func (h *Handlers) HandleCreateMemory(w http.ResponseWriter, r *http.Request) {
	who, _ := caller(r)
	capsuleID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var in service.CreateMemoryInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.memories.Create(r.Context(), who, capsuleID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createMemoryResponse{MemoryID: id})
}

// HandleReadMemory handles GET /v1/memories/{id}.
func (h *Handlers) HandleReadMemory(w http.ResponseWriter, r *http.Request) {
	who, _ := caller(r)
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := h.memories.Read(r.Context(), who, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemoryView(m))
}

// HandleUpdateMemory handles PATCH /v1/memories/{id}.
func (h *Handlers) HandleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	who, _ := caller(r)
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var patch service.MemoryPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	if err := h.memories.Update(r.Context(), who, id, patch); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAddAssets handles POST /v1/memories/{id}/assets.
func (h *Handlers) HandleAddAssets(w http.ResponseWriter, r *http.Request) {
	who, _ := caller(r)
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req addAssetsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.memories.AddAssets(r.Context(), who, id, req.Assets); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteMemory handles DELETE /v1/memories/{id}?hard=.
func (h *Handlers) HandleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	who, _ := caller(r)
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	hard := r.URL.Query().Get("hard") == "true"
	if err := h.memories.Delete(r.Context(), who, id, hard); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListMemories handles GET /v1/capsules/{id}/memories.
func (h *Handlers) HandleListMemories(w http.ResponseWriter, r *http.Request) {
	who, _ := caller(r)
	capsuleID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			writeError(w, fmt.Errorf("%w: bad limit", errs.ErrInvalidInput))
			return
		}
	}
	page, err := h.memories.List(r.Context(), who, capsuleID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandlePingMemories handles POST /v1/memories/ping.
func (h *Handlers) HandlePingMemories(w http.ResponseWriter, r *http.Request) {
	var req pingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	present, err := h.memories.Ping(r.Context(), req.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pingResponse{Present: present})
}
