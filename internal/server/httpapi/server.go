package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/keeperhq/capsulekeeper/internal/identity"
)

// NewServer assembles the route table and middleware chain. Everything
// under /v1 requires a bearer token; /healthz does not.
func NewServer(log *zap.Logger, resolver identity.Resolver, h *Handlers) http.Handler {
	api := http.NewServeMux()

	api.HandleFunc("POST /v1/capsules", h.HandleCreateCapsule)
	api.HandleFunc("GET /v1/capsules/self", h.HandleReadSelfCapsule)
	api.HandleFunc("GET /v1/capsules/{id}", h.HandleReadCapsule)
	api.HandleFunc("POST /v1/capsules/{id}/events", h.HandleRecordEvent)

	api.HandleFunc("POST /v1/uploads", h.HandleBeginUpload)
	api.HandleFunc("PUT /v1/uploads/{sid}/chunks/{index}", h.HandlePutChunk)
	api.HandleFunc("POST /v1/uploads/{sid}/finish", h.HandleFinishUpload)
	api.HandleFunc("DELETE /v1/uploads/{sid}", h.HandleAbortUpload)

	api.HandleFunc("POST /v1/capsules/{id}/memories", h.HandleCreateMemory)
	api.HandleFunc("GET /v1/capsules/{id}/memories", h.HandleListMemories)
	api.HandleFunc("POST /v1/memories/ping", h.HandlePingMemories)
	api.HandleFunc("GET /v1/memories/{id}", h.HandleReadMemory)
	api.HandleFunc("PATCH /v1/memories/{id}", h.HandleUpdateMemory)
	api.HandleFunc("DELETE /v1/memories/{id}", h.HandleDeleteMemory)
	api.HandleFunc("POST /v1/memories/{id}/assets", h.HandleAddAssets)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	root.Handle("/v1/", authenticate(resolver, api))

	return recovery(log, logging(log, root))
}
