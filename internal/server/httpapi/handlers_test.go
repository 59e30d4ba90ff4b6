package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/keeperhq/capsulekeeper/internal/identity"
	"github.com/keeperhq/capsulekeeper/internal/model"
	"github.com/keeperhq/capsulekeeper/internal/repository/memstore"
	"github.com/keeperhq/capsulekeeper/internal/service"
)

var signKey = []byte("test-signing-key")

func newAPI(t *testing.T) http.Handler {
	t.Helper()
	log := zap.NewNop()

	capsules := memstore.NewCapsuleStore()
	blobs := service.NewBlobStore(memstore.NewBlobStore(), nil)
	uploads := service.NewUploadService(memstore.NewSessionStore(), capsules, blobs, service.UploadConfig{}, log, nil)
	memories := service.NewMemoryService(memstore.NewMemoryStore(), capsules, blobs, nil, 0, log, nil)
	capsuleSvc := service.NewCapsuleService(capsules, log, nil)

	h := NewHandlers(capsuleSvc, uploads, memories)
	return NewServer(log, identity.NewJWTResolver(signKey), h)
}

func token(t *testing.T, who uuid.UUID) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   who.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func do(t *testing.T, srv http.Handler, method, path, bearer string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func doJSON(t *testing.T, srv http.Handler, method, path, bearer string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	rec := do(t, srv, method, path, bearer, raw)
	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
		}
	}
	return rec
}

func createCapsule(t *testing.T, srv http.Handler, bearer string) uuid.UUID {
	t.Helper()
	var info capsuleInfo
	rec := doJSON(t, srv, http.MethodPost, "/v1/capsules", bearer, createCapsuleRequest{Subject: "s"}, &info)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create capsule: %d %s", rec.Code, rec.Body.String())
	}
	return info.ID
}

func TestAPI_HealthzNeedsNoToken(t *testing.T) {
	t.Parallel()
	srv := newAPI(t)
	rec := do(t, srv, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
}

func TestAPI_Unauthenticated(t *testing.T) {
	t.Parallel()
	srv := newAPI(t)
	rec := do(t, srv, http.MethodGet, "/v1/capsules/self", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", rec.Code)
	}
	rec = do(t, srv, http.MethodGet, "/v1/capsules/self", "bogus-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", rec.Code)
	}
}

func TestAPI_CapsuleLifecycle(t *testing.T) {
	t.Parallel()
	srv := newAPI(t)
	owner := uuid.Must(uuid.NewV4())
	bearer := token(t, owner)

	id := createCapsule(t, srv, bearer)

	var self capsuleInfo
	rec := doJSON(t, srv, http.MethodGet, "/v1/capsules/self", bearer, nil, &self)
	if rec.Code != http.StatusOK || self.ID != id {
		t.Fatalf("self: %d %+v", rec.Code, self)
	}

	// events
	rec = doJSON(t, srv, http.MethodPost, "/v1/capsules/"+id.String()+"/events", bearer,
		recordEventRequest{Event: "memorial"}, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("record event: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, srv, http.MethodGet, "/v1/capsules/"+id.String(), bearer, nil, &self)
	if rec.Code != http.StatusOK || len(self.FiredEvents) != 1 {
		t.Fatalf("read after event: %d %+v", rec.Code, self)
	}

	// outsiders cannot observe the capsule
	rec = do(t, srv, http.MethodGet, "/v1/capsules/"+id.String(), token(t, uuid.Must(uuid.NewV4())), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("stranger read: %d", rec.Code)
	}
}

func TestAPI_UploadFlow(t *testing.T) {
	t.Parallel()
	srv := newAPI(t)
	bearer := token(t, uuid.Must(uuid.NewV4()))
	capID := createCapsule(t, srv, bearer)

	var begun beginUploadResponse
	rec := doJSON(t, srv, http.MethodPost, "/v1/uploads", bearer,
		beginUploadRequest{CapsuleID: capID, ChunkCount: 2, IdemKey: "up-1"}, &begun)
	if rec.Code != http.StatusOK || begun.SessionID == "" {
		t.Fatalf("begin: %d %s", rec.Code, rec.Body.String())
	}
	sid := begun.SessionID

	// chunks travel as raw bodies
	rec = do(t, srv, http.MethodPut, "/v1/uploads/"+sid+"/chunks/1", bearer, []byte("world"))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("put chunk 1: %d %s", rec.Code, rec.Body.String())
	}

	// finishing early names exactly the missing indices
	whole := []byte("hello world")
	sum := sha256.Sum256(whole)
	declared := hex.EncodeToString(sum[:])
	rec = doJSON(t, srv, http.MethodPost, "/v1/uploads/"+sid+"/finish", bearer,
		finishUploadRequest{SHA256: declared, Length: int64(len(whole))}, nil)
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "INCOMPLETE_UPLOAD") {
		t.Fatalf("early finish: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "[0]") {
		t.Fatalf("missing indices absent: %s", rec.Body.String())
	}

	rec = do(t, srv, http.MethodPut, "/v1/uploads/"+sid+"/chunks/0", bearer, []byte("hello "))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("put chunk 0: %d", rec.Code)
	}

	var ref model.BlobRef
	rec = doJSON(t, srv, http.MethodPost, "/v1/uploads/"+sid+"/finish", bearer,
		finishUploadRequest{SHA256: declared, Length: int64(len(whole))}, &ref)
	if rec.Code != http.StatusOK {
		t.Fatalf("finish: %d %s", rec.Code, rec.Body.String())
	}
	if ref.Locator != sid || ref.Len != int64(len(whole)) || ref.SHA256 != declared {
		t.Fatalf("ref: %+v", ref)
	}
}

func TestAPI_UploadIntegrityFailure(t *testing.T) {
	t.Parallel()
	srv := newAPI(t)
	bearer := token(t, uuid.Must(uuid.NewV4()))
	capID := createCapsule(t, srv, bearer)

	var begun beginUploadResponse
	doJSON(t, srv, http.MethodPost, "/v1/uploads", bearer,
		beginUploadRequest{CapsuleID: capID, ChunkCount: 1, IdemKey: "up-bad"}, &begun)
	do(t, srv, http.MethodPut, "/v1/uploads/"+begun.SessionID+"/chunks/0", bearer, []byte("actual"))

	sum := sha256.Sum256([]byte("declared"))
	rec := doJSON(t, srv, http.MethodPost, "/v1/uploads/"+begun.SessionID+"/finish", bearer,
		finishUploadRequest{SHA256: hex.EncodeToString(sum[:]), Length: 6}, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad finish: %d %s", rec.Code, rec.Body.String())
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body: %v", err)
	}
	if body.Code != "INTEGRITY" || body.Details["kind"] != "hash" {
		t.Fatalf("error body: %+v", body)
	}
}

func TestAPI_AbortIsAlwaysSafe(t *testing.T) {
	t.Parallel()
	srv := newAPI(t)
	bearer := token(t, uuid.Must(uuid.NewV4()))
	createCapsule(t, srv, bearer)

	rec := do(t, srv, http.MethodDelete, "/v1/uploads/01JUNKSESSIONID", bearer, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("abort unknown session: %d %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_MemoryLifecycle(t *testing.T) {
	t.Parallel()
	srv := newAPI(t)
	owner := uuid.Must(uuid.NewV4())
	bearer := token(t, owner)
	stranger := token(t, uuid.Must(uuid.NewV4()))
	capID := createCapsule(t, srv, bearer)

	in := service.CreateMemoryInput{
		Type:        model.MemoryNote,
		ContentType: "text/plain",
		Access:      model.MemoryAccess{Kind: model.AccessPrivate},
		OwnerCode:   "4812",
		IdemKey:     "mem-1",
		Assets: []service.AssetInput{{
			Meta:   model.AssetMetadata{Name: "note", Role: model.RoleOriginal, Bytes: 5, MimeType: "text/plain"},
			Inline: []byte("hello"),
		}},
	}
	var created createMemoryResponse
	rec := doJSON(t, srv, http.MethodPost, "/v1/capsules/"+capID.String()+"/memories", bearer, in, &created)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create memory: %d %s", rec.Code, rec.Body.String())
	}
	memPath := "/v1/memories/" + created.MemoryID.String()

	// the projection never leaks the sealed owner code
	rec = do(t, srv, http.MethodGet, memPath, bearer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner read: %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "owner_code_hash") {
		t.Fatalf("owner code material leaked: %s", rec.Body.String())
	}

	if rec := do(t, srv, http.MethodGet, memPath, stranger, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("stranger read of private memory: %d", rec.Code)
	}

	// open it up
	rec = doJSON(t, srv, http.MethodPatch, memPath, bearer,
		service.MemoryPatch{Access: &model.MemoryAccess{Kind: model.AccessPublic}}, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("patch: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, srv, http.MethodGet, memPath, stranger, nil); rec.Code != http.StatusOK {
		t.Fatalf("stranger read of public memory: %d", rec.Code)
	}

	// ping
	var pinged pingResponse
	rec = doJSON(t, srv, http.MethodPost, "/v1/memories/ping", bearer,
		pingRequest{IDs: []uuid.UUID{created.MemoryID, uuid.Must(uuid.NewV4())}}, &pinged)
	if rec.Code != http.StatusOK || !pinged.Present[0] || pinged.Present[1] {
		t.Fatalf("ping: %d %+v", rec.Code, pinged)
	}

	// soft delete hides it from readers
	if rec := do(t, srv, http.MethodDelete, memPath, bearer, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, memPath, stranger, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("stranger read after delete: %d", rec.Code)
	}
}

func TestAPI_ListMemories(t *testing.T) {
	t.Parallel()
	srv := newAPI(t)
	bearer := token(t, uuid.Must(uuid.NewV4()))
	capID := createCapsule(t, srv, bearer)

	for i := 0; i < 3; i++ {
		in := service.CreateMemoryInput{
			Type:        model.MemoryNote,
			ContentType: "text/plain",
			Access:      model.MemoryAccess{Kind: model.AccessPublic},
			IdemKey:     fmt.Sprintf("mem-%d", i),
		}
		rec := doJSON(t, srv, http.MethodPost, "/v1/capsules/"+capID.String()+"/memories", bearer, in, nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %d: %d %s", i, rec.Code, rec.Body.String())
		}
	}

	var page model.Page
	rec := doJSON(t, srv, http.MethodGet, "/v1/capsules/"+capID.String()+"/memories?limit=2", bearer, nil, &page)
	if rec.Code != http.StatusOK || len(page.Items) != 2 || page.NextCursor == nil {
		t.Fatalf("page 1: %d %+v", rec.Code, page)
	}

	var rest model.Page
	rec = doJSON(t, srv, http.MethodGet,
		"/v1/capsules/"+capID.String()+"/memories?limit=2&cursor="+*page.NextCursor, bearer, nil, &rest)
	if rec.Code != http.StatusOK || len(rest.Items) != 1 || rest.NextCursor != nil {
		t.Fatalf("page 2: %d %+v", rec.Code, rest)
	}

	rec = do(t, srv, http.MethodGet, "/v1/capsules/"+capID.String()+"/memories?limit=nope", bearer, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", rec.Code)
	}
}

func TestAPI_MalformedBody(t *testing.T) {
	t.Parallel()
	srv := newAPI(t)
	bearer := token(t, uuid.Must(uuid.NewV4()))

	rec := do(t, srv, http.MethodPost, "/v1/capsules", bearer, []byte("{not json"))
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "INVALID_INPUT") {
		t.Fatalf("malformed body: %d %s", rec.Code, rec.Body.String())
	}
}
