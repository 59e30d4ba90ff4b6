package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/keeperhq/capsulekeeper/internal/errs"
)

// errorBody is the JSON error envelope returned by every failing call.
type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError maps service errors onto stable HTTP codes. NotFound covers
// both absent and forbidden-to-read content, by design.
func writeError(w http.ResponseWriter, err error) {
	var (
		status = http.StatusInternalServerError
		body   = errorBody{Code: "INTERNAL", Message: "internal error"}
	)

	var ie *errs.IntegrityError
	var inc *errs.IncompleteUploadError
	switch {
	case errors.As(err, &ie):
		status = http.StatusUnprocessableEntity
		body = errorBody{
			Code:    "INTEGRITY",
			Message: ie.Error(),
			Details: map[string]any{
				"kind":     string(ie.Kind),
				"declared": ie.Want,
				"stored":   ie.Got,
			},
		}
	case errors.As(err, &inc):
		status = http.StatusConflict
		body = errorBody{
			Code:    "INCOMPLETE_UPLOAD",
			Message: inc.Error(),
			Details: map[string]any{"missing": inc.Missing},
		}
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
		body = errorBody{Code: "NOT_FOUND", Message: "not found"}
	case errors.Is(err, errs.ErrUnauthorized):
		status = http.StatusForbidden
		body = errorBody{Code: "UNAUTHORIZED", Message: "caller lacks required grant"}
	case errors.Is(err, errs.ErrInvalidInput):
		status = http.StatusBadRequest
		body = errorBody{Code: "INVALID_INPUT", Message: err.Error()}
	case errors.Is(err, errs.ErrConflict), errors.Is(err, errs.ErrAlreadyExists):
		status = http.StatusConflict
		body = errorBody{Code: "CONFLICT", Message: err.Error()}
	case errors.Is(err, errs.ErrResourceExhausted):
		status = http.StatusTooManyRequests
		body = errorBody{Code: "RESOURCE_EXHAUSTED", Message: err.Error()}
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
