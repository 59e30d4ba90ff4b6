// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist. Read
	// paths also return it for private content the caller may not see,
	// so forbidden and absent are indistinguishable.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the caller lacks the required role or
	// grant on a mutating or access-listing call.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidInput indicates malformed metadata, an out-of-range
	// chunk index, a non-positive declared size, and similar.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates an idempotency key reused with a different
	// payload.
	ErrConflict = errors.New("conflict")

	// ErrResourceExhausted indicates a session or chunk-count cap was hit.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")
)
