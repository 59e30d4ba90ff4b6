package errs

import "fmt"

// IntegrityKind distinguishes what part of the declaration failed
// verification, so a client knows whether to re-chunk or merely resend.
type IntegrityKind string

const (
	IntegrityHash IntegrityKind = "hash"
	IntegritySize IntegrityKind = "size"
)

// IntegrityError reports a hash or length mismatch at blob finalize.
type IntegrityError struct {
	Kind IntegrityKind
	Want string // declared value
	Got  string // recomputed value
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity: %s mismatch (declared %s, stored %s)", e.Kind, e.Want, e.Got)
}

// IncompleteUploadError reports a finish attempted before every declared
// chunk arrived; Missing lets the client resume instead of restarting.
type IncompleteUploadError struct {
	Missing []int
}

func (e *IncompleteUploadError) Error() string {
	return fmt.Sprintf("incomplete upload: %d chunk(s) missing", len(e.Missing))
}
