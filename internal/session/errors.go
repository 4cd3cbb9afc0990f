package session

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Store implementations when no session record
// exists for the given id. Callers on the post-save path treat it as "the
// session ended while the request was in flight" and drop their write.
var ErrNotFound = errors.New("session not found")

// ValidationError carries field-level messages from the synchronous
// validation pass. It blocks submission and never touches the session
// record, so the user can correct fields and retry.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %d field(s)", len(e.Fields))
}

// MissingIdentifierError signals that the attempted operation requires a
// resolvable client identifier and none is available. Fatal for the
// operation; no state is mutated.
type MissingIdentifierError struct {
	Op string
}

func (e *MissingIdentifierError) Error() string {
	return fmt.Sprintf("%s: no client identifier resolved", e.Op)
}

// NetworkError wraps a failed records-API call. Recoverable: form state and
// the session record are left unchanged, so retrying is safe. Message holds
// the backend-supplied detail when one was parseable.
type NetworkError struct {
	Status  int
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("records api returned status %d", e.Status)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// CacheParseError marks a session row whose stored payload could not be
// decoded or whose schema version is unknown. Store implementations absorb
// it: they log the condition and report the record as absent, so the wizard
// falls back to an empty session instead of failing.
type CacheParseError struct {
	SessionID string
	Err       error
}

func (e *CacheParseError) Error() string {
	return fmt.Sprintf("session %s: unreadable cached record: %v", e.SessionID, e.Err)
}

func (e *CacheParseError) Unwrap() error { return e.Err }
