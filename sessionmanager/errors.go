package sessionmanager

import (
	"errors"
	"fmt"

	"github.com/ggoodman/idp-sessions-go/sessions"
)

// Errors returned by the manager.
var (
	// ErrSessionNotFound reports a session that never existed, was destroyed,
	// or has expired. Callers cannot tell these apart.
	ErrSessionNotFound = errors.New("session not found")
	// ErrPrincipalRequired is returned by CreateSession for an empty principal.
	ErrPrincipalRequired = errors.New("principal name is required")
	// ErrBackend matches every *BackendError via errors.Is.
	ErrBackend = errors.New("session storage failure")
	// ErrClosed is returned by operations on a closed manager.
	ErrClosed = errors.New("session manager closed")
	// ErrSessionMismatch is returned by SaveSession for a session whose
	// secret differs from the stored one.
	ErrSessionMismatch = errors.New("session does not match the stored session")
)

// BackendError wraps a storage failure. It is returned as-is; the manager
// never retries. Error renders the id through sessions.LogID.
type BackendError struct {
	Op  string
	ID  string
	Err error
}

func (e *BackendError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("session %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("session %s %s: %v", e.Op, sessions.LogID(e.ID), e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrBackend) hold for any BackendError.
func (e *BackendError) Is(target error) bool { return target == ErrBackend }
