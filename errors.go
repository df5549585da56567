package wikifs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a key or prefix has no entry
	ErrNotFound = errors.New("not found")
	// ErrRootMutation is returned when rename or delete targets the root
	ErrRootMutation = errors.New("cannot rename or delete the root directory")
	// ErrInvalidRename is returned when a rename destination lies inside its source
	ErrInvalidRename = errors.New("cannot move a path inside itself")
	// ErrStreamClosed is returned when writing to a completed or aborted stream
	ErrStreamClosed = errors.New("write stream already closed")
)

// NotFound wraps [ErrNotFound] with the key that was missing
func NotFound(key string) error {
	return fmt.Errorf("%q: %w", key, ErrNotFound)
}

// BackendError is any failure reported by a [Backend]
type BackendError struct {
	Backend string // backend type, i.e. "badger"
	Op      string // keys, get, set, open, close
	Key     string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s %q: %v", e.Backend, e.Op, e.Key, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// AuthError is returned by [Backend.Open] when credentials are rejected
type AuthError struct {
	User   string
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("authentication failed for %q", e.User)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
