// Package wikifs contains the core domain types and interfaces for presenting a
// flat key-value document store as a hierarchical filesystem.
package wikifs

import (
	"context"
	"time"
)

// Sentinel sorts after every valid key character. Appending it to a prefix
// gives the exclusive upper bound of that prefix's key range.
const Sentinel = "\U0010FFFF"

// Backend defines the operations the filesystem core needs from a key-value
// store. Instances are session scoped: [Backend.Open] is called once with the
// session's credentials and [Backend.Close] when the session ends.
type Backend interface {
	// Open establishes backend session state (e.g. logs in).
	// Returns an [*AuthError] if the credentials are rejected
	Open(ctx context.Context, creds Credentials) error

	// Close releases backend session state
	Close() error

	// Keys returns one page of keys k with r.Start <= k < r.End in
	// lexicographic order, skipping the first r.Offset matches
	Keys(ctx context.Context, r KeyRange) (KeyPage, error)

	// Get returns the entry stored at key or nil if the key has never existed
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores value at key. A nil value deletes (tombstones) the key
	Set(ctx context.Context, key string, value []byte) error
}

// BackendProvider is a factory for concrete [Backend] implementations
// generated from a backend config. Implementations should handle shared
// resource management (connection pooling, open databases etc.) for the
// backends they create.
type BackendProvider interface {
	NewBackend() (Backend, error)
}

// Credentials are opaque to the core and passed through to [Backend.Open]
type Credentials struct {
	Username string
	Password string
}

// Entry is a stored value plus its modification time. A nil Value means the
// key does not exist at the storage layer.
type Entry struct {
	Value    []byte
	Modified time.Time
}

// Exists reports whether the entry holds a value
func (e *Entry) Exists() bool {
	return e != nil && e.Value != nil
}

// KeyRange bounds a paginated key scan
type KeyRange struct {
	Start  string // inclusive
	End    string // exclusive
	Offset int    // number of matching keys to skip
}

// PrefixRange returns the range covering every key that starts with prefix
func PrefixRange(prefix string, offset int) KeyRange {
	return KeyRange{Start: prefix, End: prefix + Sentinel, Offset: offset}
}

// Contains reports whether key falls inside the range bounds
func (r KeyRange) Contains(key string) bool {
	return key >= r.Start && key < r.End
}

// KeyPage is one page of a key scan. A page holding fewer than Limit keys is
// the last one. Limit <= 0 means the backend does not paginate and Keys holds
// the complete result.
type KeyPage struct {
	Keys  []string
	Limit int
}
