package filesystem

import (
	"sync"

	"github.com/brettbedarf/wikifs"
	"github.com/google/uuid"
)

// Session is the per-client state of a connection: an opened backend and a
// working directory. It is safe for concurrent use.
type Session struct {
	ID   string
	User string

	backend wikifs.Backend

	mu  sync.RWMutex
	cwd string // absolute virtual path
}

// NewSession wraps an opened backend. The working directory starts at the root.
func NewSession(user string, b wikifs.Backend) *Session {
	return &Session{
		ID:      uuid.NewString(),
		User:    user,
		backend: b,
		cwd:     "/",
	}
}

// Backend returns the backend the session operates on
func (s *Session) Backend() wikifs.Backend {
	return s.backend
}

// Cwd returns the current working directory
func (s *Session) Cwd() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cwd
}

func (s *Session) setCwd(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cwd = dir
}

// Close closes the session's backend
func (s *Session) Close() error {
	return s.backend.Close()
}
