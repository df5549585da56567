package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/brettbedarf/wikifs"
	"github.com/brettbedarf/wikifs/filesystem"
	"github.com/brettbedarf/wikifs/internal/metrics"
	"github.com/brettbedarf/wikifs/internal/util"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// SessionManager authenticates clients by opening a backend with their
// credentials and keeps the resulting sessions until they sit idle for the
// session TTL. Closing an evicted session closes its backend.
type SessionManager struct {
	provider wikifs.BackendProvider
	sessions *ttlcache.Cache[string, *filesystem.Session]
	logins   singleflight.Group
	// unsubscribe waits for running eviction handlers
	unsubscribe func()
	stopOnce    sync.Once
}

func NewSessionManager(provider wikifs.BackendProvider, ttl time.Duration) *SessionManager {
	sessions := ttlcache.New(
		ttlcache.WithTTL[string, *filesystem.Session](ttl),
	)
	unsubscribe := sessions.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *filesystem.Session]) {
		s := item.Value()
		logger := util.GetLogger("Sessions")
		if err := s.Close(); err != nil {
			logger.Warn().Err(err).Str("session", s.ID).Msg("Failed to close session backend")
		}
		metrics.SessionClosed()
		logger.Debug().Str("session", s.ID).Str("user", s.User).Int("reason", int(reason)).Msg("Session closed")
	})
	go sessions.Start()

	return &SessionManager{provider: provider, sessions: sessions, unsubscribe: unsubscribe}
}

// Login returns the live session for creds or opens a new one. Rejected
// credentials yield an [*wikifs.AuthError].
func (m *SessionManager) Login(ctx context.Context, creds wikifs.Credentials) (*filesystem.Session, error) {
	key := sessionKey(creds)
	if item := m.sessions.Get(key); item != nil {
		return item.Value(), nil
	}

	v, err, _ := m.logins.Do(key, func() (any, error) {
		if item := m.sessions.Get(key); item != nil {
			return item.Value(), nil
		}
		return m.open(ctx, key, creds)
	})
	if err != nil {
		return nil, err
	}
	return v.(*filesystem.Session), nil
}

func (m *SessionManager) open(ctx context.Context, key string, creds wikifs.Credentials) (*filesystem.Session, error) {
	logger := util.GetLogger("Sessions.Open")

	b, err := m.provider.NewBackend()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create backend")
		return nil, err
	}
	if err := b.Open(ctx, creds); err != nil {
		b.Close() //nolint:errcheck
		metrics.RecordAuthAttempt(false)
		logger.Debug().Err(err).Str("user", creds.Username).Msg("Login failed")
		return nil, err
	}
	metrics.RecordAuthAttempt(true)

	s := filesystem.NewSession(creds.Username, b)
	m.sessions.Set(key, s, ttlcache.DefaultTTL)
	metrics.SessionOpened()
	logger.Info().Str("session", s.ID).Str("user", creds.Username).Msg("Session opened")
	return s, nil
}

// Len returns the number of live sessions
func (m *SessionManager) Len() int {
	return m.sessions.Len()
}

// Close ends every session and returns once their backends are closed
func (m *SessionManager) Close() {
	m.stopOnce.Do(func() {
		m.sessions.Stop()
		m.sessions.DeleteAll()
		m.unsubscribe()
	})
}

// sessionKey identifies a credential pair without keeping the password
func sessionKey(creds wikifs.Credentials) string {
	sum := sha256.Sum256([]byte(creds.Password))
	return creds.Username + "\x00" + hex.EncodeToString(sum[:])
}
