package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brettbedarf/wikifs"
	"github.com/brettbedarf/wikifs/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMockSessionBackend(openErr error) *mocks.MockBackend {
	b := &mocks.MockBackend{}
	b.On("Open", mock.Anything, mock.Anything).Return(openErr)
	b.On("Close").Return(nil)
	return b
}

func TestSessionManager_ReusesSessionForSameCredentials(t *testing.T) {
	t.Parallel()

	b := newMockSessionBackend(nil)
	provider := &mocks.MockBackendProvider{}
	provider.On("NewBackend").Return(b, nil).Once()
	m := NewSessionManager(provider, time.Minute)
	defer m.Close()

	creds := wikifs.Credentials{Username: "alice", Password: "secret"}
	first, err := m.Login(context.Background(), creds)
	require.NoError(t, err)
	second, err := m.Login(context.Background(), creds)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, "alice", first.User)
	assert.Equal(t, 1, m.Len())
	provider.AssertExpectations(t)
}

func TestSessionManager_PasswordIsPartOfIdentity(t *testing.T) {
	t.Parallel()

	provider := &mocks.MockBackendProvider{}
	provider.On("NewBackend").Return(newMockSessionBackend(nil), nil).Once()
	provider.On("NewBackend").Return(newMockSessionBackend(nil), nil).Once()
	m := NewSessionManager(provider, time.Minute)
	defer m.Close()

	a, err := m.Login(context.Background(), wikifs.Credentials{Username: "alice", Password: "one"})
	require.NoError(t, err)
	b, err := m.Login(context.Background(), wikifs.Credentials{Username: "alice", Password: "two"})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, m.Len())
}

func TestSessionManager_RejectedLoginClosesBackend(t *testing.T) {
	t.Parallel()

	b := newMockSessionBackend(&wikifs.AuthError{User: "mallory"})
	provider := &mocks.MockBackendProvider{}
	provider.On("NewBackend").Return(b, nil)
	m := NewSessionManager(provider, time.Minute)
	defer m.Close()

	s, err := m.Login(context.Background(), wikifs.Credentials{Username: "mallory", Password: "guess"})

	var authErr *wikifs.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Nil(t, s)
	assert.Equal(t, 0, m.Len())
	b.AssertCalled(t, "Close")
}

func TestSessionManager_ConcurrentLoginsOpenOnce(t *testing.T) {
	t.Parallel()

	b := newMockSessionBackend(nil)
	provider := &mocks.MockBackendProvider{}
	provider.On("NewBackend").Return(b, nil)
	m := NewSessionManager(provider, time.Minute)
	defer m.Close()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Login(context.Background(), wikifs.Credentials{Username: "bob", Password: "pw"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	provider.AssertNumberOfCalls(t, "NewBackend", 1)
}

func TestSessionManager_IdleSessionsExpire(t *testing.T) {
	t.Parallel()

	closed := make(chan struct{})
	b := &mocks.MockBackend{}
	b.On("Open", mock.Anything, mock.Anything).Return(nil)
	b.On("Close").Return(nil).Run(func(mock.Arguments) { close(closed) }).Once()
	provider := &mocks.MockBackendProvider{}
	provider.On("NewBackend").Return(b, nil)
	m := NewSessionManager(provider, 50*time.Millisecond)
	defer m.Close()

	_, err := m.Login(context.Background(), wikifs.Credentials{})
	require.NoError(t, err)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("idle session was not closed")
	}
	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSessionManager_CloseEndsSessions(t *testing.T) {
	t.Parallel()

	b := newMockSessionBackend(nil)
	provider := &mocks.MockBackendProvider{}
	provider.On("NewBackend").Return(b, nil)
	m := NewSessionManager(provider, time.Minute)

	_, err := m.Login(context.Background(), wikifs.Credentials{Username: "carol"})
	require.NoError(t, err)

	m.Close()
	m.Close()

	assert.Equal(t, 0, m.Len())
	b.AssertNumberOfCalls(t, "Close", 1)
}
