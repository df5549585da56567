package mocks

import (
	"context"

	"github.com/brettbedarf/wikifs"
	"github.com/stretchr/testify/mock"
)

// MockBackend implements wikifs.Backend for testing across packages
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Open(ctx context.Context, creds wikifs.Credentials) error {
	args := m.Called(ctx, creds)
	return args.Error(0)
}

func (m *MockBackend) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockBackend) Keys(ctx context.Context, r wikifs.KeyRange) (wikifs.KeyPage, error) {
	args := m.Called(ctx, r)

	// Handle function return types (for paging tests)
	if fn, ok := args.Get(0).(func(context.Context, wikifs.KeyRange) wikifs.KeyPage); ok {
		return fn(ctx, r), args.Error(1)
	}
	return args.Get(0).(wikifs.KeyPage), args.Error(1)
}

func (m *MockBackend) Get(ctx context.Context, key string) (*wikifs.Entry, error) {
	args := m.Called(ctx, key)

	if fn, ok := args.Get(0).(func(context.Context, string) *wikifs.Entry); ok {
		return fn(ctx, key), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wikifs.Entry), args.Error(1)
}

func (m *MockBackend) Set(ctx context.Context, key string, value []byte) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

var _ wikifs.Backend = (*MockBackend)(nil)

// MockBackendProvider implements wikifs.BackendProvider for testing across packages
type MockBackendProvider struct {
	mock.Mock
}

func (m *MockBackendProvider) NewBackend() (wikifs.Backend, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(wikifs.Backend), args.Error(1)
}

var _ wikifs.BackendProvider = (*MockBackendProvider)(nil)
