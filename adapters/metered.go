package adapters

import (
	"context"
	"time"

	"github.com/brettbedarf/wikifs"
	"github.com/brettbedarf/wikifs/internal/metrics"
)

// MeteredBackend records the duration and outcome of every backend call
type MeteredBackend struct {
	inner wikifs.Backend
	name  string // backend type label
}

var _ wikifs.Backend = (*MeteredBackend)(nil)

func NewMeteredBackend(inner wikifs.Backend, name string) *MeteredBackend {
	return &MeteredBackend{inner: inner, name: name}
}

func (m *MeteredBackend) Open(ctx context.Context, creds wikifs.Credentials) error {
	start := time.Now()
	err := m.inner.Open(ctx, creds)
	metrics.RecordBackendOperation(m.name, "open", time.Since(start), err)
	return err
}

func (m *MeteredBackend) Close() error {
	return m.inner.Close()
}

func (m *MeteredBackend) Keys(ctx context.Context, r wikifs.KeyRange) (wikifs.KeyPage, error) {
	start := time.Now()
	page, err := m.inner.Keys(ctx, r)
	metrics.RecordBackendOperation(m.name, "keys", time.Since(start), err)
	return page, err
}

func (m *MeteredBackend) Get(ctx context.Context, key string) (*wikifs.Entry, error) {
	start := time.Now()
	e, err := m.inner.Get(ctx, key)
	metrics.RecordBackendOperation(m.name, "get", time.Since(start), err)
	return e, err
}

func (m *MeteredBackend) Set(ctx context.Context, key string, value []byte) error {
	op := "set"
	if value == nil {
		op = "delete"
	}
	start := time.Now()
	err := m.inner.Set(ctx, key, value)
	metrics.RecordBackendOperation(m.name, op, time.Since(start), err)
	if err == nil {
		metrics.RecordBytesWritten(m.name, len(value))
	}
	return err
}
