package adapters

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/brettbedarf/wikifs"
	"github.com/puzpuzpuz/xsync/v4"
)

// MemoryOptions configures the in-process backend
type MemoryOptions struct {
	PageLimit int `json:"page_limit"`
}

// MemoryProvider hands out backends sharing one in-process store, so every
// session sees the same documents
type MemoryProvider struct {
	opts  MemoryOptions
	store *xsync.Map[string, wikifs.Entry]
}

func newMemoryProvider(raw []byte) (wikifs.BackendProvider, error) {
	var opts MemoryOptions
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, err
	}
	return NewMemoryProvider(opts), nil
}

func NewMemoryProvider(opts MemoryOptions) *MemoryProvider {
	return &MemoryProvider{opts: opts, store: xsync.NewMap[string, wikifs.Entry]()}
}

func (p *MemoryProvider) NewBackend() (wikifs.Backend, error) {
	return &MemoryBackend{store: p.store, limit: p.opts.PageLimit}, nil
}

// MemoryBackend implements [wikifs.Backend] over a concurrent map.
// Credentials are accepted without checks.
type MemoryBackend struct {
	store *xsync.Map[string, wikifs.Entry]
	limit int
}

var _ wikifs.Backend = (*MemoryBackend)(nil)

// NewMemoryBackend returns a backend over a fresh private store.
// pageLimit <= 0 returns whole scans in one page.
func NewMemoryBackend(pageLimit int) *MemoryBackend {
	return &MemoryBackend{store: xsync.NewMap[string, wikifs.Entry](), limit: pageLimit}
}

func (m *MemoryBackend) Open(ctx context.Context, creds wikifs.Credentials) error {
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}

func (m *MemoryBackend) Keys(ctx context.Context, r wikifs.KeyRange) (wikifs.KeyPage, error) {
	if err := ctx.Err(); err != nil {
		return wikifs.KeyPage{}, err
	}
	var keys []string
	m.store.Range(func(k string, _ wikifs.Entry) bool {
		if r.Contains(k) {
			keys = append(keys, k)
		}
		return true
	})
	slices.Sort(keys)

	keys = keys[min(r.Offset, len(keys)):]
	if m.limit > 0 && len(keys) > m.limit {
		keys = keys[:m.limit]
	}
	return wikifs.KeyPage{Keys: keys, Limit: m.limit}, nil
}

func (m *MemoryBackend) Get(ctx context.Context, key string) (*wikifs.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := m.store.Load(key)
	if !ok {
		return nil, nil
	}
	return &wikifs.Entry{Value: slices.Clone(e.Value), Modified: e.Modified}, nil
}

func (m *MemoryBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if value == nil {
		m.store.Delete(key)
		return nil
	}
	m.store.Store(key, wikifs.Entry{Value: append([]byte{}, value...), Modified: time.Now()})
	return nil
}
