package adapters

import (
	"context"
	"sync"
	"time"

	"github.com/brettbedarf/wikifs"
	"github.com/jellydator/ttlcache/v3"
)

// CachedBackend serves repeated Gets of a key from memory for a fixed time.
// Sets through the backend invalidate the key; writes by other sessions are
// seen once the entry expires.
type CachedBackend struct {
	wikifs.Backend
	entries  *ttlcache.Cache[string, *wikifs.Entry]
	stopOnce sync.Once
}

var _ wikifs.Backend = (*CachedBackend)(nil)

func NewCachedBackend(inner wikifs.Backend, ttl time.Duration) *CachedBackend {
	entries := ttlcache.New(
		ttlcache.WithTTL[string, *wikifs.Entry](ttl),
		// stale entries must not live on because they are popular
		ttlcache.WithDisableTouchOnHit[string, *wikifs.Entry](),
	)
	go entries.Start()
	return &CachedBackend{Backend: inner, entries: entries}
}

func (c *CachedBackend) Get(ctx context.Context, key string) (*wikifs.Entry, error) {
	if item := c.entries.Get(key); item != nil {
		return item.Value(), nil
	}
	e, err := c.Backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if e.Exists() {
		c.entries.Set(key, e, ttlcache.DefaultTTL)
	}
	return e, nil
}

func (c *CachedBackend) Set(ctx context.Context, key string, value []byte) error {
	c.entries.Delete(key)
	if err := c.Backend.Set(ctx, key, value); err != nil {
		return err
	}
	c.entries.Delete(key)
	return nil
}

func (c *CachedBackend) Close() error {
	c.stopOnce.Do(c.entries.Stop)
	c.entries.DeleteAll()
	return c.Backend.Close()
}
