package adapters

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/brettbedarf/wikifs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runBackendContract checks the behaviour every backend must share. limit is
// the page limit the backend was configured with.
func runBackendContract(t *testing.T, b wikifs.Backend, limit int) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		e, err := b.Get(ctx, "contract/missing")
		require.NoError(t, err)
		assert.Nil(t, e)
	})

	t.Run("set get overwrite", func(t *testing.T) {
		before := time.Now().Add(-time.Second)
		require.NoError(t, b.Set(ctx, "contract/doc", []byte("one")))
		require.NoError(t, b.Set(ctx, "contract/doc", []byte("two")))

		e, err := b.Get(ctx, "contract/doc")
		require.NoError(t, err)
		require.True(t, e.Exists())
		assert.Equal(t, "two", string(e.Value))
		assert.True(t, e.Modified.After(before), "modified %v", e.Modified)
	})

	t.Run("empty value exists", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "contract/empty", []byte{}))

		e, err := b.Get(ctx, "contract/empty")
		require.NoError(t, err)
		require.True(t, e.Exists())
		assert.Empty(t, e.Value)
	})

	t.Run("nil deletes", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "contract/gone", []byte("x")))
		require.NoError(t, b.Set(ctx, "contract/gone", nil))

		e, err := b.Get(ctx, "contract/gone")
		require.NoError(t, err)
		assert.False(t, e.Exists())
	})

	t.Run("range pages", func(t *testing.T) {
		var want []string
		for i := range 5 {
			k := fmt.Sprintf("range/%d", i)
			want = append(want, k)
			require.NoError(t, b.Set(ctx, k, []byte(k)))
		}
		require.NoError(t, b.Set(ctx, "rangex", []byte("outside")))
		require.NoError(t, b.Set(ctx, "rang", []byte("outside")))

		var got []string
		offset := 0
		for range 10 {
			page, err := b.Keys(ctx, wikifs.PrefixRange("range/", offset))
			require.NoError(t, err)
			assert.Equal(t, limit, page.Limit)
			if limit > 0 {
				assert.LessOrEqual(t, len(page.Keys), limit)
			}
			got = append(got, page.Keys...)
			if page.Limit <= 0 || len(page.Keys) < page.Limit {
				break
			}
			offset += page.Limit
		}
		assert.Equal(t, want, got)
	})
}
