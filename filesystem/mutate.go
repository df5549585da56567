package filesystem

import (
	"context"
	"strings"

	"github.com/brettbedarf/wikifs"
	"github.com/brettbedarf/wikifs/internal/util"
	"golang.org/x/sync/errgroup"
)

// newGroup returns an errgroup running at most fanOut goroutines at once.
// fanOut <= 0 leaves it unbounded.
func newGroup(ctx context.Context, fanOut int) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	if fanOut > 0 {
		g.SetLimit(fanOut)
	}
	return g, gctx
}

// subtree enumerates the keys of root's subtree. An empty subtree is not found.
func subtree(ctx context.Context, b wikifs.Backend, root string) ([]string, error) {
	keys, err := Enumerate(ctx, b, root)
	if err != nil {
		return nil, err
	}
	keys = filterSubtree(keys, root)
	if len(keys) == 0 {
		return nil, wikifs.NotFound(root)
	}
	return keys, nil
}

// deleteTree tombstones key and everything below it concurrently. The first
// failure is returned; keys already tombstoned by then stay deleted.
func deleteTree(ctx context.Context, b wikifs.Backend, key string, fanOut int) error {
	logger := util.GetLogger("FS.Delete")

	if key == "" {
		return wikifs.ErrRootMutation
	}
	keys, err := subtree(ctx, b, key)
	if err != nil {
		return err
	}

	g, gctx := newGroup(ctx, fanOut)
	for _, k := range keys {
		g.Go(func() error {
			return b.Set(gctx, k, nil)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Str("key", key).Int("keys", len(keys)).Msg("Delete failed part way")
		return err
	}
	logger.Debug().Str("key", key).Int("keys", len(keys)).Msg("Deleted")
	return nil
}

// renameTree moves from and everything below it to to by rewriting the key
// prefix. Each key is copied and its old key tombstoned concurrently; there
// is no atomicity across keys.
func renameTree(ctx context.Context, b wikifs.Backend, from, to string, fanOut int) error {
	logger := util.GetLogger("FS.Rename")

	if from == "" || to == "" {
		return wikifs.ErrRootMutation
	}
	if from == to {
		return nil
	}
	// Overlapping trees would have one key's copy race another key's tombstone
	if inSubtree(to, from) || inSubtree(from, to) {
		return wikifs.ErrInvalidRename
	}

	keys, err := subtree(ctx, b, from)
	if err != nil {
		return err
	}

	g, gctx := newGroup(ctx, fanOut)
	for _, k := range keys {
		g.Go(func() error {
			entry, err := b.Get(gctx, k)
			if err != nil {
				return err
			}
			if !entry.Exists() {
				return wikifs.NotFound(k)
			}
			dst := to + strings.TrimPrefix(k, from)

			var pair errgroup.Group
			pair.Go(func() error { return b.Set(gctx, k, nil) })
			pair.Go(func() error { return b.Set(gctx, dst, entry.Value) })
			return pair.Wait()
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Str("from", from).Str("to", to).Msg("Rename failed part way")
		return err
	}
	logger.Debug().Str("from", from).Str("to", to).Int("keys", len(keys)).Msg("Renamed")
	return nil
}
