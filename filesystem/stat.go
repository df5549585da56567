package filesystem

import (
	"context"
	"path"

	"github.com/brettbedarf/wikifs"
)

// Stat classifies candidate by scanning its subtree. See [StatMembers].
func Stat(ctx context.Context, b wikifs.Backend, candidate string) (*wikifs.FileStat, error) {
	if candidate == "" {
		return wikifs.NewDirStat("/"), nil
	}
	keys, err := Enumerate(ctx, b, candidate)
	if err != nil {
		return nil, err
	}
	return StatMembers(ctx, b, candidate, filterSubtree(keys, candidate))
}

// StatMembers builds the stat of candidate from the keys of its subtree.
// A subtree of exactly the candidate key is a file and its entry is fetched;
// no members at all is not found; any other shape is a synthetic directory.
// A key that is both a leaf and a prefix of other keys is a directory.
func StatMembers(ctx context.Context, b wikifs.Backend, candidate string, members []string) (*wikifs.FileStat, error) {
	if candidate == "" {
		return wikifs.NewDirStat("/"), nil
	}
	name := path.Base(candidate)

	switch {
	case len(members) == 0:
		return nil, wikifs.NotFound(candidate)
	case len(members) == 1 && members[0] == candidate:
		entry, err := b.Get(ctx, candidate)
		if err != nil {
			return nil, err
		}
		// listed but deleted before we got to it
		if !entry.Exists() {
			return nil, wikifs.NotFound(candidate)
		}
		return wikifs.NewFileStat(name, int64(len(entry.Value)), entry.Modified), nil
	default:
		return wikifs.NewDirStat(name), nil
	}
}
