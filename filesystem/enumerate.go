package filesystem

import (
	"context"

	"github.com/brettbedarf/wikifs"
	"github.com/brettbedarf/wikifs/internal/util"
)

// Enumerate returns every key starting with prefix in backend order.
// Pages are requested with an increasing offset until a short page arrives.
// A backend reporting a page limit <= 0 returns everything in one page.
func Enumerate(ctx context.Context, b wikifs.Backend, prefix string) ([]string, error) {
	logger := util.GetLogger("FS.Enumerate")

	keys := []string{}
	offset := 0
	for pages := 1; ; pages++ {
		page, err := b.Keys(ctx, wikifs.PrefixRange(prefix, offset))
		if err != nil {
			return nil, err
		}
		keys = append(keys, page.Keys...)

		if page.Limit <= 0 || len(page.Keys) < page.Limit {
			logger.Trace().Str("prefix", prefix).Int("pages", pages).Int("keys", len(keys)).Msg("Enumerated prefix")
			return keys, nil
		}
		offset += page.Limit
	}
}
