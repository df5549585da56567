package filesystem

import "strings"

// Group is one immediate child of a listing: the child's key plus every
// scanned key that falls under it.
type Group struct {
	Key     string
	Members []string
}

// GroupChildren partitions keys into the immediate children of listingPrefix.
// A key's group is the key cut at the first "/" at or after
// len(listingPrefix), or the whole key when there is none. Groups keep the
// order in which they were first seen and members keep their input order.
func GroupChildren(keys []string, listingPrefix string) []Group {
	groups := []Group{}
	index := make(map[string]int)

	for _, k := range keys {
		gk := k
		if len(k) >= len(listingPrefix) {
			if i := strings.IndexByte(k[len(listingPrefix):], '/'); i >= 0 {
				gk = k[:len(listingPrefix)+i]
			}
		}

		if i, ok := index[gk]; ok {
			groups[i].Members = append(groups[i].Members, k)
			continue
		}
		index[gk] = len(groups)
		groups = append(groups, Group{Key: gk, Members: []string{k}})
	}
	return groups
}
