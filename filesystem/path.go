package filesystem

import (
	"path"
	"strings"
)

// Resolve maps a client path onto a backend key. p is resolved against the
// absolute working directory cwd unless it is absolute itself; ".", ".." and
// repeated separators collapse the way they do on disk, with ".." clamped at
// the root. The root resolves to the empty key.
func Resolve(cwd, p string) string {
	if p == "" {
		p = "."
	}
	var abs string
	if strings.HasPrefix(p, "/") {
		abs = path.Clean(p)
	} else {
		abs = path.Join("/", cwd, p)
	}
	return strings.TrimPrefix(abs, "/")
}

// ClientPath is the absolute virtual path of key
func ClientPath(key string) string {
	return "/" + key
}

// inSubtree reports whether key is root itself or lies below it.
// Every key is inside the root's subtree.
func inSubtree(key, root string) bool {
	return root == "" || key == root || strings.HasPrefix(key, root+"/")
}

// filterSubtree keeps the keys of a prefix scan that belong to root's subtree,
// dropping siblings that only share a textual prefix (i.e. "dirt" for "dir").
func filterSubtree(keys []string, root string) []string {
	out := keys[:0:0]
	for _, k := range keys {
		if inSubtree(k, root) {
			out = append(out, k)
		}
	}
	return out
}

// childPrefix is the scan prefix of the immediate children of dir
func childPrefix(dir string) string {
	if dir == "" {
		return ""
	}
	return dir + "/"
}
