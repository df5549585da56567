package filesystem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroupChildren(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		keys   []string
		prefix string
		want   []Group
	}{
		{
			name:   "empty",
			keys:   []string{},
			prefix: "docs/",
			want:   []Group{},
		},
		{
			name:   "files and subtrees at root",
			keys:   []string{"a", "b/1", "b/2/x", "c"},
			prefix: "",
			want: []Group{
				{Key: "a", Members: []string{"a"}},
				{Key: "b", Members: []string{"b/1", "b/2/x"}},
				{Key: "c", Members: []string{"c"}},
			},
		},
		{
			name:   "nested prefix",
			keys:   []string{"docs/a.txt", "docs/img/1.png", "docs/img/2.png"},
			prefix: "docs/",
			want: []Group{
				{Key: "docs/a.txt", Members: []string{"docs/a.txt"}},
				{Key: "docs/img", Members: []string{"docs/img/1.png", "docs/img/2.png"}},
			},
		},
		{
			name:   "first seen order kept",
			keys:   []string{"z/1", "a", "z/2", "m/1", "a/b"},
			prefix: "",
			want: []Group{
				{Key: "z", Members: []string{"z/1", "z/2"}},
				{Key: "a", Members: []string{"a", "a/b"}},
				{Key: "m", Members: []string{"m/1"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, GroupChildren(tt.keys, tt.prefix))
		})
	}
}
