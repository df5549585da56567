package server

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/brettbedarf/wikifs"
	"github.com/brettbedarf/wikifs/adapters"
	"github.com/brettbedarf/wikifs/config"
	"github.com/brettbedarf/wikifs/filesystem"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingBackend records how many values were stored
type countingBackend struct {
	*adapters.MemoryBackend
	sets atomic.Int32
}

func (b *countingBackend) Set(ctx context.Context, key string, value []byte) error {
	b.sets.Add(1)
	return b.MemoryBackend.Set(ctx, key, value)
}

// newFuseTree builds an unmounted node tree over a memory backend
func newFuseTree(t *testing.T) (*fuseNode, *countingBackend) {
	t.Helper()
	b := &countingBackend{MemoryBackend: adapters.NewMemoryBackend(0)}
	root := &fuseNode{
		fsys:    filesystem.NewFS(config.NewDefaultConfig()),
		session: filesystem.NewSession("alice", b),
	}
	fs.NewNodeFS(root, &fs.Options{})
	return root, b
}

func addFuseFile(root *fuseNode, name string) *fuseNode {
	node := &fuseNode{fsys: root.fsys, session: root.session}
	child := root.NewPersistentInode(context.Background(), node, fs.StableAttr{Mode: syscall.S_IFREG})
	root.AddChild(name, child, false)
	return node
}

func storeFile(t *testing.T, root *fuseNode, p string, data []byte) {
	t.Helper()
	ctx := context.Background()
	res, err := root.fsys.Write(ctx, root.session, p, filesystem.WriteOptions{})
	require.NoError(t, err)
	_, err = res.Stream.Write(data)
	require.NoError(t, err)
	require.NoError(t, res.Stream.Commit(ctx))
}

func loadFile(t *testing.T, root *fuseNode, p string) []byte {
	t.Helper()
	res, err := root.fsys.Read(context.Background(), root.session, p, filesystem.ReadOptions{})
	require.NoError(t, err)
	data, err := io.ReadAll(res.Stream)
	require.NoError(t, err)
	return data
}

func TestFuseHandle_WritePastEndZeroFills(t *testing.T) {
	t.Parallel()
	root, b := newFuseTree(t)
	node := addFuseFile(root, "Main_Page")
	ctx := context.Background()

	h := &fuseHandle{node: node, writable: true, dirty: true}

	written, errno := h.Write(ctx, []byte("ab"), 0)
	require.Equal(t, syscall.Errno(0), errno)
	assert.EqualValues(t, 2, written)
	_, errno = h.Write(ctx, []byte("cd"), 5)
	require.Equal(t, syscall.Errno(0), errno)

	dest := make([]byte, 16)
	res, errno := h.Read(ctx, dest, 0)
	require.Equal(t, syscall.Errno(0), errno)
	got, _ := res.Bytes(nil)
	assert.Equal(t, []byte("ab\x00\x00\x00cd"), got)
	assert.EqualValues(t, 0, b.sets.Load(), "nothing is stored before flush")

	require.Equal(t, syscall.Errno(0), h.Flush(ctx))
	assert.EqualValues(t, 1, b.sets.Load())
	assert.Equal(t, []byte("ab\x00\x00\x00cd"), loadFile(t, root, "/Main_Page"))
}

func TestFuseHandle_FlushStoresOnce(t *testing.T) {
	t.Parallel()
	root, b := newFuseTree(t)
	storeFile(t, root, "/Main_Page", []byte("hello"))
	node := addFuseFile(root, "Main_Page")
	ctx := context.Background()
	b.sets.Store(0)

	fh, _, errno := node.Open(ctx, uint32(os.O_RDWR))
	require.Equal(t, syscall.Errno(0), errno)
	h := fh.(*fuseHandle)

	_, errno = h.Write(ctx, []byte("J"), 0)
	require.Equal(t, syscall.Errno(0), errno)
	require.Equal(t, syscall.Errno(0), h.Flush(ctx))
	require.Equal(t, syscall.Errno(0), h.Fsync(ctx, 0))
	require.Equal(t, syscall.Errno(0), h.Flush(ctx))

	assert.EqualValues(t, 1, b.sets.Load(), "unchanged buffer must not be stored again")
	assert.Equal(t, []byte("Jello"), loadFile(t, root, "/Main_Page"))
	assert.Equal(t, syscall.Errno(0), h.Release(ctx))
}

func TestFuseHandle_FlushWithoutChangesIsNoop(t *testing.T) {
	t.Parallel()
	root, b := newFuseTree(t)
	storeFile(t, root, "/Main_Page", []byte("hello"))
	node := addFuseFile(root, "Main_Page")
	ctx := context.Background()
	b.sets.Store(0)

	fh, _, errno := node.Open(ctx, uint32(os.O_WRONLY))
	require.Equal(t, syscall.Errno(0), errno)
	require.Equal(t, syscall.Errno(0), fh.(*fuseHandle).Flush(ctx))

	ro, _, errno := node.Open(ctx, uint32(os.O_RDONLY))
	require.Equal(t, syscall.Errno(0), errno)
	require.Equal(t, syscall.Errno(0), ro.(*fuseHandle).Flush(ctx))

	assert.EqualValues(t, 0, b.sets.Load())
}

func TestFuseHandle_ReadOnlyRejectsWrites(t *testing.T) {
	t.Parallel()
	root, _ := newFuseTree(t)
	storeFile(t, root, "/Main_Page", []byte("hello"))
	node := addFuseFile(root, "Main_Page")
	ctx := context.Background()

	fh, _, errno := node.Open(ctx, uint32(os.O_RDONLY))
	require.Equal(t, syscall.Errno(0), errno)
	h := fh.(*fuseHandle)

	_, errno = h.Write(ctx, []byte("x"), 0)
	assert.Equal(t, syscall.EBADF, errno)

	dest := make([]byte, 3)
	res, errno := h.Read(ctx, dest, 2)
	require.Equal(t, syscall.Errno(0), errno)
	got, _ := res.Bytes(nil)
	assert.Equal(t, []byte("llo"), got)
}

func TestFuseHandle_Truncate(t *testing.T) {
	t.Parallel()
	root, _ := newFuseTree(t)
	storeFile(t, root, "/Main_Page", []byte("hello"))
	node := addFuseFile(root, "Main_Page")
	ctx := context.Background()

	fh, _, errno := node.Open(ctx, uint32(os.O_RDWR))
	require.Equal(t, syscall.Errno(0), errno)
	h := fh.(*fuseHandle)

	h.truncate(2)
	h.truncate(4)
	require.Equal(t, syscall.Errno(0), h.Flush(ctx))
	assert.Equal(t, []byte("he\x00\x00"), loadFile(t, root, "/Main_Page"))
}

func TestFuseNode_Truncate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("shrink", func(t *testing.T) {
		t.Parallel()
		root, _ := newFuseTree(t)
		storeFile(t, root, "/Main_Page", []byte("hello"))
		node := addFuseFile(root, "Main_Page")

		require.Equal(t, syscall.Errno(0), node.truncate(ctx, 2))
		assert.Equal(t, []byte("he"), loadFile(t, root, "/Main_Page"))
	})
	t.Run("grow zero-extends", func(t *testing.T) {
		t.Parallel()
		root, _ := newFuseTree(t)
		storeFile(t, root, "/Main_Page", []byte("hi"))
		node := addFuseFile(root, "Main_Page")

		require.Equal(t, syscall.Errno(0), node.truncate(ctx, 5))
		assert.Equal(t, []byte("hi\x00\x00\x00"), loadFile(t, root, "/Main_Page"))
	})
	t.Run("to zero", func(t *testing.T) {
		t.Parallel()
		root, _ := newFuseTree(t)
		storeFile(t, root, "/Main_Page", []byte("hello"))
		node := addFuseFile(root, "Main_Page")

		require.Equal(t, syscall.Errno(0), node.truncate(ctx, 0))
		assert.Empty(t, loadFile(t, root, "/Main_Page"))
	})
	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		root, _ := newFuseTree(t)
		node := addFuseFile(root, "Missing")

		assert.Equal(t, syscall.ENOENT, node.truncate(ctx, 3))
	})
}

func TestFuseNode_Getattr(t *testing.T) {
	t.Parallel()
	root, _ := newFuseTree(t)
	storeFile(t, root, "/Talk/Main_Page", []byte("hello"))
	ctx := context.Background()

	var out fuse.EntryOut
	talk, errno := root.Lookup(ctx, "Talk", &out)
	require.Equal(t, syscall.Errno(0), errno)
	assert.NotZero(t, out.Attr.Mode&syscall.S_IFDIR)
	require.NotNil(t, talk)

	_, errno = root.Lookup(ctx, "Nope", &out)
	assert.Equal(t, syscall.ENOENT, errno)

	page := addFuseFile(root, "Page")
	storeFile(t, root, "/Page", []byte("12345"))
	var attr fuse.AttrOut
	require.Equal(t, syscall.Errno(0), page.Getattr(ctx, nil, &attr))
	assert.EqualValues(t, 5, attr.Attr.Size)
	assert.NotZero(t, attr.Attr.Mode&syscall.S_IFREG)
}

func TestFuseNode_Rmdir(t *testing.T) {
	t.Parallel()
	root, _ := newFuseTree(t)
	storeFile(t, root, "/Talk/Main_Page", []byte("hello"))
	ctx := context.Background()

	assert.Equal(t, syscall.ENOTEMPTY, root.Rmdir(ctx, "Talk"))
	assert.Equal(t, syscall.Errno(0), root.Rmdir(ctx, "Empty"))
}

func TestToErrno(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"nil", nil, 0},
		{"not found", wikifs.NotFound("Main_Page"), syscall.ENOENT},
		{"invalid rename", wikifs.ErrInvalidRename, syscall.EINVAL},
		{"root mutation", wikifs.ErrRootMutation, syscall.EBUSY},
		{"backend failure", errors.New("connection reset"), syscall.EIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, toErrno("Test", "/Main_Page", tt.err))
		})
	}
}
