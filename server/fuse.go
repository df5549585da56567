package server

import (
	"context"
	"errors"
	"os"
	"path"
	"sync"
	"syscall"
	"time"

	"github.com/brettbedarf/wikifs"
	"github.com/brettbedarf/wikifs/config"
	"github.com/brettbedarf/wikifs/filesystem"
	"github.com/brettbedarf/wikifs/internal/util"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Directories are synthetic and can vanish with their last file
const fuseCacheTimeout = time.Second

// fuseNode is a file or directory of the mounted tree. Nodes hold no data;
// every operation goes through the facade with the mount's session.
type fuseNode struct {
	fs.Inode
	fsys    *filesystem.FileSystem
	session *filesystem.Session
}

var (
	_ fs.InodeEmbedder = (*fuseNode)(nil)
	_ fs.NodeGetattrer = (*fuseNode)(nil)
	_ fs.NodeSetattrer = (*fuseNode)(nil)
	_ fs.NodeLookuper  = (*fuseNode)(nil)
	_ fs.NodeReaddirer = (*fuseNode)(nil)
	_ fs.NodeOpener    = (*fuseNode)(nil)
	_ fs.NodeCreater   = (*fuseNode)(nil)
	_ fs.NodeMkdirer   = (*fuseNode)(nil)
	_ fs.NodeUnlinker  = (*fuseNode)(nil)
	_ fs.NodeRmdirer   = (*fuseNode)(nil)
	_ fs.NodeRenamer   = (*fuseNode)(nil)
)

// mountFS mounts fsys at mountPoint with every operation running in s
func mountFS(mountPoint string, fsys *filesystem.FileSystem, s *filesystem.Session, opts config.MountOptions) (*fuse.Server, error) {
	root := &fuseNode{fsys: fsys, session: s}
	timeout := fuseCacheTimeout
	return fs.Mount(mountPoint, root, &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:   opts.Name,
			FsName: opts.FsName,
			Debug:  opts.Debug,
			Logger: util.NewLogLogger("Fuse", util.DebugLevel),
		},
		EntryTimeout: &timeout,
		AttrTimeout:  &timeout,
		UID:          uint32(os.Getuid()),
		GID:          uint32(os.Getgid()),
	})
}

// virtualPath is the node's absolute path in the filesystem tree
func (n *fuseNode) virtualPath() string {
	return "/" + n.Path(nil)
}

func (n *fuseNode) child(name string) string {
	return path.Join(n.virtualPath(), name)
}

func (n *fuseNode) newChild(ctx context.Context, st *wikifs.FileStat) *fs.Inode {
	mode := uint32(syscall.S_IFREG)
	if st.IsDir() {
		mode = syscall.S_IFDIR
	}
	return n.NewInode(ctx, &fuseNode{fsys: n.fsys, session: n.session}, fs.StableAttr{Mode: mode})
}

func (n *fuseNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if h, ok := fh.(*fuseHandle); ok && h.writable {
		h.mu.Lock()
		defer h.mu.Unlock()
		fillAttr(wikifs.NewFileStat(n.Path(nil), int64(len(h.buf)), time.Now()), &out.Attr)
		return 0
	}
	st, err := n.fsys.Get(ctx, n.session, n.virtualPath())
	if err != nil {
		return toErrno("Getattr", n.virtualPath(), err)
	}
	fillAttr(st, &out.Attr)
	return 0
}

// Setattr only supports size changes; mode, owner and times are fixed
func (n *fuseNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if h, ok := fh.(*fuseHandle); ok && h.writable {
			h.truncate(int64(size))
		} else if errno := n.truncate(ctx, int64(size)); errno != 0 {
			return errno
		}
	}
	return n.Getattr(ctx, fh, out)
}

// truncate cuts the stored value at size or zero-extends it up to size
func (n *fuseNode) truncate(ctx context.Context, size int64) syscall.Errno {
	p := n.virtualPath()
	cur, err := n.fsys.Read(ctx, n.session, p, filesystem.ReadOptions{})
	if err != nil {
		return toErrno("Setattr", p, err)
	}
	length := cur.Stream.Size()
	cur.Stream.Close()

	opts := filesystem.WriteOptions{Start: size}
	if size > length {
		opts = filesystem.WriteOptions{Append: true}
	}
	res, err := n.fsys.Write(ctx, n.session, p, opts)
	if err != nil {
		return toErrno("Setattr", p, err)
	}
	if size > length {
		if _, err := res.Stream.Write(make([]byte, size-length)); err != nil {
			res.Stream.Abort()
			return toErrno("Setattr", p, err)
		}
	}
	return toErrno("Setattr", p, res.Stream.Commit(ctx))
}

func (n *fuseNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	st, err := n.fsys.Get(ctx, n.session, p)
	if err != nil {
		return nil, toErrno("Lookup", p, err)
	}
	fillAttr(st, &out.Attr)
	return n.newChild(ctx, st), 0
}

func (n *fuseNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	p := n.virtualPath()
	stats, err := n.fsys.List(ctx, n.session, p)
	if err != nil {
		return nil, toErrno("Readdir", p, err)
	}
	entries := make([]fuse.DirEntry, 0, len(stats))
	for _, st := range stats {
		mode := uint32(syscall.S_IFREG)
		if st.IsDir() {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: st.Name(), Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

func (n *fuseNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	p := n.virtualPath()
	if int(flags)&(os.O_WRONLY|os.O_RDWR) == 0 {
		res, err := n.fsys.Read(ctx, n.session, p, filesystem.ReadOptions{})
		if err != nil {
			return nil, 0, toErrno("Open", p, err)
		}
		return &fuseHandle{node: n, read: res.Stream}, 0, 0
	}

	h := &fuseHandle{node: n, writable: true}
	if int(flags)&os.O_TRUNC != 0 {
		h.dirty = true
		return h, fuse.FOPEN_DIRECT_IO, 0
	}
	res, err := n.fsys.Read(ctx, n.session, p, filesystem.ReadOptions{})
	if err != nil {
		return nil, 0, toErrno("Open", p, err)
	}
	h.buf = make([]byte, res.Stream.Size())
	if _, err := res.Stream.ReadAt(h.buf, 0); err != nil && len(h.buf) > 0 {
		return nil, 0, toErrno("Open", p, err)
	}
	return h, fuse.FOPEN_DIRECT_IO, 0
}

func (n *fuseNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	st := wikifs.NewFileStat(name, 0, time.Now())
	fillAttr(st, &out.Attr)
	child := n.newChild(ctx, st)
	h := &fuseHandle{node: child.Operations().(*fuseNode), writable: true, dirty: true}
	logger := util.GetLogger("Fuse.Create")
	logger.Trace().Str("session", n.session.ID).Str("path", n.child(name)).Msg("Created file")
	return child, h, fuse.FOPEN_DIRECT_IO, 0
}

// Mkdir hands back a directory inode. Nothing is stored until a file is
// created inside it.
func (n *fuseNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	if err := n.fsys.Mkdir(ctx, n.session, p); err != nil {
		return nil, toErrno("Mkdir", p, err)
	}
	st := wikifs.NewDirStat(name)
	fillAttr(st, &out.Attr)
	return n.newChild(ctx, st), 0
}

func (n *fuseNode) Unlink(ctx context.Context, name string) syscall.Errno {
	p := n.child(name)
	return toErrno("Unlink", p, n.fsys.Delete(ctx, n.session, p))
}

// Rmdir refuses directories with entries. An empty directory has nothing
// stored so there is nothing to remove.
func (n *fuseNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	p := n.child(name)
	stats, err := n.fsys.List(ctx, n.session, p)
	if err != nil {
		return toErrno("Rmdir", p, err)
	}
	if len(stats) > 0 {
		return syscall.ENOTEMPTY
	}
	return 0
}

func (n *fuseNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	from := n.child(name)
	to := path.Join("/"+newParent.EmbeddedInode().Path(nil), newName)
	return toErrno("Rename", from, n.fsys.Rename(ctx, n.session, from, to))
}

// fuseHandle is an open file. Read handles wrap a read stream. Write handles
// buffer the whole file so writes may land at any offset; Flush stores the
// buffer through a write stream.
type fuseHandle struct {
	node *fuseNode
	read *filesystem.ReadStream

	mu       sync.Mutex
	writable bool
	buf      []byte
	dirty    bool
}

var (
	_ fs.FileReader   = (*fuseHandle)(nil)
	_ fs.FileWriter   = (*fuseHandle)(nil)
	_ fs.FileFlusher  = (*fuseHandle)(nil)
	_ fs.FileFsyncer  = (*fuseHandle)(nil)
	_ fs.FileReleaser = (*fuseHandle)(nil)
)

func (h *fuseHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if h.read != nil {
		n, err := h.read.ReadAt(dest, off)
		if err != nil && n == 0 && off < h.read.Size() {
			return nil, toErrno("Read", h.node.virtualPath(), err)
		}
		return fuse.ReadResultData(dest[:n]), 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if off >= int64(len(h.buf)) {
		return fuse.ReadResultData(nil), 0
	}
	n := copy(dest, h.buf[off:])
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fuseHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	if !h.writable {
		return 0, syscall.EBADF
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if end := off + int64(len(data)); end > int64(len(h.buf)) {
		h.buf = append(h.buf, make([]byte, end-int64(len(h.buf)))...)
	}
	copy(h.buf[off:], data)
	h.dirty = true
	return uint32(len(data)), 0
}

func (h *fuseHandle) truncate(size int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if size < int64(len(h.buf)) {
		h.buf = h.buf[:size]
	} else {
		h.buf = append(h.buf, make([]byte, size-int64(len(h.buf)))...)
	}
	h.dirty = true
}

// Flush stores the buffer when it changed since the last flush
func (h *fuseHandle) Flush(ctx context.Context) syscall.Errno {
	if !h.writable {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty {
		return 0
	}

	logger := util.GetLogger("Fuse.Flush")
	p := h.node.virtualPath()
	res, err := h.node.fsys.Write(ctx, h.node.session, p, filesystem.WriteOptions{})
	if err != nil {
		return toErrno("Flush", p, err)
	}
	if _, err := res.Stream.Write(h.buf); err != nil {
		res.Stream.Abort()
		return toErrno("Flush", p, err)
	}
	if err := res.Stream.Commit(ctx); err != nil {
		return toErrno("Flush", p, err)
	}
	h.dirty = false
	logger.Debug().Str("session", h.node.session.ID).Str("path", p).Int("size", len(h.buf)).Msg("Stored file")
	return 0
}

func (h *fuseHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return h.Flush(ctx)
}

func (h *fuseHandle) Release(ctx context.Context) syscall.Errno {
	if h.read != nil {
		h.read.Close()
	}
	h.mu.Lock()
	h.buf = nil
	h.mu.Unlock()
	return 0
}

func fillAttr(st *wikifs.FileStat, out *fuse.Attr) {
	out.Mode = uint32(st.Mode().Perm())
	if st.IsDir() {
		out.Mode |= syscall.S_IFDIR
	} else {
		out.Mode |= syscall.S_IFREG
		out.Size = uint64(st.Size())
	}
	mtime := st.ModTime()
	out.SetTimes(nil, &mtime, &mtime)
}

// toErrno maps facade errors onto errno values; anything unexpected is EIO
func toErrno(op, p string, err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, wikifs.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, wikifs.ErrInvalidRename):
		return syscall.EINVAL
	case errors.Is(err, wikifs.ErrRootMutation):
		return syscall.EBUSY
	}
	logger := util.GetLogger("Fuse." + op)
	logger.Error().Err(err).Str("path", p).Msg("Operation failed")
	return syscall.EIO
}
