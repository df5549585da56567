// Package filesystem presents a flat key-value backend as a hierarchical
// filesystem. Directories are synthetic: a directory exists while at least
// one key lives below it.
package filesystem

import (
	"context"
	"errors"
	"io/fs"

	"github.com/brettbedarf/wikifs"
	"github.com/brettbedarf/wikifs/config"
	"github.com/brettbedarf/wikifs/internal/util"
)

// FileSystem implements the filesystem operations protocol surfaces call.
// It holds no per-client state; every call names the [Session] it acts for.
type FileSystem struct {
	fanOut int // max concurrent backend calls per operation; <= 0 unbounded
}

func NewFS(cfg *config.Config) *FileSystem {
	return &FileSystem{fanOut: cfg.FanOut}
}

// CurrentDirectory returns the session's working directory
func (fsys *FileSystem) CurrentDirectory(s *Session) string {
	return s.Cwd()
}

// Chdir changes the session's working directory and returns the new one.
// It does not touch the backend: a directory has nothing to check until a
// file is written below it.
func (fsys *FileSystem) Chdir(s *Session, p string) string {
	dir := ClientPath(Resolve(s.Cwd(), p))
	s.setCwd(dir)
	logger := util.GetLogger("FS.Chdir")
	logger.Trace().Str("session", s.ID).Str("cwd", dir).Msg("Changed directory")
	return dir
}

// List returns the immediate children of directory p. A path with nothing
// below it lists as empty.
func (fsys *FileSystem) List(ctx context.Context, s *Session, p string) ([]*wikifs.FileStat, error) {
	logger := util.GetLogger("FS.List")
	key := Resolve(s.Cwd(), p)
	logger.Trace().Str("session", s.ID).Str("path", p).Str("key", key).Msg("List called")

	prefix := childPrefix(key)
	keys, err := Enumerate(ctx, s.backend, prefix)
	if err != nil {
		logger.Error().Err(err).Str("key", key).Msg("Failed to enumerate directory")
		return nil, err
	}
	groups := GroupChildren(keys, prefix)

	stats := make([]*wikifs.FileStat, len(groups))
	g, gctx := newGroup(ctx, fsys.fanOut)
	for i, grp := range groups {
		g.Go(func() error {
			st, err := StatMembers(gctx, s.backend, grp.Key, grp.Members)
			if errors.Is(err, wikifs.ErrNotFound) {
				logger.Debug().Str("key", grp.Key).Msg("Entry vanished while listing")
				return nil
			}
			stats[i] = st
			return err
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Str("key", key).Msg("Failed to stat directory children")
		return nil, err
	}

	out := stats[:0]
	for _, st := range stats {
		if st != nil {
			out = append(out, st)
		}
	}
	return out, nil
}

// Get returns the stat of p. Fails with [wikifs.ErrNotFound] if nothing is
// stored at or below it.
func (fsys *FileSystem) Get(ctx context.Context, s *Session, p string) (*wikifs.FileStat, error) {
	key := Resolve(s.Cwd(), p)
	logger := util.GetLogger("FS.Get")
	logger.Trace().Str("session", s.ID).Str("key", key).Msg("Get called")
	return Stat(ctx, s.backend, key)
}

// Read opens a stream over the value stored at p from opts.Start on
func (fsys *FileSystem) Read(ctx context.Context, s *Session, p string, opts ReadOptions) (*ReadResult, error) {
	logger := util.GetLogger("FS.Read")
	key := Resolve(s.Cwd(), p)
	logger.Trace().Str("session", s.ID).Str("key", key).Int64("start", opts.Start).Msg("Read called")

	entry, err := s.backend.Get(ctx, key)
	if err != nil {
		logger.Error().Err(err).Str("key", key).Msg("Failed to get entry")
		return nil, err
	}
	if !entry.Exists() {
		return nil, wikifs.NotFound(key)
	}

	start := clamp(opts.Start, len(entry.Value))
	return &ReadResult{
		Stream: newReadStream(entry.Value[start:], entry.Modified),
		Path:   ClientPath(key),
	}, nil
}

// Write opens a buffered sink for p. With opts.Append the existing value is
// kept whole, with opts.Start > 0 it is kept up to Start; both require the
// value to exist. The backend is written once, when the stream completes.
func (fsys *FileSystem) Write(ctx context.Context, s *Session, p string, opts WriteOptions) (*WriteResult, error) {
	logger := util.GetLogger("FS.Write")
	key := Resolve(s.Cwd(), p)
	logger.Trace().Str("session", s.ID).Str("key", key).Bool("append", opts.Append).Int64("start", opts.Start).Msg("Write called")

	var seed []byte
	if opts.Append || opts.Start > 0 {
		entry, err := s.backend.Get(ctx, key)
		if err != nil {
			logger.Error().Err(err).Str("key", key).Msg("Failed to get entry")
			return nil, err
		}
		if !entry.Exists() {
			return nil, wikifs.NotFound(key)
		}
		if opts.Append {
			seed = entry.Value
		} else {
			seed = entry.Value[:clamp(opts.Start, len(entry.Value))]
		}
	}

	return &WriteResult{
		Stream: newWriteStream(ctx, s.backend, key, seed),
		Path:   ClientPath(key),
	}, nil
}

// Rename moves the file or directory at from to to
func (fsys *FileSystem) Rename(ctx context.Context, s *Session, from, to string) error {
	cwd := s.Cwd()
	return renameTree(ctx, s.backend, Resolve(cwd, from), Resolve(cwd, to), fsys.fanOut)
}

// Delete removes the file or directory at p including everything below it
func (fsys *FileSystem) Delete(ctx context.Context, s *Session, p string) error {
	return deleteTree(ctx, s.backend, Resolve(s.Cwd(), p), fsys.fanOut)
}

// Mkdir is a no-op. Directories appear once a file is written below them.
func (fsys *FileSystem) Mkdir(ctx context.Context, s *Session, p string) error {
	return nil
}

// Chmod is a no-op. Permissions are fixed.
func (fsys *FileSystem) Chmod(ctx context.Context, s *Session, p string, mode fs.FileMode) error {
	return nil
}

func clamp(start int64, n int) int64 {
	return max(0, min(start, int64(n)))
}
