package wikifs

import (
	"io/fs"
	"time"
)

// FileStat is the derived metadata of a file or synthetic directory.
// It is never stored and implements [fs.FileInfo].
type FileStat struct {
	name    string
	size    int64
	isDir   bool
	modTime time.Time
}

var _ fs.FileInfo = (*FileStat)(nil)

// NewFileStat describes a stored entry
func NewFileStat(name string, size int64, modTime time.Time) *FileStat {
	return &FileStat{name: name, size: size, modTime: modTime}
}

// NewDirStat describes a synthetic directory. Directories have no backing
// entry so the modification time is the time of the stat call.
func NewDirStat(name string) *FileStat {
	return &FileStat{name: name, isDir: true, modTime: time.Now()}
}

func (s *FileStat) Name() string       { return s.name }
func (s *FileStat) Size() int64        { return s.size }
func (s *FileStat) IsDir() bool        { return s.isDir }
func (s *FileStat) ModTime() time.Time { return s.modTime }
func (s *FileStat) Sys() any           { return nil }

// Mode reports fixed permissions; directories have no permission bits of their own
func (s *FileStat) Mode() fs.FileMode {
	if s.isDir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}
