package filesystem

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/brettbedarf/wikifs"
	"github.com/brettbedarf/wikifs/internal/util"
)

// ReadOptions configures [FileSystem.Read]
type ReadOptions struct {
	Start int64 // byte offset the stream begins at; clamped to the value length
}

// ReadResult is a readable stream plus the resolved client path
type ReadResult struct {
	Stream *ReadStream
	Path   string
}

// WriteOptions configures [FileSystem.Write]
type WriteOptions struct {
	Append bool  // keep the whole existing value; takes precedence over Start
	Start  int64 // keep the existing value up to Start and write after it
}

// WriteResult is a write sink plus the resolved client path
type WriteResult struct {
	Stream *WriteStream
	Path   string
}

// ReadStream serves a snapshot of one stored value. It can be re-read from
// any position with Seek or ReadAt.
type ReadStream struct {
	r       *bytes.Reader
	modTime time.Time
}

var _ io.ReadSeekCloser = (*ReadStream)(nil)
var _ io.ReaderAt = (*ReadStream)(nil)

func newReadStream(value []byte, modTime time.Time) *ReadStream {
	return &ReadStream{r: bytes.NewReader(value), modTime: modTime}
}

func (s *ReadStream) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *ReadStream) ReadAt(p []byte, off int64) (int, error) {
	return s.r.ReadAt(p, off)
}

func (s *ReadStream) Seek(offset int64, whence int) (int64, error) {
	return s.r.Seek(offset, whence)
}

// Close is a no-op; the stream holds no backend resources
func (s *ReadStream) Close() error {
	return nil
}

// Size is the length of the streamed bytes
func (s *ReadStream) Size() int64 {
	return s.r.Size()
}

// ModTime is the modification time of the entry the stream was read from
func (s *ReadStream) ModTime() time.Time {
	return s.modTime
}

// WriteStream buffers written chunks and stores them with a single backend
// Set when the stream completes. Nothing reaches the backend before that.
type WriteStream struct {
	ctx     context.Context
	backend wikifs.Backend
	key     string

	mu   sync.Mutex
	buf  bytes.Buffer
	done bool
}

var _ io.WriteCloser = (*WriteStream)(nil)

func newWriteStream(ctx context.Context, b wikifs.Backend, key string, seed []byte) *WriteStream {
	s := &WriteStream{ctx: ctx, backend: b, key: key}
	s.buf.Write(seed)
	return s
}

// Write appends p to the buffer
func (s *WriteStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return 0, wikifs.ErrStreamClosed
	}
	return s.buf.Write(p)
}

// Len is the number of buffered bytes, seed included
func (s *WriteStream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

// Commit stores the buffer. If ctx or the context the stream was opened with
// is done, the buffer is discarded without touching the backend and the
// context error is returned.
func (s *WriteStream) Commit(ctx context.Context) error {
	logger := util.GetLogger("WriteStream.Commit")

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return wikifs.ErrStreamClosed
	}
	s.done = true
	value := append([]byte{}, s.buf.Bytes()...)
	s.buf.Reset()
	s.mu.Unlock()

	for _, c := range []context.Context{ctx, s.ctx} {
		if err := c.Err(); err != nil {
			logger.Debug().Str("key", s.key).Err(err).Msg("Write canceled; discarding buffer")
			return err
		}
	}

	if err := s.backend.Set(ctx, s.key, value); err != nil {
		logger.Error().Err(err).Str("key", s.key).Msg("Failed to store written value")
		return err
	}
	logger.Debug().Str("key", s.key).Int("size", len(value)).Msg("Stored written value")
	return nil
}

// Close commits with the context the stream was opened with.
// Closing a stream that already completed is a no-op.
func (s *WriteStream) Close() error {
	if err := s.Commit(s.ctx); !errors.Is(err, wikifs.ErrStreamClosed) {
		return err
	}
	return nil
}

// Abort discards the buffer. No backend call is made.
func (s *WriteStream) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	s.buf.Reset()
}
