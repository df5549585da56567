package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/brettbedarf/wikifs"
	"github.com/brettbedarf/wikifs/filesystem"
	"github.com/brettbedarf/wikifs/internal/util"
	"golang.org/x/net/webdav"
)

const authRealm = `Basic realm="wikifs"`

type sessionCtxKey struct{}

func withSession(ctx context.Context, s *filesystem.Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, s)
}

func sessionFrom(ctx context.Context) (*filesystem.Session, error) {
	s, ok := ctx.Value(sessionCtxKey{}).(*filesystem.Session)
	if !ok {
		return nil, fs.ErrPermission
	}
	return s, nil
}

// NewWebDAVHandler serves fsys over WebDAV below prefix. Every request is
// authenticated with HTTP basic auth and runs in the caller's session. In
// anonymous mode requests without credentials share the anonymous session.
func NewWebDAVHandler(fsys *filesystem.FileSystem, sessions *SessionManager, prefix string, anonymous bool) http.Handler {
	logger := util.GetLogger("WebDAV")
	dav := &webdav.Handler{
		Prefix:     strings.TrimSuffix(prefix, "/"),
		FileSystem: &davFS{fsys: fsys},
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logger.Debug().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
			}
		},
	}
	return basicAuth(sessions, anonymous)(dav)
}

func basicAuth(sessions *SessionManager, anonymous bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := util.GetLogger("WebDAV.Auth")

			var creds wikifs.Credentials
			user, pass, ok := r.BasicAuth()
			if ok {
				creds = wikifs.Credentials{Username: user, Password: pass}
			} else if !anonymous {
				w.Header().Set("WWW-Authenticate", authRealm)
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			s, err := sessions.Login(r.Context(), creds)
			if err != nil {
				var authErr *wikifs.AuthError
				if errors.As(err, &authErr) {
					logger.Warn().Str("user", user).Err(err).Msg("Authentication failed")
					w.Header().Set("WWW-Authenticate", authRealm)
					http.Error(w, "Invalid credentials", http.StatusUnauthorized)
					return
				}
				logger.Error().Err(err).Str("user", user).Msg("Failed to open session")
				http.Error(w, "Backend unavailable", http.StatusBadGateway)
				return
			}
			next.ServeHTTP(w, r.WithContext(withSession(r.Context(), s)))
		})
	}
}

// davFS adapts the filesystem facade to [webdav.FileSystem]
type davFS struct {
	fsys *filesystem.FileSystem
}

var _ webdav.FileSystem = (*davFS)(nil)

func (d *davFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	s, err := sessionFrom(ctx)
	if err != nil {
		return err
	}
	return d.fsys.Mkdir(ctx, s, name)
}

func (d *davFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	s, err := sessionFrom(ctx)
	if err != nil {
		return nil, err
	}

	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return d.openWrite(ctx, s, name, flag)
	}

	st, err := d.fsys.Get(ctx, s, name)
	if err != nil {
		return nil, davError("open", name, err)
	}
	f := &davFile{fsys: d.fsys, session: s, ctx: ctx, name: name, stat: st}
	if st.IsDir() {
		return f, nil
	}
	res, err := d.fsys.Read(ctx, s, name, filesystem.ReadOptions{})
	if err != nil {
		return nil, davError("open", name, err)
	}
	f.read = res.Stream
	return f, nil
}

func (d *davFS) openWrite(ctx context.Context, s *filesystem.Session, name string, flag int) (webdav.File, error) {
	opts := filesystem.WriteOptions{Append: flag&os.O_APPEND != 0 && flag&os.O_TRUNC == 0}
	res, err := d.fsys.Write(ctx, s, name, opts)
	if opts.Append && errors.Is(err, wikifs.ErrNotFound) && flag&os.O_CREATE != 0 {
		res, err = d.fsys.Write(ctx, s, name, filesystem.WriteOptions{})
	}
	if err != nil {
		return nil, davError("open", name, err)
	}
	return &davFile{fsys: d.fsys, session: s, ctx: ctx, name: name, write: res.Stream}, nil
}

// RemoveAll succeeds when nothing is stored at name, like [os.RemoveAll]
func (d *davFS) RemoveAll(ctx context.Context, name string) error {
	s, err := sessionFrom(ctx)
	if err != nil {
		return err
	}
	err = d.fsys.Delete(ctx, s, name)
	if errors.Is(err, wikifs.ErrNotFound) {
		return nil
	}
	return davError("remove", name, err)
}

func (d *davFS) Rename(ctx context.Context, oldName, newName string) error {
	s, err := sessionFrom(ctx)
	if err != nil {
		return err
	}
	return davError("rename", oldName, d.fsys.Rename(ctx, s, oldName, newName))
}

func (d *davFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	s, err := sessionFrom(ctx)
	if err != nil {
		return nil, err
	}
	st, err := d.fsys.Get(ctx, s, name)
	if err != nil {
		return nil, davError("stat", name, err)
	}
	return st, nil
}

// davError translates facade errors into the fs errors the webdav handler
// maps onto status codes
func davError(op, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, wikifs.ErrNotFound):
		return &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	case errors.Is(err, wikifs.ErrRootMutation), errors.Is(err, wikifs.ErrInvalidRename):
		return &fs.PathError{Op: op, Path: name, Err: fmt.Errorf("%w: %w", fs.ErrPermission, err)}
	}
	return err
}

// davFile is an open WebDAV file: a directory listing, a read stream or a
// write stream committed on Close
type davFile struct {
	fsys    *filesystem.FileSystem
	session *filesystem.Session
	ctx     context.Context
	name    string

	stat  *wikifs.FileStat
	read  *filesystem.ReadStream
	write *filesystem.WriteStream

	listed  []fs.FileInfo
	listPos int
	listErr error
	listing bool
}

var _ webdav.File = (*davFile)(nil)

func (f *davFile) Close() error {
	switch {
	case f.write != nil:
		if err := f.write.Close(); err != nil {
			logger := util.GetLogger("WebDAV.Close")
			logger.Error().Err(err).Str("session", f.session.ID).Str("path", f.name).Msg("Failed to store file")
			return err
		}
	case f.read != nil:
		return f.read.Close()
	}
	return nil
}

func (f *davFile) Read(p []byte) (int, error) {
	if f.read == nil {
		return 0, &fs.PathError{Op: "read", Path: f.name, Err: fs.ErrInvalid}
	}
	return f.read.Read(p)
}

func (f *davFile) Seek(offset int64, whence int) (int64, error) {
	if f.read == nil {
		if f.stat != nil && f.stat.IsDir() && offset == 0 && whence == io.SeekStart {
			return 0, nil
		}
		return 0, &fs.PathError{Op: "seek", Path: f.name, Err: fs.ErrInvalid}
	}
	return f.read.Seek(offset, whence)
}

func (f *davFile) Write(p []byte) (int, error) {
	if f.write == nil {
		return 0, &fs.PathError{Op: "write", Path: f.name, Err: fs.ErrPermission}
	}
	return f.write.Write(p)
}

// Readdir follows [http.File]: count <= 0 returns everything left, count > 0
// returns at most count entries and io.EOF once the listing is exhausted
func (f *davFile) Readdir(count int) ([]fs.FileInfo, error) {
	if f.stat == nil || !f.stat.IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: f.name, Err: fmt.Errorf("not a directory")}
	}
	if !f.listing {
		f.listing = true
		stats, err := f.fsys.List(f.ctx, f.session, f.name)
		if err != nil {
			f.listErr = davError("readdir", f.name, err)
		}
		f.listed = make([]fs.FileInfo, len(stats))
		for i, st := range stats {
			f.listed[i] = st
		}
	}
	if f.listErr != nil {
		return nil, f.listErr
	}

	rest := f.listed[f.listPos:]
	if count <= 0 {
		f.listPos = len(f.listed)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	n := min(count, len(rest))
	f.listPos += n
	return rest[:n], nil
}

func (f *davFile) Stat() (fs.FileInfo, error) {
	switch {
	case f.write != nil:
		return wikifs.NewFileStat(path.Base(f.name), int64(f.write.Len()), time.Now()), nil
	case f.read != nil:
		return wikifs.NewFileStat(f.stat.Name(), f.read.Size(), f.read.ModTime()), nil
	case f.stat != nil:
		return f.stat, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: f.name, Err: fs.ErrNotExist}
}
