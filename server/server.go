// Package server exposes the wiki filesystem to clients: WebDAV over HTTP
// with per-user backend sessions, and a local FUSE mount.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/brettbedarf/wikifs"
	"github.com/brettbedarf/wikifs/config"
	"github.com/brettbedarf/wikifs/filesystem"
	"github.com/brettbedarf/wikifs/internal/metrics"
	"github.com/brettbedarf/wikifs/internal/util"
	"github.com/hanwen/go-fuse/v2/fuse"
)

const readHeaderTimeout = 10 * time.Second

// Server owns the filesystem facade, the session registry and the protocol
// surfaces serving them
type Server struct {
	*filesystem.FileSystem
	cfg      *config.Config
	sessions *SessionManager

	http     *http.Server
	listener net.Listener

	fuse *fuse.Server
}

// New creates a Server opening backends from provider
func New(cfg *config.Config, provider wikifs.BackendProvider) *Server {
	return &Server{
		FileSystem: filesystem.NewFS(cfg),
		cfg:        cfg,
		sessions:   NewSessionManager(provider, cfg.SessionTTL),
	}
}

// Handler returns the HTTP handler serving WebDAV below the configured
// prefix and metrics at the metrics path
func (s *Server) Handler() http.Handler {
	prefix := s.cfg.Listen.Prefix
	mux := http.NewServeMux()
	mux.Handle(strings.TrimSuffix(prefix, "/")+"/", NewWebDAVHandler(s.FileSystem, s.sessions, prefix, s.cfg.Listen.Anonymous))
	if s.cfg.Listen.MetricsPath != "" {
		mux.Handle(s.cfg.Listen.MetricsPath, metrics.Handler())
	}
	return metrics.Middleware(mux)
}

// Start listens on the configured address and serves in the background.
// The returned channel receives the serve error, if any, and is closed when
// serving stops.
func (s *Server) Start() (<-chan error, error) {
	logger := util.GetLogger("Server.Start")
	ln, err := net.Listen("tcp", s.cfg.Listen.Addr)
	if err != nil {
		return nil, err
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          util.NewLogLogger("HTTP", util.WarnLevel),
	}

	done := make(chan error, 1)
	go func() {
		defer close(done)
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- err
		}
	}()
	logger.Info().Str("addr", ln.Addr().String()).Str("prefix", s.cfg.Listen.Prefix).Msg("Serving WebDAV")
	return done, nil
}

// Addr returns the address the server listens on, or "" before Start
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Mount opens a session with creds and mounts it at mountPoint. It returns
// once the mount is ready.
func (s *Server) Mount(ctx context.Context, mountPoint string, creds wikifs.Credentials) error {
	logger := util.GetLogger("Server.Mount")
	sess, err := s.sessions.Login(ctx, creds)
	if err != nil {
		return err
	}
	srv, err := mountFS(mountPoint, s.FileSystem, sess, s.cfg.MountOptions)
	if err != nil {
		return err
	}
	s.fuse = srv
	logger.Info().Str("mountpoint", mountPoint).Str("session", sess.ID).Msg("Mounted")
	return nil
}

// WaitUnmount blocks until the mount is unmounted
func (s *Server) WaitUnmount() {
	if s.fuse != nil {
		s.fuse.Wait()
	}
}

// Unmount cleanly unmounts the filesystem
func (s *Server) Unmount() error {
	if s.fuse == nil {
		return nil
	}
	err := s.fuse.Unmount()
	s.fuse = nil
	return err
}

// Shutdown stops the HTTP listener and the mount and closes every session
func (s *Server) Shutdown(ctx context.Context) error {
	logger := util.GetLogger("Server.Shutdown")
	var errs []error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.Unmount(); err != nil {
		errs = append(errs, err)
	}
	s.sessions.Close()
	logger.Info().Msg("Server stopped")
	return errors.Join(errs...)
}
