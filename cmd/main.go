package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/brettbedarf/wikifs"
	"github.com/brettbedarf/wikifs/adapters"
	"github.com/brettbedarf/wikifs/config"
	"github.com/brettbedarf/wikifs/internal/util"
	"github.com/brettbedarf/wikifs/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second

	// Mount credentials are read from the environment so they stay out of
	// the process list
	envUser     = "WIKIFS_USER"
	envPassword = "WIKIFS_PASSWORD"
)

type rootFlags struct {
	configPath string
	envFile    string
	verbose    int
	backend    string
}

type serveFlags struct {
	listen    string
	prefix    string
	anonymous bool
}

type mountFlags struct {
	umount bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var rf rootFlags
	root := &cobra.Command{
		Use:   "wikifs",
		Short: "Serve a wiki or key-value store as a filesystem",
		Long: `wikifs presents a flat key-value store (a MediaWiki, PostgreSQL, SQLite,
Badger, S3 or in-memory) as a hierarchical filesystem. Keys containing "/"
become directories.

Serve it to clients over WebDAV with "serve" or mount it locally with
"mount".`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&rf.configPath, "config", "c", "", "Path to a YAML or JSON config file")
	root.PersistentFlags().StringVar(&rf.envFile, "env-file", "", "Load environment variables from this file (default .env if present)")
	root.PersistentFlags().IntVarP(&rf.verbose, "verbose", "v", config.InfoVerbose, "Log verbosity between 1 (error) and 5 (trace)")
	root.PersistentFlags().StringVar(&rf.backend, "backend", "", "Backend type, overriding the config file (memory, badger, mediawiki, postgres, sqlite, s3)")

	root.AddCommand(newServeCmd(&rf), newMountCmd(&rf))
	return root
}

func newServeCmd(rf *rootFlags) *cobra.Command {
	var sf serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the filesystem over WebDAV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			override := &config.ConfigOverride{}
			if cmd.Flags().Changed("listen") {
				override.ListenAddr = &sf.listen
			}
			if cmd.Flags().Changed("prefix") {
				override.Prefix = &sf.prefix
			}
			if cmd.Flags().Changed("anonymous") {
				override.Anonymous = &sf.anonymous
			}
			cfg, err := loadConfig(cmd, rf, override)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&sf.listen, "listen", "l", config.DefaultListenAddr, "Address to listen on")
	cmd.Flags().StringVar(&sf.prefix, "prefix", config.DefaultPrefix, "URL path prefix of the WebDAV tree")
	cmd.Flags().BoolVar(&sf.anonymous, "anonymous", false, "Allow requests without credentials")
	return cmd
}

func newMountCmd(rf *rootFlags) *cobra.Command {
	var mf mountFlags
	cmd := &cobra.Command{
		Use:   "mount <mountpoint>",
		Short: "Mount the filesystem with FUSE",
		Long: `Mount the filesystem with FUSE. The backend session logs in with
` + envUser + ` and ` + envPassword + ` when set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, rf, &config.ConfigOverride{})
			if err != nil {
				return err
			}
			return runMount(cmd.Context(), cfg, args[0], mf.umount)
		},
	}
	cmd.Flags().BoolVarP(&mf.umount, "umount", "u", false,
		"Unmount the mountpoint first if needed. Useful for debuggers that don't exit properly.")
	return cmd
}

// loadConfig resolves defaults, the config file and flag overrides, in that
// order, and initializes logging
func loadConfig(cmd *cobra.Command, rf *rootFlags, override *config.ConfigOverride) (*config.Config, error) {
	if rf.envFile != "" {
		if err := godotenv.Load(rf.envFile); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	} else {
		_ = godotenv.Load() // optional .env
	}

	cfg := config.NewDefaultConfig()
	if rf.configPath != "" {
		var err error
		if cfg, err = config.NewConfigFromFile(rf.configPath); err != nil {
			return nil, err
		}
	}

	if cmd.Flags().Changed("verbose") {
		override.LogLvl = &rf.verbose
	}
	if rf.backend != "" && rf.backend != cfg.Backend.Type {
		override.Backend = &config.BackendConfig{Type: rf.backend}
	}
	cfg.Merge(override)

	util.InitializeLogger(cfg.LogLvl)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := util.GetLogger("main")
	logger.Debug().
		Str("backend", cfg.Backend.Type).
		Int("pageLimit", cfg.PageLimit).
		Int("fanOut", cfg.FanOut).
		Dur("cacheTTL", cfg.CacheTTL).
		Msg("Configuration loaded")
	return cfg, nil
}

func newProvider(cfg *config.Config) (*adapters.DecoratedProvider, error) {
	adapters.RegisterBuiltins()
	return adapters.NewProvider(cfg)
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := util.GetLogger("main")
	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}
	defer provider.Close()

	srv := server.New(cfg, provider)
	done, err := srv.Start()
	if err != nil {
		logger.Error().Err(err).Str("addr", cfg.Listen.Addr).Msg("Failed to start server")
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Received signal, shutting down")
	case serveErr = <-done:
		logger.Error().Err(serveErr).Msg("Server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, srv.Shutdown(shutdownCtx))
}

func runMount(ctx context.Context, cfg *config.Config, mnt string, umount bool) error {
	logger := util.GetLogger("main")
	if umount {
		// ignore error if not already mounted
		exec.Command("fusermount", "-u", mnt).Run() //nolint:errcheck
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}
	defer provider.Close()

	srv := server.New(cfg, provider)
	creds := wikifs.Credentials{Username: os.Getenv(envUser), Password: os.Getenv(envPassword)}
	if err := srv.Mount(ctx, mnt, creds); err != nil {
		logger.Error().Err(err).Str("mountpoint", mnt).Msg("Failed to mount filesystem")
		return err
	}

	unmounted := make(chan struct{})
	go func() {
		srv.WaitUnmount()
		close(unmounted)
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info().Str("mountpoint", mnt).Msg("Received signal, unmounting filesystem")
	case <-unmounted:
		logger.Info().Str("mountpoint", mnt).Msg("Filesystem unmounted externally")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
