package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brettbedarf/wikifs"
	"github.com/brettbedarf/wikifs/config"
	"github.com/brettbedarf/wikifs/internal/util"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS wikifs_entries (
	key      TEXT COLLATE "C" PRIMARY KEY,
	value    BYTEA NOT NULL,
	modified TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const (
	postgresKeysSQL = `SELECT key FROM wikifs_entries WHERE key >= $1 AND key < $2 ORDER BY key LIMIT $3 OFFSET $4`
	postgresGetSQL  = `SELECT value, modified FROM wikifs_entries WHERE key = $1`
	postgresSetSQL  = `INSERT INTO wikifs_entries (key, value, modified) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, modified = excluded.modified`
	postgresDelSQL = `DELETE FROM wikifs_entries WHERE key = $1`
)

// invalid_password and invalid_authorization_specification
var postgresAuthCodes = map[string]bool{"28P01": true, "28000": true}

// PostgresOptions configures the PostgreSQL backend
type PostgresOptions struct {
	DSN       string `json:"dsn"`
	PageLimit int    `json:"page_limit"`
	// SessionLogin connects every session as the user it authenticated with
	// instead of sharing the DSN's pool
	SessionLogin bool `json:"session_login,omitempty"`
}

// PostgresProvider owns the shared pool and the schema
type PostgresProvider struct {
	opts PostgresOptions
	pool *pgxpool.Pool
}

func newPostgresProvider(raw []byte) (wikifs.BackendProvider, error) {
	var opts PostgresOptions
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return NewPostgresProvider(ctx, opts)
}

// NewPostgresProvider connects to opts.DSN and applies the schema
func NewPostgresProvider(ctx context.Context, opts PostgresOptions) (*PostgresProvider, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	pool, err := pgxpool.New(ctx, opts.DSN)
	if err != nil {
		return nil, &wikifs.BackendError{Backend: config.PostgresBackend, Op: "open", Err: err}
	}
	if _, err := pool.Exec(ctx, postgresSchemaSQL); err != nil {
		pool.Close()
		return nil, &wikifs.BackendError{Backend: config.PostgresBackend, Op: "open", Err: fmt.Errorf("apply schema: %w", err)}
	}
	return &PostgresProvider{opts: opts, pool: pool}, nil
}

func (p *PostgresProvider) NewBackend() (wikifs.Backend, error) {
	return &PostgresBackend{opts: p.opts, shared: p.pool}, nil
}

func (p *PostgresProvider) Close() error {
	p.pool.Close()
	return nil
}

// PostgresBackend implements [wikifs.Backend] on a single table. Keys use the
// "C" collation so range scans order by bytes.
type PostgresBackend struct {
	opts   PostgresOptions
	shared *pgxpool.Pool
	own    *pgxpool.Pool // per-session pool when SessionLogin is set
}

var _ wikifs.Backend = (*PostgresBackend)(nil)

func (b *PostgresBackend) db() *pgxpool.Pool {
	if b.own != nil {
		return b.own
	}
	return b.shared
}

func (b *PostgresBackend) Open(ctx context.Context, creds wikifs.Credentials) error {
	if !b.opts.SessionLogin {
		return nil
	}
	logger := util.GetLogger("Postgres.Open")

	cfg, err := pgxpool.ParseConfig(b.opts.DSN)
	if err != nil {
		return &wikifs.BackendError{Backend: config.PostgresBackend, Op: "open", Err: err}
	}
	cfg.ConnConfig.User = creds.Username
	cfg.ConnConfig.Password = creds.Password

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return &wikifs.BackendError{Backend: config.PostgresBackend, Op: "open", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && postgresAuthCodes[pgErr.Code] {
			logger.Debug().Str("user", creds.Username).Msg("Login rejected")
			return &wikifs.AuthError{User: creds.Username, Reason: pgErr.Message, Err: err}
		}
		return &wikifs.BackendError{Backend: config.PostgresBackend, Op: "open", Err: err}
	}
	b.own = pool
	return nil
}

func (b *PostgresBackend) Close() error {
	if b.own != nil {
		b.own.Close()
		b.own = nil
	}
	return nil
}

func (b *PostgresBackend) Keys(ctx context.Context, r wikifs.KeyRange) (wikifs.KeyPage, error) {
	var limit any // NULL is no limit
	if b.opts.PageLimit > 0 {
		limit = b.opts.PageLimit
	}
	rows, err := b.db().Query(ctx, postgresKeysSQL, r.Start, r.End, limit, r.Offset)
	if err != nil {
		return wikifs.KeyPage{}, &wikifs.BackendError{Backend: config.PostgresBackend, Op: "keys", Key: r.Start, Err: err}
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return wikifs.KeyPage{}, &wikifs.BackendError{Backend: config.PostgresBackend, Op: "keys", Key: r.Start, Err: err}
	}
	return wikifs.KeyPage{Keys: keys, Limit: b.opts.PageLimit}, nil
}

func (b *PostgresBackend) Get(ctx context.Context, key string) (*wikifs.Entry, error) {
	var e wikifs.Entry
	err := b.db().QueryRow(ctx, postgresGetSQL, key).Scan(&e.Value, &e.Modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &wikifs.BackendError{Backend: config.PostgresBackend, Op: "get", Key: key, Err: err}
	}
	if e.Value == nil {
		e.Value = []byte{}
	}
	return &e, nil
}

func (b *PostgresBackend) Set(ctx context.Context, key string, value []byte) error {
	var err error
	if value == nil {
		_, err = b.db().Exec(ctx, postgresDelSQL, key)
	} else {
		_, err = b.db().Exec(ctx, postgresSetSQL, key, value, time.Now())
	}
	if err != nil {
		return &wikifs.BackendError{Backend: config.PostgresBackend, Op: "set", Key: key, Err: err}
	}
	return nil
}
