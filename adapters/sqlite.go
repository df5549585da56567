package adapters

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brettbedarf/wikifs"
	"github.com/brettbedarf/wikifs/config"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS entries (
	key      TEXT PRIMARY KEY COLLATE BINARY,
	value    BLOB NOT NULL,
	modified INTEGER NOT NULL
);
`

const (
	sqliteKeysSQL = `SELECT key FROM entries WHERE key >= ? AND key < ? ORDER BY key LIMIT ? OFFSET ?`
	sqliteGetSQL  = `SELECT value, modified FROM entries WHERE key = ?`
	sqliteSetSQL  = `INSERT INTO entries (key, value, modified) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, modified = excluded.modified`
	sqliteDelSQL = `DELETE FROM entries WHERE key = ?`
)

// SQLiteOptions configures the SQLite backend
type SQLiteOptions struct {
	Path      string `json:"path"`
	PageLimit int    `json:"page_limit"`
}

// SQLiteProvider owns the database connection shared by its backends
type SQLiteProvider struct {
	opts SQLiteOptions
	conn *sql.DB
}

func newSQLiteProvider(raw []byte) (wikifs.BackendProvider, error) {
	var opts SQLiteOptions
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, err
	}
	return NewSQLiteProvider(opts)
}

// NewSQLiteProvider opens (or creates) the database and applies the schema
func NewSQLiteProvider(opts SQLiteOptions) (*SQLiteProvider, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	conn, err := sql.Open("sqlite3", opts.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, &wikifs.BackendError{Backend: config.SQLiteBackend, Op: "open", Err: err}
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, &wikifs.BackendError{Backend: config.SQLiteBackend, Op: "open", Err: err}
	}
	if _, err := conn.Exec(sqliteSchemaSQL); err != nil {
		conn.Close()
		return nil, &wikifs.BackendError{Backend: config.SQLiteBackend, Op: "open", Err: fmt.Errorf("apply schema: %w", err)}
	}
	return &SQLiteProvider{opts: opts, conn: conn}, nil
}

func (p *SQLiteProvider) NewBackend() (wikifs.Backend, error) {
	return &SQLiteBackend{conn: p.conn, limit: p.opts.PageLimit}, nil
}

func (p *SQLiteProvider) Close() error {
	return p.conn.Close()
}

// SQLiteBackend implements [wikifs.Backend] on a single SQLite table.
// Modification times are stored as unix nanoseconds.
type SQLiteBackend struct {
	conn  *sql.DB
	limit int
}

var _ wikifs.Backend = (*SQLiteBackend)(nil)

func (b *SQLiteBackend) Open(ctx context.Context, creds wikifs.Credentials) error {
	return nil
}

func (b *SQLiteBackend) Close() error {
	return nil
}

func (b *SQLiteBackend) Keys(ctx context.Context, r wikifs.KeyRange) (wikifs.KeyPage, error) {
	limit := b.limit
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := b.conn.QueryContext(ctx, sqliteKeysSQL, r.Start, r.End, limit, r.Offset)
	if err != nil {
		return wikifs.KeyPage{}, &wikifs.BackendError{Backend: config.SQLiteBackend, Op: "keys", Key: r.Start, Err: err}
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return wikifs.KeyPage{}, &wikifs.BackendError{Backend: config.SQLiteBackend, Op: "keys", Key: r.Start, Err: err}
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return wikifs.KeyPage{}, &wikifs.BackendError{Backend: config.SQLiteBackend, Op: "keys", Key: r.Start, Err: err}
	}
	return wikifs.KeyPage{Keys: keys, Limit: b.limit}, nil
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) (*wikifs.Entry, error) {
	var (
		value []byte
		nanos int64
	)
	err := b.conn.QueryRowContext(ctx, sqliteGetSQL, key).Scan(&value, &nanos)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &wikifs.BackendError{Backend: config.SQLiteBackend, Op: "get", Key: key, Err: err}
	}
	if value == nil {
		value = []byte{}
	}
	return &wikifs.Entry{Value: value, Modified: time.Unix(0, nanos)}, nil
}

func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte) error {
	var err error
	if value == nil {
		_, err = b.conn.ExecContext(ctx, sqliteDelSQL, key)
	} else {
		_, err = b.conn.ExecContext(ctx, sqliteSetSQL, key, value, time.Now().UnixNano())
	}
	if err != nil {
		return &wikifs.BackendError{Backend: config.SQLiteBackend, Op: "set", Key: key, Err: err}
	}
	return nil
}
