package adapters

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/brettbedarf/wikifs"
	"github.com/brettbedarf/wikifs/config"
	"github.com/brettbedarf/wikifs/internal/util"
	"github.com/dgraph-io/badger/v3"
)

// BadgerOptions configures the embedded badger backend
type BadgerOptions struct {
	Dir       string `json:"dir"`
	InMemory  bool   `json:"in_memory,omitempty"`
	PageLimit int    `json:"page_limit"`
}

// BadgerProvider owns the badger database shared by all its backends
type BadgerProvider struct {
	opts BadgerOptions
	db   *badger.DB
}

func newBadgerProvider(raw []byte) (wikifs.BackendProvider, error) {
	var opts BadgerOptions
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, err
	}
	return NewBadgerProvider(opts)
}

// NewBadgerProvider opens (creating if needed) the database at opts.Dir
func NewBadgerProvider(opts BadgerOptions) (*BadgerProvider, error) {
	if opts.Dir == "" && !opts.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	} else if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, &wikifs.BackendError{Backend: config.BadgerBackend, Op: "open", Err: err}
	}

	db, err := badger.Open(dbOpts.WithLogger(newBadgerLogger()))
	if err != nil {
		return nil, &wikifs.BackendError{Backend: config.BadgerBackend, Op: "open", Err: err}
	}
	return &BadgerProvider{opts: opts, db: db}, nil
}

func (p *BadgerProvider) NewBackend() (wikifs.Backend, error) {
	return &BadgerBackend{db: p.db, limit: p.opts.PageLimit}, nil
}

// Close closes the database. Backends created by p are unusable afterwards.
func (p *BadgerProvider) Close() error {
	return p.db.Close()
}

// BadgerBackend implements [wikifs.Backend] on badger. Values are stored with
// an 8 byte big endian unix nano modification time in front of the payload.
type BadgerBackend struct {
	db    *badger.DB
	limit int
}

var _ wikifs.Backend = (*BadgerBackend)(nil)

const badgerHeaderLen = 8

func (b *BadgerBackend) Open(ctx context.Context, creds wikifs.Credentials) error {
	return nil
}

// Close is a no-op; the provider owns the database
func (b *BadgerBackend) Close() error {
	return nil
}

func (b *BadgerBackend) Keys(ctx context.Context, r wikifs.KeyRange) (wikifs.KeyPage, error) {
	keys := []string{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		end := []byte(r.End)
		skipped := 0
		for it.Seek([]byte(r.Start)); it.Valid(); it.Next() {
			k := it.Item().Key()
			if string(k) >= string(end) {
				break
			}
			if skipped < r.Offset {
				skipped++
				continue
			}
			if b.limit > 0 && len(keys) >= b.limit {
				break
			}
			keys = append(keys, string(k))
		}
		return ctx.Err()
	})
	if err != nil {
		return wikifs.KeyPage{}, &wikifs.BackendError{Backend: config.BadgerBackend, Op: "keys", Key: r.Start, Err: err}
	}
	return wikifs.KeyPage{Keys: keys, Limit: b.limit}, nil
}

func (b *BadgerBackend) Get(ctx context.Context, key string) (*wikifs.Entry, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &wikifs.BackendError{Backend: config.BadgerBackend, Op: "get", Key: key, Err: err}
	}
	return decodeBadgerValue(raw)
}

func (b *BadgerBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		if value == nil {
			return txn.Delete([]byte(key))
		}
		return txn.Set([]byte(key), encodeBadgerValue(value, time.Now()))
	})
	if err != nil {
		return &wikifs.BackendError{Backend: config.BadgerBackend, Op: "set", Key: key, Err: err}
	}
	return nil
}

func encodeBadgerValue(value []byte, modified time.Time) []byte {
	buf := make([]byte, badgerHeaderLen+len(value))
	binary.BigEndian.PutUint64(buf, uint64(modified.UnixNano()))
	copy(buf[badgerHeaderLen:], value)
	return buf
}

func decodeBadgerValue(raw []byte) (*wikifs.Entry, error) {
	if len(raw) < badgerHeaderLen {
		return nil, fmt.Errorf("badger: corrupt value of %d bytes", len(raw))
	}
	nanos := int64(binary.BigEndian.Uint64(raw))
	return &wikifs.Entry{
		Value:    raw[badgerHeaderLen:],
		Modified: time.Unix(0, nanos),
	}, nil
}

// badgerLogger adapts the component logger to badger.Logger
type badgerLogger struct {
	logger util.Logger
}

func newBadgerLogger() badger.Logger {
	return &badgerLogger{logger: util.GetLogger("Badger")}
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Trace().Msgf(format, args...)
}
