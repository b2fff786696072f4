package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig holds configuration for a Badger-backed area.
type BadgerConfig struct {
	// Path is the directory for Badger files. Ignored when InMemory is true.
	Path string

	// Area namespaces keys so several areas can share one directory.
	Area string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives Badger's internal logs. If nil, they are discarded.
	Logger *slog.Logger
}

// Badger stores documents in an embedded Badger database.
type Badger struct {
	db     *badger.DB
	prefix []byte
	closed atomic.Bool
	shared *sharedBadger
}

// Badger holds an exclusive directory lock, so areas configured with the
// same path share one *badger.DB and close it with the last user.
type sharedBadger struct {
	db   *badger.DB
	refs int
}

var (
	badgerMu   sync.Mutex
	badgerOpen = map[string]*sharedBadger{}
)

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewBadger opens the Badger database for cfg.Area, creating the
// directory if it doesn't exist.
func NewBadger(cfg BadgerConfig) (*Badger, error) {
	if cfg.Area == "" {
		return nil, errors.New("kv: badger area is required")
	}
	if cfg.InMemory {
		db, err := openBadger(cfg)
		if err != nil {
			return nil, err
		}
		return &Badger{db: db, prefix: []byte(cfg.Area + "/")}, nil
	}
	if cfg.Path == "" {
		return nil, errors.New("kv: badger path is required for persistent database")
	}

	badgerMu.Lock()
	defer badgerMu.Unlock()
	shared, ok := badgerOpen[cfg.Path]
	if !ok {
		db, err := openBadger(cfg)
		if err != nil {
			return nil, err
		}
		shared = &sharedBadger{db: db}
		badgerOpen[cfg.Path] = shared
	}
	shared.refs++
	return &Badger{db: shared.db, prefix: []byte(cfg.Area + "/"), shared: shared}, nil
}

func openBadger(cfg BadgerConfig) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("kv: create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv: open badger database: %w", err)
	}
	return db, nil
}

func (b *Badger) Name() string { return KindBadger + ":" + strings.TrimSuffix(string(b.prefix), "/") }

func (b *Badger) key(k string) []byte {
	out := make([]byte, 0, len(b.prefix)+len(k))
	return append(append(out, b.prefix...), k...)
}

func (b *Badger) check(ctx context.Context) error {
	if b.closed.Load() {
		return ErrContextInvalidated
	}
	return ctx.Err()
}

func mapBadgerErr(err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("%w: %v", ErrContextInvalidated, err)
	}
	return err
}

func (b *Badger) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(keys))
	err := b.db.View(func(txn *badger.Txn) error {
		if len(keys) == 0 {
			return b.each(txn, func(k string, item *badger.Item) error {
				v, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				out[k] = v
				return nil
			})
		}
		for _, k := range keys {
			item, err := txn.Get(b.key(k))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[k] = v
		}
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return out, nil
}

func (b *Badger) Set(ctx context.Context, items map[string]json.RawMessage) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	return mapBadgerErr(b.db.Update(func(txn *badger.Txn) error {
		for k, v := range items {
			if err := txn.Set(b.key(k), clone(v)); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (b *Badger) Remove(ctx context.Context, keys ...string) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	return mapBadgerErr(b.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(b.key(k)); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (b *Badger) BytesInUse(ctx context.Context, keys ...string) (int64, error) {
	if err := b.check(ctx); err != nil {
		return 0, err
	}
	var total int64
	err := b.db.View(func(txn *badger.Txn) error {
		if len(keys) == 0 {
			return b.each(txn, func(k string, item *badger.Item) error {
				total += int64(len(k)) + item.ValueSize()
				return nil
			})
		}
		for _, k := range keys {
			item, err := txn.Get(b.key(k))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			total += int64(len(k)) + item.ValueSize()
		}
		return nil
	})
	if err != nil {
		return 0, mapBadgerErr(err)
	}
	return total, nil
}

// each visits every key of this area.
func (b *Badger) each(txn *badger.Txn, fn func(k string, item *badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = b.prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(b.prefix); it.ValidForPrefix(b.prefix); it.Next() {
		item := it.Item()
		if err := fn(string(item.Key()[len(b.prefix):]), item); err != nil {
			return err
		}
	}
	return nil
}

// Close releases this area. The database closes with its last area.
func (b *Badger) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	if b.shared == nil {
		return b.db.Close()
	}
	badgerMu.Lock()
	defer badgerMu.Unlock()
	b.shared.refs--
	if b.shared.refs > 0 {
		return nil
	}
	for path, s := range badgerOpen {
		if s == b.shared {
			delete(badgerOpen, path)
		}
	}
	return b.db.Close()
}
