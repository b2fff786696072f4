// Package kv defines the key-value document store the capture engine
// persists to, and the concrete backends behind it.
//
// A backend is one storage area (the browser's storage.local or
// storage.session). Values are JSON documents rewritten wholesale; there
// is no field-level update. Every backend reports ErrContextInvalidated
// once it has been closed or its owner has gone away, and callers must
// stop issuing calls when they see it.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
)

// ErrContextInvalidated means the hosting context is gone. It is a hard
// stop, never a transient failure.
var ErrContextInvalidated = errors.New("kv: context invalidated")

// Backend is an asynchronous-style key-value document store.
type Backend interface {
	// Name identifies the backend kind for stats and logs.
	Name() string
	// Get returns the documents stored under keys. Missing keys are
	// absent from the map, not errors.
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)
	// Set writes the items. Each key is replaced atomically. Memory,
	// SQLite and Badger also commit a multi-key Set as one unit; File
	// renames one document per key, so a failed multi-key Set may leave
	// some keys written.
	Set(ctx context.Context, items map[string]json.RawMessage) error
	// Remove deletes keys. Missing keys are ignored.
	Remove(ctx context.Context, keys ...string) error
	// BytesInUse reports len(key)+len(value) summed over keys, or over
	// the whole area when no keys are given.
	BytesInUse(ctx context.Context, keys ...string) (int64, error)
	Close() error
}

// Backend kinds accepted by Open.
const (
	KindMemory = "memory"
	KindFile   = "file"
	KindSQLite = "sqlite"
	KindBadger = "badger"
)

// Options selects and configures a backend for Open.
type Options struct {
	Kind       string
	Dir        string // data directory; unused for memory
	Area       string // storage area, e.g. "local" or "session"
	SyncWrites bool
	Logger     *slog.Logger
}

// Open creates the backend described by o.
func Open(o Options) (Backend, error) {
	if o.Area == "" {
		return nil, errors.New("kv: area is required")
	}
	switch o.Kind {
	case KindMemory:
		return NewMemory(o.Area), nil
	case KindFile:
		return NewFile(filepath.Join(o.Dir, o.Area))
	case KindSQLite:
		return NewSQLite(SQLiteConfig{
			Path: filepath.Join(o.Dir, "quizledger.db"),
			Area: o.Area,
		})
	case KindBadger:
		return NewBadger(BadgerConfig{
			Path:       filepath.Join(o.Dir, "badger"),
			Area:       o.Area,
			SyncWrites: o.SyncWrites,
			Logger:     o.Logger,
		})
	default:
		return nil, fmt.Errorf("kv: unknown backend kind %q", o.Kind)
	}
}

// GetJSON decodes the document under key into dst. It reports false
// when the key is absent.
func GetJSON(ctx context.Context, b Backend, key string, dst any) (bool, error) {
	items, err := b.Get(ctx, key)
	if err != nil {
		return false, err
	}
	raw, ok := items[key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("kv: decode %q: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, b Backend, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %q: %w", key, err)
	}
	return b.Set(ctx, map[string]json.RawMessage{key: raw})
}

// Copy moves the documents under keys from one backend to another and
// returns how many were copied. Absent keys are skipped.
func Copy(ctx context.Context, from, to Backend, keys ...string) (int, error) {
	items, err := from.Get(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("kv: copy read from %s: %w", from.Name(), err)
	}
	if len(items) == 0 {
		return 0, nil
	}
	if err := to.Set(ctx, items); err != nil {
		return 0, fmt.Errorf("kv: copy write to %s: %w", to.Name(), err)
	}
	return len(items), nil
}

func clone(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
