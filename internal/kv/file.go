package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// File stores each key as <dir>/<key>.json. Writes go to a .tmp file
// that is renamed into place so readers never see a partial document.
type File struct {
	dir    string
	mu     sync.Mutex
	closed atomic.Bool
}

// NewFile creates a file backend rooted at dir, creating it if needed.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("kv: creating file store directory: %w", err)
	}
	return &File{dir: dir}, nil
}

func (f *File) Name() string { return KindFile + ":" + filepath.Base(f.dir) }

func (f *File) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("kv: invalid key %q", key)
	}
	return filepath.Join(f.dir, key+".json"), nil
}

func (f *File) check(ctx context.Context) error {
	if f.closed.Load() {
		return ErrContextInvalidated
	}
	return ctx.Err()
}

func (f *File) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(keys) == 0 {
		var err error
		if keys, err = f.keys(); err != nil {
			return nil, err
		}
	}
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		p, err := f.path(k)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("kv: reading %q: %w", k, err)
		}
		out[k] = data
	}
	return out, nil
}

func (f *File) Set(ctx context.Context, items map[string]json.RawMessage) error {
	if err := f.check(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for k, v := range items {
		p, err := f.path(k)
		if err != nil {
			return err
		}
		tmp := p + ".tmp"
		if err := os.WriteFile(tmp, v, 0o644); err != nil {
			return fmt.Errorf("kv: writing %q: %w", k, err)
		}
		if err := os.Rename(tmp, p); err != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("kv: renaming %q: %w", k, err)
		}
	}
	return nil
}

func (f *File) Remove(ctx context.Context, keys ...string) error {
	if err := f.check(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, k := range keys {
		p, err := f.path(k)
		if err != nil {
			return err
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("kv: removing %q: %w", k, err)
		}
	}
	return nil
}

func (f *File) BytesInUse(ctx context.Context, keys ...string) (int64, error) {
	if err := f.check(ctx); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(keys) == 0 {
		var err error
		if keys, err = f.keys(); err != nil {
			return 0, err
		}
	}
	var total int64
	for _, k := range keys {
		p, err := f.path(k)
		if err != nil {
			return 0, err
		}
		info, err := os.Stat(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("kv: stat %q: %w", k, err)
		}
		total += int64(len(k)) + info.Size()
	}
	return total, nil
}

func (f *File) Close() error {
	f.closed.Store(true)
	return nil
}

// keys lists stored keys. Caller holds f.mu.
func (f *File) keys() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("kv: reading file store directory: %w", err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	return keys, nil
}
