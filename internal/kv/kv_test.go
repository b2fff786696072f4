package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// ─── Conformance suite ───────────────────────────────────────────────────────

type backendFactory func(t *testing.T) Backend

func factories() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T) Backend {
			return NewMemory("local")
		},
		"file": func(t *testing.T) Backend {
			b, err := NewFile(filepath.Join(t.TempDir(), "local"))
			if err != nil {
				t.Fatalf("NewFile: %v", err)
			}
			return b
		},
		"sqlite": func(t *testing.T) Backend {
			b, err := NewSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "kv.db"), Area: "local"})
			if err != nil {
				t.Fatalf("NewSQLite: %v", err)
			}
			return b
		},
		"badger": func(t *testing.T) Backend {
			b, err := NewBadger(BadgerConfig{InMemory: true, Area: "local"})
			if err != nil {
				t.Fatalf("NewBadger: %v", err)
			}
			return b
		},
	}
}

func TestBackends_Conformance(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := factory(t)
			t.Cleanup(func() { _ = b.Close() })

			// Empty reads.
			got, err := b.Get(ctx, "testSessions")
			if err != nil {
				t.Fatalf("Get on empty: %v", err)
			}
			if len(got) != 0 {
				t.Errorf("Get on empty returned %d items", len(got))
			}
			n, err := b.BytesInUse(ctx)
			if err != nil {
				t.Fatalf("BytesInUse on empty: %v", err)
			}
			if n != 0 {
				t.Errorf("BytesInUse on empty = %d, want 0", n)
			}

			// Set / Get round trip.
			doc := json.RawMessage(`[{"id":"s1"}]`)
			if err := b.Set(ctx, map[string]json.RawMessage{"testSessions": doc, "other": json.RawMessage(`1`)}); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err = b.Get(ctx, "testSessions", "missing")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got["testSessions"]) != string(doc) {
				t.Errorf("Get = %s, want %s", got["testSessions"], doc)
			}
			if _, ok := got["missing"]; ok {
				t.Error("missing key should be absent")
			}

			all, err := b.Get(ctx)
			if err != nil {
				t.Fatalf("Get all: %v", err)
			}
			if len(all) != 2 {
				t.Errorf("Get all returned %d items, want 2", len(all))
			}

			// Byte accounting.
			want := int64(len("testSessions") + len(doc))
			n, err = b.BytesInUse(ctx, "testSessions")
			if err != nil {
				t.Fatalf("BytesInUse: %v", err)
			}
			if n != want {
				t.Errorf("BytesInUse(testSessions) = %d, want %d", n, want)
			}
			n, err = b.BytesInUse(ctx)
			if err != nil {
				t.Fatalf("BytesInUse all: %v", err)
			}
			if n != want+int64(len("other")+1) {
				t.Errorf("BytesInUse() = %d, want %d", n, want+int64(len("other")+1))
			}

			// Overwrite replaces wholesale.
			if err := b.Set(ctx, map[string]json.RawMessage{"testSessions": json.RawMessage(`[]`)}); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			got, _ = b.Get(ctx, "testSessions")
			if string(got["testSessions"]) != "[]" {
				t.Errorf("after overwrite = %s, want []", got["testSessions"])
			}

			// Remove.
			if err := b.Remove(ctx, "testSessions", "never-existed"); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			got, _ = b.Get(ctx, "testSessions")
			if len(got) != 0 {
				t.Error("key should be gone after Remove")
			}

			// Closed backends report invalidation.
			if err := b.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if _, err := b.Get(ctx, "other"); !errors.Is(err, ErrContextInvalidated) {
				t.Errorf("Get after Close error = %v, want ErrContextInvalidated", err)
			}
			if err := b.Set(ctx, map[string]json.RawMessage{"x": json.RawMessage(`1`)}); !errors.Is(err, ErrContextInvalidated) {
				t.Errorf("Set after Close error = %v, want ErrContextInvalidated", err)
			}
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	b := NewMemory("local")

	var out []string
	found, err := GetJSON(ctx, b, "list", &out)
	if err != nil || found {
		t.Fatalf("GetJSON on empty = (%v, %v), want (false, nil)", found, err)
	}

	if err := SetJSON(ctx, b, "list", []string{"a", "b"}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	found, err = GetJSON(ctx, b, "list", &out)
	if err != nil || !found {
		t.Fatalf("GetJSON = (%v, %v), want (true, nil)", found, err)
	}
	if len(out) != 2 || out[1] != "b" {
		t.Errorf("decoded = %v, want [a b]", out)
	}

	_ = b.Set(ctx, map[string]json.RawMessage{"bad": json.RawMessage(`{`)})
	if _, err := GetJSON(ctx, b, "bad", &out); err == nil {
		t.Error("expected decode error for malformed document")
	}
}

func TestCopy(t *testing.T) {
	ctx := context.Background()
	from := NewMemory("local")
	to, err := NewSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "kv.db"), Area: "local"})
	if err != nil {
		t.Fatal(err)
	}
	defer to.Close()

	n, err := Copy(ctx, from, to, "testSessions")
	if err != nil || n != 0 {
		t.Fatalf("Copy of empty = (%d, %v), want (0, nil)", n, err)
	}

	_ = SetJSON(ctx, from, "testSessions", []map[string]string{{"id": "s1"}})
	n, err = Copy(ctx, from, to, "testSessions")
	if err != nil || n != 1 {
		t.Fatalf("Copy = (%d, %v), want (1, nil)", n, err)
	}
	got, _ := to.Get(ctx, "testSessions")
	if string(got["testSessions"]) != `[{"id":"s1"}]` {
		t.Errorf("copied value = %s", got["testSessions"])
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	for _, kind := range []string{KindMemory, KindFile, KindSQLite, KindBadger} {
		b, err := Open(Options{Kind: kind, Dir: dir, Area: "local"})
		if err != nil {
			t.Fatalf("Open(%s): %v", kind, err)
		}
		if err := b.Close(); err != nil {
			t.Errorf("Close(%s): %v", kind, err)
		}
	}
	if _, err := Open(Options{Kind: "indexeddb", Dir: dir, Area: "local"}); err == nil {
		t.Error("unknown kind should fail")
	}
	if _, err := Open(Options{Kind: KindMemory}); err == nil {
		t.Error("missing area should fail")
	}
}

// ─── Memory fake ─────────────────────────────────────────────────────────────

func TestMemory_Faults(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("local")
	boom := errors.New("quota api unavailable")

	m.SetFault(OpBytesInUse, boom)
	if _, err := m.BytesInUse(ctx); !errors.Is(err, boom) {
		t.Errorf("BytesInUse error = %v, want %v", err, boom)
	}
	m.SetFault(OpBytesInUse, nil)
	if _, err := m.BytesInUse(ctx); err != nil {
		t.Errorf("BytesInUse after clearing fault: %v", err)
	}

	m.SetUsage(9 << 20)
	if n, _ := m.BytesInUse(ctx); n != 9<<20 {
		t.Errorf("BytesInUse with override = %d, want %d", n, 9<<20)
	}

	m.Invalidate()
	if err := m.Remove(ctx, "x"); !errors.Is(err, ErrContextInvalidated) {
		t.Errorf("Remove after Invalidate = %v, want ErrContextInvalidated", err)
	}
}

func TestMemory_GetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("local")
	_ = m.Set(ctx, map[string]json.RawMessage{"k": json.RawMessage(`"abc"`)})

	got, _ := m.Get(ctx, "k")
	got["k"][1] = 'X'

	again, _ := m.Get(ctx, "k")
	if string(again["k"]) != `"abc"` {
		t.Errorf("stored value was mutated through Get result: %s", again["k"])
	}
	if m.Sets() != 1 {
		t.Errorf("Sets = %d, want 1", m.Sets())
	}
}

// ─── SQLite ──────────────────────────────────────────────────────────────────

func TestSQLite_AreasAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")
	local, err := NewSQLite(SQLiteConfig{Path: path, Area: "local"})
	if err != nil {
		t.Fatal(err)
	}
	defer local.Close()
	session, err := NewSQLite(SQLiteConfig{Path: path, Area: "session"})
	if err != nil {
		t.Fatal(err)
	}
	defer session.Close()

	_ = local.Set(ctx, map[string]json.RawMessage{"k": json.RawMessage(`"local"`)})
	_ = session.Set(ctx, map[string]json.RawMessage{"k": json.RawMessage(`"session"`)})

	l, _ := local.Get(ctx, "k")
	s, _ := session.Get(ctx, "k")
	if string(l["k"]) != `"local"` || string(s["k"]) != `"session"` {
		t.Errorf("areas leaked: local=%s session=%s", l["k"], s["k"])
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := SQLiteConfig{Path: filepath.Join(t.TempDir(), "kv.db"), Area: "local"}

	s1, err := NewSQLite(cfg)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := SetJSON(ctx, s1, "testSessions", []string{"a"}); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := NewSQLite(cfg)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()
	var out []string
	if found, err := GetJSON(ctx, s2, "testSessions", &out); err != nil || !found {
		t.Fatalf("GetJSON after reopen = (%v, %v)", found, err)
	}
}

func TestSQLite_SetRollsBackOnCommitFailure(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "kv.db"), Area: "local"})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	boom := errors.New("disk I/O error")
	s.hooks.commit = func(tx *sql.Tx) error {
		_ = tx.Rollback()
		return boom
	}
	if err := s.Set(ctx, map[string]json.RawMessage{"k": json.RawMessage(`1`)}); !errors.Is(err, boom) {
		t.Fatalf("Set error = %v, want %v", err, boom)
	}
	s.hooks.commit = nil

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Error("failed commit must not leave data behind")
	}
}

func TestNewSQLite_OpenError(t *testing.T) {
	orig := openDB
	t.Cleanup(func() { openDB = orig })
	openDB = func(driverName, dataSourceName string) (*sql.DB, error) {
		return nil, errors.New("driver missing")
	}
	if _, err := NewSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "kv.db"), Area: "local"}); err == nil {
		t.Fatal("expected open error")
	}
}

// ─── File ────────────────────────────────────────────────────────────────────

func TestFile_ReplacesKeyWithoutTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "local")
	f, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	for _, v := range []string{`1`, `2`} {
		if err := f.Set(ctx, map[string]json.RawMessage{"k": json.RawMessage(v)}); err != nil {
			t.Fatalf("Set(%s): %v", v, err)
		}
	}
	got, err := f.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got["k"]) != `2` {
		t.Errorf("k = %s, want 2", got["k"])
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "k.json" {
		t.Errorf("directory holds %v, want only k.json", entries)
	}
}

// ─── Badger ──────────────────────────────────────────────────────────────────

func TestBadger_SharedDirectory(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "badger")
	local, err := NewBadger(BadgerConfig{Path: dir, Area: "local"})
	if err != nil {
		t.Fatal(err)
	}
	session, err := NewBadger(BadgerConfig{Path: dir, Area: "session"})
	if err != nil {
		t.Fatalf("second area on same dir: %v", err)
	}

	_ = local.Set(ctx, map[string]json.RawMessage{"k": json.RawMessage(`1`)})
	got, _ := session.Get(ctx, "k")
	if len(got) != 0 {
		t.Error("session area should not see local keys")
	}

	if err := local.Close(); err != nil {
		t.Fatal(err)
	}
	// The session area keeps working until it is closed too.
	if err := session.Set(ctx, map[string]json.RawMessage{"p": json.RawMessage(`[]`)}); err != nil {
		t.Errorf("session Set after local Close: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewBadger(BadgerConfig{Path: dir, Area: "local"})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, _ = reopened.Get(ctx, "k")
	if string(got["k"]) != "1" {
		t.Errorf("value after reopen = %s, want 1", got["k"])
	}
}
