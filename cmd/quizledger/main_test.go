package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HendryAvila/quizledger/internal/capture"
	"github.com/HendryAvila/quizledger/internal/engine"
	"github.com/HendryAvila/quizledger/internal/kv"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, dataDir, backendKind = "", "", ""
	migrateTo, migrateDir, metricsAddr = kv.KindBadger, "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func seedSessions(t *testing.T, dir string) {
	t.Helper()
	b, err := kv.NewSQLite(kv.SQLiteConfig{Path: filepath.Join(dir, "quizledger.db"), Area: "local"})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	sessions := []capture.SessionRecord{{
		ID: "s1", TestName: "Seeded", URL: "https://q.example.com/a", StartTime: time.Now(),
		Questions: []capture.QuestionRecord{{QuestionNumber: 1, IsCorrect: capture.Verdict(true), Timestamp: time.Now()}},
	}}
	if err := kv.SetJSON(context.Background(), b, engine.SessionsKey, sessions); err != nil {
		t.Fatal(err)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "quizledger v") {
		t.Errorf("output = %q", out)
	}
}

func TestSessionsAndStats(t *testing.T) {
	dir := t.TempDir()
	seedSessions(t, dir)

	out, err := execute(t, "sessions", "--data-dir", dir)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if !strings.Contains(out, `"testName": "Seeded"`) || !strings.Contains(out, `"statsCache"`) {
		t.Errorf("sessions output = %s", out)
	}

	out, err = execute(t, "stats", "--data-dir", dir)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "**Success rate**: 100%") {
		t.Errorf("stats output = %s", out)
	}
}

func TestRecover_Empty(t *testing.T) {
	out, err := execute(t, "recover", "--data-dir", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Recovered 0") {
		t.Errorf("output = %q", out)
	}
}

func TestMigrate(t *testing.T) {
	dir := t.TempDir()
	seedSessions(t, dir)

	out, err := execute(t, "migrate", "--data-dir", dir, "--to", "badger")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "badger:local") {
		t.Errorf("output = %q", out)
	}

	out, err = execute(t, "sessions", "--data-dir", dir, "--backend", "badger")
	if err != nil {
		t.Fatalf("sessions on badger: %v", err)
	}
	if !strings.Contains(out, `"id": "s1"`) {
		t.Errorf("migrated sessions = %s", out)
	}
}

func TestMigrate_SameBackend(t *testing.T) {
	if _, err := execute(t, "migrate", "--data-dir", t.TempDir(), "--to", "sqlite"); err == nil {
		t.Error("migrate onto the current backend succeeded")
	}
}
