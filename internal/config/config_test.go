package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HendryAvila/quizledger/internal/kv"
)

func envOf(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Backend != kv.KindSQLite {
		t.Errorf("Backend = %s, want sqlite", cfg.Backend)
	}
	if cfg.Capture.DebounceWindow != 300*time.Millisecond {
		t.Errorf("DebounceWindow = %v, want 300ms", cfg.Capture.DebounceWindow)
	}
	if cfg.Capture.SessionTimeout != 2*time.Hour {
		t.Errorf("SessionTimeout = %v, want 2h", cfg.Capture.SessionTimeout)
	}
	ec := cfg.EngineConfig()
	if ec.QuotaLimitBytes != 10<<20 || ec.QuotaWarnBytes != 8<<20 || ec.PendingLogCap != 50 {
		t.Errorf("EngineConfig = %+v", ec)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quizledger.yaml")
	doc := `
data_dir: ` + dir + `
backend: badger
extension_id: abcdef
page:
  url: https://quiz.example.com/t
  test_name: Final exam
capture:
  debounce_window: 150ms
  session_timeout: 90m
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != kv.KindBadger || cfg.ExtensionID != "abcdef" {
		t.Errorf("Backend/ExtensionID = %s/%s", cfg.Backend, cfg.ExtensionID)
	}
	if cfg.Page.TestName != "Final exam" {
		t.Errorf("TestName = %q, want Final exam", cfg.Page.TestName)
	}
	if cfg.Capture.DebounceWindow != 150*time.Millisecond {
		t.Errorf("DebounceWindow = %v, want 150ms", cfg.Capture.DebounceWindow)
	}
	if cfg.Capture.SessionTimeout != 90*time.Minute {
		t.Errorf("SessionTimeout = %v, want 90m", cfg.Capture.SessionTimeout)
	}
	// Unset fields keep defaults.
	if cfg.Capture.PendingLogCap != 50 {
		t.Errorf("PendingLogCap = %d, want 50", cfg.Capture.PendingLogCap)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != Default().Backend {
		t.Errorf("Backend = %s, want default", cfg.Backend)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("backend: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load of malformed YAML succeeded")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, envOf(map[string]string{
		"QUIZLEDGER_BACKEND":          "file",
		"QUIZLEDGER_DEBOUNCE_WINDOW":  "1s",
		"QUIZLEDGER_QUOTA_WARN_BYTES": "1024",
		"QUIZLEDGER_SYNC_WRITES":      "true",
		"QUIZLEDGER_PAGE_URL":         "https://q.example.com/x",
		"QUIZLEDGER_LOG_LEVEL":        "",

		"QUIZLEDGER_PENDING_LOG_CAP":        "20",
		"QUIZLEDGER_FLUSH_TIMEOUT":          "250ms",
		"QUIZLEDGER_MIGRATION_ADVICE_BYTES": "4096",
	}))
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Backend != kv.KindFile {
		t.Errorf("Backend = %s, want file", cfg.Backend)
	}
	if cfg.Capture.DebounceWindow != time.Second {
		t.Errorf("DebounceWindow = %v, want 1s", cfg.Capture.DebounceWindow)
	}
	if cfg.Capture.QuotaWarnBytes != 1024 {
		t.Errorf("QuotaWarnBytes = %d, want 1024", cfg.Capture.QuotaWarnBytes)
	}
	if !cfg.SyncWrites {
		t.Error("SyncWrites = false, want true")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("empty env var overrode Log.Level to %q", cfg.Log.Level)
	}
	if cfg.Capture.PendingLogCap != 20 {
		t.Errorf("PendingLogCap = %d, want 20", cfg.Capture.PendingLogCap)
	}
	if cfg.Capture.FlushTimeout != 250*time.Millisecond {
		t.Errorf("FlushTimeout = %v, want 250ms", cfg.Capture.FlushTimeout)
	}
	if cfg.Capture.MigrationAdviceBytes != 4096 {
		t.Errorf("MigrationAdviceBytes = %d, want 4096", cfg.Capture.MigrationAdviceBytes)
	}
}

func TestApplyEnv_BadValues(t *testing.T) {
	tests := map[string]string{
		"QUIZLEDGER_SYNC_WRITES":       "perhaps",
		"QUIZLEDGER_SESSION_TIMEOUT":   "two hours",
		"QUIZLEDGER_QUOTA_LIMIT_BYTES": "ten megs",
		"QUIZLEDGER_PENDING_LOG_CAP":   "fifty",
		"QUIZLEDGER_FLUSH_TIMEOUT":     "soon",
	}
	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			err := applyEnv(&cfg, envOf(map[string]string{name: value}))
			if err == nil || !strings.Contains(err.Error(), name) {
				t.Errorf("applyEnv error = %v, want one naming %s", err, name)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown backend", func(c *Config) { c.Backend = "postgres" }, false},
		{"unknown session backend", func(c *Config) { c.SessionBackend = "redis" }, false},
		{"no data dir", func(c *Config) { c.DataDir = "" }, false},
		{"no data dir, all memory", func(c *Config) {
			c.DataDir = ""
			c.Backend = kv.KindMemory
			c.SessionBackend = kv.KindMemory
		}, true},
		{"zero debounce", func(c *Config) { c.Capture.DebounceWindow = 0 }, false},
		{"zero pending cap", func(c *Config) { c.Capture.PendingLogCap = 0 }, false},
		{"warn above limit", func(c *Config) { c.Capture.QuotaWarnBytes = c.Capture.QuotaLimitBytes + 1 }, false},
		{"zero migration advice", func(c *Config) { c.Capture.MigrationAdviceBytes = 0 }, false},
		{"migration advice above limit", func(c *Config) { c.Capture.MigrationAdviceBytes = c.Capture.QuotaLimitBytes + 1 }, false},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, false},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Log = LogConfig{Level: "warn", Format: "json"}
	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line written at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("output = %q, want a JSON warn line", out)
	}
}

func TestBackendOptions(t *testing.T) {
	cfg := Default()
	cfg.SyncWrites = true
	o := cfg.BackendOptions(kv.KindBadger, "local", nil)
	if o.Kind != kv.KindBadger || o.Area != "local" || o.Dir != cfg.DataDir || !o.SyncWrites {
		t.Errorf("BackendOptions = %+v", o)
	}
}
