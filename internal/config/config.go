// Package config loads quizledger settings: defaults, then an optional
// YAML file, then QUIZLEDGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/quizledger/internal/engine"
	"github.com/HendryAvila/quizledger/internal/kv"
)

// Config is the full process configuration.
type Config struct {
	DataDir        string `yaml:"data_dir"`
	Backend        string `yaml:"backend"`         // local area: sqlite, badger, file, memory
	SessionBackend string `yaml:"session_backend"` // session area, holds the pending-write log
	SyncWrites     bool   `yaml:"sync_writes"`

	// ExtensionID is the only sender the message router answers.
	ExtensionID string `yaml:"extension_id"`

	Page    PageConfig    `yaml:"page"`
	Capture CaptureConfig `yaml:"capture"`
	Log     LogConfig     `yaml:"log"`

	MetricsAddr string `yaml:"metrics_addr"`
}

// PageConfig names the quiz page a serve process captures for.
type PageConfig struct {
	URL      string `yaml:"url"`
	TestName string `yaml:"test_name"`
}

// CaptureConfig holds the engine tunables.
type CaptureConfig struct {
	DebounceWindow       time.Duration `yaml:"debounce_window"`
	SessionTimeout       time.Duration `yaml:"session_timeout"`
	PendingLogCap        int           `yaml:"pending_log_cap"`
	QuotaWarnBytes       int64         `yaml:"quota_warn_bytes"`
	QuotaLimitBytes      int64         `yaml:"quota_limit_bytes"`
	MigrationAdviceBytes int64         `yaml:"migration_advice_bytes"`
	FlushTimeout         time.Duration `yaml:"flush_timeout"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	ec := engine.DefaultConfig()
	return Config{
		DataDir:        filepath.Join(home, ".quizledger"),
		Backend:        kv.KindSQLite,
		SessionBackend: kv.KindFile,
		Capture: CaptureConfig{
			DebounceWindow:       ec.DebounceWindow,
			SessionTimeout:       ec.SessionTimeout,
			PendingLogCap:        ec.PendingLogCap,
			QuotaWarnBytes:       ec.QuotaWarnBytes,
			QuotaLimitBytes:      ec.QuotaLimitBytes,
			MigrationAdviceBytes: ec.MigrationAdviceBytes,
			FlushTimeout:         ec.FlushTimeout,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates. A missing file is not an error; an empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	str("QUIZLEDGER_DATA_DIR", &cfg.DataDir)
	str("QUIZLEDGER_BACKEND", &cfg.Backend)
	str("QUIZLEDGER_SESSION_BACKEND", &cfg.SessionBackend)
	str("QUIZLEDGER_EXTENSION_ID", &cfg.ExtensionID)
	str("QUIZLEDGER_PAGE_URL", &cfg.Page.URL)
	str("QUIZLEDGER_TEST_NAME", &cfg.Page.TestName)
	str("QUIZLEDGER_LOG_LEVEL", &cfg.Log.Level)
	str("QUIZLEDGER_LOG_FORMAT", &cfg.Log.Format)
	str("QUIZLEDGER_METRICS_ADDR", &cfg.MetricsAddr)

	if v, ok := lookup("QUIZLEDGER_SYNC_WRITES"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: QUIZLEDGER_SYNC_WRITES: %w", err)
		}
		cfg.SyncWrites = b
	}
	for name, dst := range map[string]*time.Duration{
		"QUIZLEDGER_DEBOUNCE_WINDOW": &cfg.Capture.DebounceWindow,
		"QUIZLEDGER_SESSION_TIMEOUT": &cfg.Capture.SessionTimeout,
		"QUIZLEDGER_FLUSH_TIMEOUT":   &cfg.Capture.FlushTimeout,
	} {
		if v, ok := lookup(name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", name, err)
			}
			*dst = d
		}
	}
	for name, dst := range map[string]*int64{
		"QUIZLEDGER_QUOTA_WARN_BYTES":       &cfg.Capture.QuotaWarnBytes,
		"QUIZLEDGER_QUOTA_LIMIT_BYTES":      &cfg.Capture.QuotaLimitBytes,
		"QUIZLEDGER_MIGRATION_ADVICE_BYTES": &cfg.Capture.MigrationAdviceBytes,
	} {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("config: %s: %w", name, err)
			}
			*dst = n
		}
	}
	if v, ok := lookup("QUIZLEDGER_PENDING_LOG_CAP"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: QUIZLEDGER_PENDING_LOG_CAP: %w", err)
		}
		cfg.Capture.PendingLogCap = n
	}
	return nil
}

var backendKinds = []string{kv.KindMemory, kv.KindFile, kv.KindSQLite, kv.KindBadger}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if !validKind(c.Backend) {
		return fmt.Errorf("config: backend %q must be one of %s", c.Backend, strings.Join(backendKinds, ", "))
	}
	if !validKind(c.SessionBackend) {
		return fmt.Errorf("config: session_backend %q must be one of %s", c.SessionBackend, strings.Join(backendKinds, ", "))
	}
	if c.DataDir == "" && (c.Backend != kv.KindMemory || c.SessionBackend != kv.KindMemory) {
		return errors.New("config: data_dir is required for persistent backends")
	}
	cc := c.Capture
	if cc.DebounceWindow <= 0 || cc.SessionTimeout <= 0 || cc.FlushTimeout <= 0 {
		return errors.New("config: capture durations must be positive")
	}
	if cc.PendingLogCap < 1 {
		return fmt.Errorf("config: pending_log_cap = %d, must be at least 1", cc.PendingLogCap)
	}
	if cc.QuotaWarnBytes <= 0 || cc.QuotaWarnBytes > cc.QuotaLimitBytes {
		return fmt.Errorf("config: quota_warn_bytes (%d) must be positive and not above quota_limit_bytes (%d)",
			cc.QuotaWarnBytes, cc.QuotaLimitBytes)
	}
	if cc.MigrationAdviceBytes <= 0 || cc.MigrationAdviceBytes > cc.QuotaLimitBytes {
		return fmt.Errorf("config: migration_advice_bytes (%d) must be positive and not above quota_limit_bytes (%d)",
			cc.MigrationAdviceBytes, cc.QuotaLimitBytes)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("config: log format %q must be text or json", c.Log.Format)
	}
	return nil
}

func validKind(k string) bool {
	return slices.Contains(backendKinds, k)
}

// EngineConfig maps the capture section onto engine.Config.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		DebounceWindow:       c.Capture.DebounceWindow,
		SessionTimeout:       c.Capture.SessionTimeout,
		PendingLogCap:        c.Capture.PendingLogCap,
		QuotaWarnBytes:       c.Capture.QuotaWarnBytes,
		QuotaLimitBytes:      c.Capture.QuotaLimitBytes,
		MigrationAdviceBytes: c.Capture.MigrationAdviceBytes,
		FlushTimeout:         c.Capture.FlushTimeout,
	}
}

// BackendOptions returns kv.Open options for an area.
func (c Config) BackendOptions(kind, area string, logger *slog.Logger) kv.Options {
	return kv.Options{Kind: kind, Dir: c.DataDir, Area: area, SyncWrites: c.SyncWrites, Logger: logger}
}

// NewLogger builds the process logger writing to w. stdout carries the
// MCP transport, so callers pass stderr.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("config: log level %q: %w", s, err)
	}
	return l, nil
}
