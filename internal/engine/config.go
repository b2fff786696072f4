package engine

import "time"

// Storage keys. They match the documents the browser extension writes.
const (
	SessionsKey = "testSessions"
	PendingKey  = "pendingSaves"
)

// Config holds the engine's tunables.
type Config struct {
	DebounceWindow       time.Duration
	SessionTimeout       time.Duration
	PendingLogCap        int
	QuotaWarnBytes       int64
	QuotaLimitBytes      int64
	MigrationAdviceBytes int64
	FlushTimeout         time.Duration // budget for the synchronous teardown flush
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DebounceWindow:       300 * time.Millisecond,
		SessionTimeout:       2 * time.Hour,
		PendingLogCap:        50,
		QuotaWarnBytes:       8 << 20,
		QuotaLimitBytes:      10 << 20,
		MigrationAdviceBytes: 7 << 20,
		FlushTimeout:         time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = d.DebounceWindow
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = d.SessionTimeout
	}
	if c.PendingLogCap <= 0 {
		c.PendingLogCap = d.PendingLogCap
	}
	if c.QuotaWarnBytes <= 0 {
		c.QuotaWarnBytes = d.QuotaWarnBytes
	}
	if c.QuotaLimitBytes <= 0 {
		c.QuotaLimitBytes = d.QuotaLimitBytes
	}
	if c.MigrationAdviceBytes <= 0 {
		c.MigrationAdviceBytes = d.MigrationAdviceBytes
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = d.FlushTimeout
	}
	return c
}
