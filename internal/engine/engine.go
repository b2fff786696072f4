// Package engine turns a stream of captured answers into deduplicated
// quiz sessions in a key-value store.
//
// One Engine serves one page context. Captures are debounced, then each
// commit runs as a queued read-merge-write cycle against the whole
// sessions document. Other contexts may rewrite that document between
// cycles, so every index is rebuilt from the fresh read.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HendryAvila/quizledger/internal/capture"
	"github.com/HendryAvila/quizledger/internal/kv"
	"github.com/HendryAvila/quizledger/internal/normalize"
)

var (
	// ErrQuotaExceeded means the local area is at or over its limit and
	// the write was refused.
	ErrQuotaExceeded = errors.New("engine: storage quota exceeded")
	// ErrQuotaCheck means usage could not be determined; the write was
	// refused.
	ErrQuotaCheck = errors.New("engine: storage quota check failed")
	// ErrClosed is returned after Cleanup.
	ErrClosed = errors.New("engine: closed")
)

// timeNow is the default clock. Tests use WithClock.
var timeNow = time.Now

// Page identifies the quiz page the engine is attached to.
type Page struct {
	URL      string
	TestName string
}

// Status is the engine's answer to a status probe.
type Status struct {
	Active   bool   `json:"active"`
	TestName string `json:"testName"`
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithNotifier sets the receiver of user-facing notices.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMetrics sets the Prometheus instruments.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine owns all capture state for one page context.
type Engine struct {
	cfg      Config
	local    kv.Backend
	session  kv.Backend
	logger   *slog.Logger
	notifier Notifier
	metrics  *Metrics
	now      func() time.Time

	sessionID string
	url       string
	testName  string
	startTime time.Time

	// Only touched by the write worker.
	sessions  *sessionIndex
	questions *questionIndex

	guard    *quotaGuard
	pending  *pendingLog
	queue    *writeQueue
	debounce *debouncer

	// Result of the last debounced write not yet reported by Sync.
	firedMu sync.Mutex
	fired   <-chan error

	invalidated atomic.Bool
	closed      atomic.Bool
	cleanupOnce sync.Once
}

// New attaches an engine to page. local holds the sessions document;
// session holds the pending-write log.
func New(local, session kv.Backend, page Page, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg.withDefaults(),
		local:     local,
		session:   session,
		now:       timeNow,
		sessions:  newSessionIndex(),
		questions: newQuestionIndex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if e.notifier == nil {
		e.notifier = LogNotifier{Logger: e.logger}
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}

	start := e.now()
	e.url = normalize.URL(page.URL)
	e.testName = page.TestName
	e.startTime = start
	e.sessionID = capture.NewSessionID(e.url, start)

	e.guard = &quotaGuard{
		backend:  local,
		warn:     e.cfg.QuotaWarnBytes,
		limit:    e.cfg.QuotaLimitBytes,
		notifier: e.notifier,
		metrics:  e.metrics,
	}
	e.pending = &pendingLog{backend: session, cap: e.cfg.PendingLogCap}
	e.queue = newWriteQueue(e.logger)
	e.debounce = newDebouncer(e.cfg.DebounceWindow, func(rec capture.QuestionRecord) {
		ch := e.enqueue(e.self(), rec)
		e.firedMu.Lock()
		e.fired = ch
		e.firedMu.Unlock()
	})
	e.logger.Debug("engine attached", "session", e.sessionID, "url", e.url, "local", local.Name())
	return e
}

// SessionID is the id this context writes under unless the URL matched a
// recent session.
func (e *Engine) SessionID() string { return e.sessionID }

// Status reports whether the engine still accepts captures.
func (e *Engine) Status() Status {
	return Status{
		Active:   !e.invalidated.Load() && !e.closed.Load(),
		TestName: e.testName,
	}
}

// Invalidated reports whether the hosting context went away.
func (e *Engine) Invalidated() bool { return e.invalidated.Load() }

func (e *Engine) self() target {
	return target{ID: e.sessionID, URL: e.url, TestName: e.testName, StartTime: e.startTime}
}

// ─── Capture ────────────────────────────────────────────────────────────────

// Capture accepts one answer reveal. The record is written after the
// debounce window unless another capture supersedes it first.
func (e *Engine) Capture(rec capture.QuestionRecord) error {
	if e.invalidated.Load() {
		return kv.ErrContextInvalidated
	}
	if e.closed.Load() {
		return ErrClosed
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	coalesced, ok := e.debounce.trigger(rec)
	if !ok {
		return ErrClosed
	}
	e.metrics.Captures.Inc()
	if coalesced {
		e.metrics.Coalesced.Inc()
	}
	return nil
}

// Sync writes the pending capture now, skipping the rest of the debounce
// window, and waits until every queued write has settled. It returns the
// error of the last debounced write, so a refused or failed write is not
// reported as saved.
func (e *Engine) Sync(ctx context.Context) error {
	e.debounce.flush()
	return e.settled(ctx)
}

// Settle waits for the debounce window to lapse on its own and for the
// queue to drain.
func (e *Engine) Settle(ctx context.Context) error {
	t := time.NewTicker(time.Millisecond)
	defer t.Stop()
	for e.debounce.hasPending() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return e.settled(ctx)
}

// settled waits for the last debounced write and then for the queue to
// drain.
func (e *Engine) settled(ctx context.Context) error {
	e.firedMu.Lock()
	ch := e.fired
	e.fired = nil
	e.firedMu.Unlock()

	var opErr error
	if ch != nil {
		select {
		case opErr = <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(opErr, e.queue.wait(ctx))
}

func (e *Engine) enqueue(t target, rec capture.QuestionRecord) <-chan error {
	return e.queue.submit("save", func(ctx context.Context) error {
		return e.save(ctx, t, rec)
	})
}

// save is one persistence cycle. It runs on the write worker only.
func (e *Engine) save(ctx context.Context, t target, rec capture.QuestionRecord) error {
	if e.invalidated.Load() {
		e.metrics.Writes.WithLabelValues(resultInvalidated).Inc()
		return kv.ErrContextInvalidated
	}
	id := opID(ctx)

	if _, err := e.guard.check(ctx); err != nil {
		switch {
		case errors.Is(err, kv.ErrContextInvalidated):
			return e.fail(err)
		case errors.Is(err, ErrQuotaExceeded):
			e.metrics.Writes.WithLabelValues(resultQuotaRefused).Inc()
		default:
			e.metrics.Writes.WithLabelValues(resultQuotaError).Inc()
		}
		return err
	}
	e.trace(id, OpQuotaChecked)

	e.trace(id, OpReading)
	var sessions []capture.SessionRecord
	if _, err := kv.GetJSON(ctx, e.local, SessionsKey, &sessions); err != nil {
		return e.fail(fmt.Errorf("engine: read sessions: %w", err))
	}

	e.trace(id, OpMerging)
	now := e.now()
	e.sessions.rebuild(sessions)
	pos, created := e.sessions.resolve(&sessions, t, now, e.cfg.SessionTimeout)
	sess := &sessions[pos]
	if sess.EnsureStats() {
		e.logger.Debug("stats cache rebuilt", "session", sess.ID, "total", sess.StatsCache.Total)
	}
	kind := e.questions.merge(sess, rec)
	sess.LastUpdated = now

	e.trace(id, OpWriting)
	if err := kv.SetJSON(ctx, e.local, SessionsKey, sessions); err != nil {
		return e.fail(fmt.Errorf("engine: write sessions: %w", err))
	}

	e.trace(id, OpSettled)
	e.metrics.Writes.WithLabelValues(resultOK).Inc()
	e.metrics.Merges.WithLabelValues(kind.String()).Inc()
	e.notifier.Saved(SavedNotice{
		SessionID:      sess.ID,
		TestName:       sess.TestName,
		QuestionNumber: rec.QuestionNumber,
		IsCorrect:      rec.IsCorrect,
		Replaced:       kind != matchNone,
		NewSession:     created,
		Stats:          *sess.StatsCache,
	})
	return nil
}

func (e *Engine) trace(id uint64, st OpState) {
	e.logger.Debug("write op", "op", id, "state", st)
}

// fail classifies a backend error. Invalidation stops the engine.
func (e *Engine) fail(err error) error {
	if errors.Is(err, kv.ErrContextInvalidated) {
		e.metrics.Writes.WithLabelValues(resultInvalidated).Inc()
		e.invalidate()
		return err
	}
	e.metrics.Writes.WithLabelValues(resultError).Inc()
	return err
}

// invalidate marks the context gone and releases everything that does
// not touch storage.
func (e *Engine) invalidate() {
	if !e.invalidated.CompareAndSwap(false, true) {
		return
	}
	e.logger.Warn("storage context invalidated; capture stopped", "session", e.sessionID)
	e.Cleanup()
}

// ─── Teardown & recovery ────────────────────────────────────────────────────

// FlushPending moves a capture still inside the debounce window to the
// pending-write log. It blocks for at most the configured flush timeout
// and reports whether an entry was logged.
func (e *Engine) FlushPending() bool {
	rec, ok := e.debounce.take()
	if !ok || e.invalidated.Load() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.FlushTimeout)
	defer cancel()
	entry := capture.PendingWriteEntry{
		SessionID:    e.sessionID,
		URL:          e.url,
		TestName:     e.testName,
		SessionStart: e.startTime,
		Record:       rec,
		EnqueuedAt:   e.now(),
	}
	if err := e.pending.append(ctx, entry); err != nil {
		if errors.Is(err, kv.ErrContextInvalidated) {
			e.invalidate()
		}
		e.logger.Warn("pending capture lost", "question", rec.QuestionNumber, "err", err)
		return false
	}
	e.metrics.PendingLogged.Inc()
	return true
}

// Cleanup cancels the debounce timer and stops the write queue. A capture
// still in the window is dropped; call FlushPending first to keep it.
// Already queued writes still run.
func (e *Engine) Cleanup() {
	e.cleanupOnce.Do(func() {
		e.closed.Store(true)
		e.debounce.stop()
		e.queue.close()
	})
}

// Teardown is the page-unload path: flush then clean up.
func (e *Engine) Teardown() {
	e.FlushPending()
	e.Cleanup()
}

// Recover replays the pending-write log left by earlier contexts. The log
// is removed before replay, so a second Recover finds nothing. Entries
// without a session id or a valid record are dropped. The rest are
// replayed one at a time; a failed entry is logged and skipped.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	if e.invalidated.Load() {
		return 0, kv.ErrContextInvalidated
	}
	entries, err := e.pending.drain(ctx)
	if err != nil {
		if errors.Is(err, kv.ErrContextInvalidated) {
			e.invalidate()
		}
		return 0, err
	}
	valid, invalid := validPending(entries)
	for _, err := range invalid {
		e.logger.Warn("pending capture dropped", "err", err)
	}
	survivors := dedupPending(valid)
	if len(survivors) > 0 {
		e.logger.Info("replaying pending captures", "logged", len(entries), "unique", len(survivors))
	}
	replayed := 0
	for _, ent := range survivors {
		t := target{ID: ent.SessionID, URL: ent.URL, TestName: ent.TestName, StartTime: ent.SessionStart}
		if t.URL == "" {
			t.URL = e.url
		}
		if t.TestName == "" {
			t.TestName = e.testName
		}
		if t.StartTime.IsZero() {
			t.StartTime = ent.EnqueuedAt
		}
		select {
		case err := <-e.enqueue(t, ent.Record):
			if err != nil {
				e.logger.Warn("pending capture replay failed",
					"session", ent.SessionID, "question", ent.Record.QuestionNumber, "err", err)
				if errors.Is(err, kv.ErrContextInvalidated) || errors.Is(err, ErrClosed) {
					return replayed, err
				}
				continue
			}
		case <-ctx.Done():
			return replayed, ctx.Err()
		}
		replayed++
		e.metrics.PendingReplayed.Inc()
	}
	return replayed, nil
}

// ─── Read side ──────────────────────────────────────────────────────────────

// GetAllSessions returns the stored sessions. Legacy sessions get their
// stats cache filled in the returned copy only.
func (e *Engine) GetAllSessions(ctx context.Context) ([]capture.SessionRecord, error) {
	if e.invalidated.Load() {
		return nil, kv.ErrContextInvalidated
	}
	var sessions []capture.SessionRecord
	if _, err := kv.GetJSON(ctx, e.local, SessionsKey, &sessions); err != nil {
		if errors.Is(err, kv.ErrContextInvalidated) {
			e.invalidate()
		}
		return nil, fmt.Errorf("engine: read sessions: %w", err)
	}
	if sessions == nil {
		sessions = []capture.SessionRecord{}
	}
	for i := range sessions {
		sessions[i].EnsureStats()
	}
	return sessions, nil
}

// StorageStats describes local-area usage and the captured totals read
// in the same pass.
type StorageStats struct {
	Backend          string  `json:"backend"`
	BytesInUse       int64   `json:"bytesInUse"`
	LimitBytes       int64   `json:"limitBytes"`
	PercentUsed      float64 `json:"percentUsed"`
	Level            string  `json:"level"`
	Sessions         int     `json:"sessions"`
	Questions        int     `json:"questions"`
	MigrationAdvised bool    `json:"migrationAdvised"`

	Summary capture.Summary `json:"summary"`
}

// StorageStats reports usage of the local area and whether the sessions
// document has grown large enough to move to a bigger backend.
func (e *Engine) StorageStats(ctx context.Context) (StorageStats, error) {
	sessions, err := e.GetAllSessions(ctx)
	if err != nil {
		return StorageStats{}, err
	}
	used, err := e.local.BytesInUse(ctx)
	if err != nil {
		if errors.Is(err, kv.ErrContextInvalidated) {
			e.invalidate()
		}
		return StorageStats{}, fmt.Errorf("engine: bytes in use: %w", err)
	}
	st := StorageStats{
		Backend:          e.local.Name(),
		BytesInUse:       used,
		LimitBytes:       e.cfg.QuotaLimitBytes,
		PercentUsed:      float64(used) * 100 / float64(e.cfg.QuotaLimitBytes),
		Level:            e.guard.classify(used).String(),
		Sessions:         len(sessions),
		MigrationAdvised: used >= e.cfg.MigrationAdviceBytes,
		Summary:          capture.Summarize(sessions),
	}
	for _, s := range sessions {
		st.Questions += len(s.Questions)
	}
	return st, nil
}
