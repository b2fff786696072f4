package engine

import (
	"sync"
	"time"

	"github.com/HendryAvila/quizledger/internal/capture"
)

// debouncer coalesces captures arriving within one window. The last
// record wins; earlier ones inside the window are never written.
type debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	timer   *time.Timer
	gen     uint64
	pending *capture.QuestionRecord
	stopped bool
	fire    func(capture.QuestionRecord)
}

func newDebouncer(window time.Duration, fire func(capture.QuestionRecord)) *debouncer {
	return &debouncer{window: window, fire: fire}
}

// trigger stores rec as the pending record and restarts the window.
// It reports whether an earlier record was superseded.
func (d *debouncer) trigger(rec capture.QuestionRecord) (coalesced bool, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false, false
	}
	coalesced = d.pending != nil
	d.pending = &rec
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.window, func() { d.expire(gen) })
	return coalesced, true
}

// expire hands the pending record to fire while holding the lock, so an
// observer never sees the record in neither the debouncer nor the queue.
func (d *debouncer) expire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || gen != d.gen || d.pending == nil {
		return
	}
	rec := *d.pending
	d.pending = nil
	d.timer = nil
	d.fire(rec)
}

// take cancels the timer and returns the pending record, if any.
func (d *debouncer) take() (capture.QuestionRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	if d.pending == nil {
		return capture.QuestionRecord{}, false
	}
	rec := *d.pending
	d.pending = nil
	return rec, true
}

// flush is take followed by fire, atomically.
func (d *debouncer) flush() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	if d.pending == nil || d.stopped {
		return false
	}
	rec := *d.pending
	d.pending = nil
	d.fire(rec)
	return true
}

func (d *debouncer) hasPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// stop cancels the timer and drops any pending record. Callers that want
// the record persisted take it first.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.pending = nil
}
