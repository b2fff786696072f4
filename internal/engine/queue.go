package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// OpState is the lifecycle of one queued persistence operation.
type OpState string

const (
	OpQueued       OpState = "queued"
	OpQuotaChecked OpState = "quota-checked"
	OpReading      OpState = "reading"
	OpMerging      OpState = "merging"
	OpWriting      OpState = "writing"
	OpSettled      OpState = "settled"
)

type job struct {
	id   uint64
	name string
	fn   func(ctx context.Context) error
	done chan error
}

// writeQueue runs submitted operations one at a time in submission order.
// A failed or panicking operation is logged and the next one starts from a
// clean state; nothing is retried.
type writeQueue struct {
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	jobs    []*job
	active  bool
	closed  bool
	nextID  uint64
	waiters []chan struct{}
	exited  chan struct{}
}

func newWriteQueue(logger *slog.Logger) *writeQueue {
	q := &writeQueue{logger: logger, exited: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// submit enqueues fn. The returned channel receives the op's result.
func (q *writeQueue) submit(name string, fn func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		done <- ErrClosed
		return done
	}
	q.nextID++
	q.jobs = append(q.jobs, &job{id: q.nextID, name: name, fn: fn, done: done})
	q.logger.Debug("write op", "op", q.nextID, "name", name, "state", OpQueued)
	q.cond.Signal()
	return done
}

func (q *writeQueue) run() {
	defer close(q.exited)
	for {
		q.mu.Lock()
		for len(q.jobs) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}
		j := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		q.active = true
		q.mu.Unlock()

		err := q.execute(j)
		if err != nil {
			q.logger.Warn("write op failed", "op", j.id, "name", j.name, "err", err)
		}
		j.done <- err

		q.mu.Lock()
		q.active = false
		if len(q.jobs) == 0 {
			for _, w := range q.waiters {
				close(w)
			}
			q.waiters = nil
		}
		q.mu.Unlock()
	}
}

func (q *writeQueue) execute(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: write op %q panicked: %v", j.name, r)
		}
	}()
	ctx := withOpID(context.Background(), j.id)
	return j.fn(ctx)
}

func (q *writeQueue) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs) == 0 && !q.active
}

// wait blocks until no op is queued or running.
func (q *writeQueue) wait(ctx context.Context) error {
	q.mu.Lock()
	if len(q.jobs) == 0 && !q.active {
		q.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting ops. Already queued ops still run.
func (q *writeQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

type opIDKey struct{}

func withOpID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, opIDKey{}, id)
}

func opID(ctx context.Context) uint64 {
	id, _ := ctx.Value(opIDKey{}).(uint64)
	return id
}
