package kv

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"
)

// Op names a backend call for fault injection.
type Op string

const (
	OpGet        Op = "get"
	OpSet        Op = "set"
	OpRemove     Op = "remove"
	OpBytesInUse Op = "bytes_in_use"
)

// Memory is an in-process backend. It is the deterministic fake used in
// tests and the default for the session area, which does not need to
// outlive the process.
type Memory struct {
	mu          sync.Mutex
	name        string
	data        map[string]json.RawMessage
	faults      map[Op]error
	delay       time.Duration
	invalidated bool

	gets        int
	sets        int
	inflight    int
	maxInflight int
	usage       *int64
}

// NewMemory creates an empty in-memory backend for the given area.
func NewMemory(area string) *Memory {
	return &Memory{
		name:   KindMemory + ":" + area,
		data:   make(map[string]json.RawMessage),
		faults: make(map[Op]error),
	}
}

func (m *Memory) Name() string { return m.name }

// SetFault makes every subsequent call of op fail with err until
// cleared with a nil err.
func (m *Memory) SetFault(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

// SetDelay makes every call block for d before touching data.
func (m *Memory) SetDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

// SetUsage overrides the value reported by BytesInUse.
func (m *Memory) SetUsage(bytes int64) {
	m.mu.Lock()
	m.usage = &bytes
	m.mu.Unlock()
}

// Invalidate simulates the host context being torn down.
func (m *Memory) Invalidate() {
	m.mu.Lock()
	m.invalidated = true
	m.mu.Unlock()
}

// Sets returns how many successful Set calls were made.
func (m *Memory) Sets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

// Gets returns how many successful Get calls were made.
func (m *Memory) Gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

// MaxInflight returns the highest number of overlapping calls observed.
func (m *Memory) MaxInflight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInflight
}

// enter runs the shared preamble of every call. The returned func must
// be deferred.
func (m *Memory) enter(ctx context.Context, op Op) (func(), error) {
	m.mu.Lock()
	if m.invalidated {
		m.mu.Unlock()
		return nil, ErrContextInvalidated
	}
	if err := m.faults[op]; err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.inflight++
	if m.inflight > m.maxInflight {
		m.maxInflight = m.inflight
	}
	delay := m.delay
	m.mu.Unlock()

	leave := func() {
		m.mu.Lock()
		m.inflight--
		m.mu.Unlock()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			leave()
			return nil, ctx.Err()
		}
	}
	return leave, nil
}

func (m *Memory) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	leave, err := m.enter(ctx, OpGet)
	if err != nil {
		return nil, err
	}
	defer leave()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	out := make(map[string]json.RawMessage, len(keys))
	if len(keys) == 0 {
		for k, v := range m.data {
			out[k] = clone(v)
		}
		return out, nil
	}
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = clone(v)
		}
	}
	return out, nil
}

func (m *Memory) Set(ctx context.Context, items map[string]json.RawMessage) error {
	leave, err := m.enter(ctx, OpSet)
	if err != nil {
		return err
	}
	defer leave()

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range items {
		m.data[k] = clone(v)
	}
	m.sets++
	return nil
}

func (m *Memory) Remove(ctx context.Context, keys ...string) error {
	leave, err := m.enter(ctx, OpRemove)
	if err != nil {
		return err
	}
	defer leave()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *Memory) BytesInUse(ctx context.Context, keys ...string) (int64, error) {
	leave, err := m.enter(ctx, OpBytesInUse)
	if err != nil {
		return 0, err
	}
	defer leave()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.usage != nil {
		return *m.usage, nil
	}
	var total int64
	for k, v := range m.data {
		if len(keys) > 0 && !slices.Contains(keys, k) {
			continue
		}
		total += int64(len(k) + len(v))
	}
	return total, nil
}

// Close invalidates the backend; its data is discarded.
func (m *Memory) Close() error {
	m.Invalidate()
	return nil
}
