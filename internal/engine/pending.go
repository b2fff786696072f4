package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/HendryAvila/quizledger/internal/capture"
	"github.com/HendryAvila/quizledger/internal/kv"
)

// pendingLog is the bounded list of captures that missed their debounced
// write because the page went away. It lives in the session area.
type pendingLog struct {
	backend kv.Backend
	cap     int
}

// append adds e, dropping the oldest entries so the log never exceeds cap.
func (p *pendingLog) append(ctx context.Context, e capture.PendingWriteEntry) error {
	var entries []capture.PendingWriteEntry
	if _, err := kv.GetJSON(ctx, p.backend, PendingKey, &entries); err != nil {
		return fmt.Errorf("engine: read pending log: %w", err)
	}
	if len(entries) >= p.cap {
		entries = entries[len(entries)-p.cap+1:]
	}
	entries = append(entries, e)
	if err := kv.SetJSON(ctx, p.backend, PendingKey, entries); err != nil {
		return fmt.Errorf("engine: write pending log: %w", err)
	}
	return nil
}

// drain reads the log once and removes it.
func (p *pendingLog) drain(ctx context.Context) ([]capture.PendingWriteEntry, error) {
	var entries []capture.PendingWriteEntry
	found, err := kv.GetJSON(ctx, p.backend, PendingKey, &entries)
	if err != nil {
		return nil, fmt.Errorf("engine: read pending log: %w", err)
	}
	if !found {
		return nil, nil
	}
	if err := p.backend.Remove(ctx, PendingKey); err != nil {
		return nil, fmt.Errorf("engine: clear pending log: %w", err)
	}
	return entries, nil
}

// validPending splits entries into replayable ones and the errors of
// those that cannot be keyed: no session id or an invalid record.
func validPending(entries []capture.PendingWriteEntry) ([]capture.PendingWriteEntry, []error) {
	var (
		valid []capture.PendingWriteEntry
		errs  []error
	)
	for i, e := range entries {
		if e.SessionID == "" {
			errs = append(errs, fmt.Errorf("engine: pending entry %d: missing session id", i))
			continue
		}
		if err := e.Record.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("engine: pending entry %d: %w", i, err))
			continue
		}
		valid = append(valid, e)
	}
	return valid, errs
}

// dedupPending keeps one entry per (sessionId, questionNumber): the one
// with the latest EnqueuedAt, or the later one on a tie. Survivors keep the
// order in which their key was first seen.
func dedupPending(entries []capture.PendingWriteEntry) []capture.PendingWriteEntry {
	pos := make(map[string]int, len(entries))
	out := make([]capture.PendingWriteEntry, 0, len(entries))
	for _, e := range entries {
		key := e.SessionID + "#" + strconv.Itoa(e.Record.QuestionNumber)
		i, seen := pos[key]
		if !seen {
			pos[key] = len(out)
			out = append(out, e)
			continue
		}
		if !e.EnqueuedAt.Before(out[i].EnqueuedAt) {
			out[i] = e
		}
	}
	return out
}
