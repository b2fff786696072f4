// Package capture defines the records exchanged between the answer
// extraction layer, the persistence engine and the review/export views.
//
// JSON field names are camelCase because the same documents are read by
// the browser-side views; changing them breaks stored data.
package capture

import (
	"encoding/json"
	"fmt"
	"time"
)

// ─── Types ───────────────────────────────────────────────────────────────────

// QuestionRecord is one captured answer reveal for a single question.
// IsCorrect is tri-state: nil means the extraction step could not decide.
type QuestionRecord struct {
	QuestionNumber int               `json:"questionNumber" validate:"gt=0"`
	TotalQuestions *int              `json:"totalQuestions,omitempty" validate:"omitempty,gt=0"`
	QuestionText   string            `json:"questionText"`
	Answers        []json.RawMessage `json:"answers,omitempty"`
	UserAnswer     string            `json:"userAnswer,omitempty"`
	CorrectAnswer  string            `json:"correctAnswer,omitempty"`
	IsCorrect      *bool             `json:"isCorrect"`
	IsMultiSelect  bool              `json:"isMultiSelect"`
	Explanation    string            `json:"explanation,omitempty"`
	Timestamp      time.Time         `json:"timestamp" validate:"required"`
}

// SessionRecord is one tracked attempt at a quiz page. Questions keep
// first-seen order; a re-answer replaces its entry in place.
type SessionRecord struct {
	ID          string           `json:"id"`
	TestName    string           `json:"testName"`
	URL         string           `json:"url"`
	StartTime   time.Time        `json:"startTime"`
	LastUpdated time.Time        `json:"lastUpdated,omitzero"`
	Questions   []QuestionRecord `json:"questions"`
	StatsCache  *StatsCache      `json:"statsCache,omitempty"`
}

// PendingWriteEntry is a capture that was still waiting in the debounce
// window when its page went away. URL, TestName and SessionStart let a
// replay create the session if the first write never reached the store.
type PendingWriteEntry struct {
	SessionID    string         `json:"sessionId"`
	URL          string         `json:"url,omitempty"`
	TestName     string         `json:"testName,omitempty"`
	SessionStart time.Time      `json:"sessionStart,omitzero"`
	Record       QuestionRecord `json:"questionRecord"`
	EnqueuedAt   time.Time      `json:"enqueuedAt"`
}

// NewSessionID derives a session id from the normalized URL and the
// creation instant, so two tabs on the same page get distinct ids.
func NewSessionID(normalizedURL string, created time.Time) string {
	return fmt.Sprintf("%s_%d", normalizedURL, created.UnixMilli())
}

// Verdict returns a pointer suitable for QuestionRecord.IsCorrect.
func Verdict(correct bool) *bool {
	return &correct
}

// VerdictString renders the tri-state as "correct", "incorrect" or "unknown".
func VerdictString(v *bool) string {
	switch {
	case v == nil:
		return "unknown"
	case *v:
		return "correct"
	default:
		return "incorrect"
	}
}

// EnsureStats initializes the stats cache of a session written by an
// older schema. It reports whether a full recompute was needed.
func (s *SessionRecord) EnsureStats() bool {
	if s.StatsCache != nil {
		return false
	}
	s.StatsCache = &StatsCache{}
	s.StatsCache.Recompute(s.Questions)
	return true
}
