package engine

import (
	"log/slog"

	"github.com/HendryAvila/quizledger/internal/capture"
)

// Notifier receives user-facing notices. Implementations must not block;
// they are called from the write worker.
type Notifier interface {
	// QuotaNotice is advisory at QuotaWarning and means the write was
	// refused at QuotaCritical.
	QuotaNotice(QuotaStatus)
	// Saved reports a committed capture with the session's new totals.
	Saved(SavedNotice)
}

// SavedNotice describes one committed write.
type SavedNotice struct {
	SessionID      string
	TestName       string
	QuestionNumber int
	IsCorrect      *bool
	Replaced       bool
	NewSession     bool
	Stats          capture.StatsCache
}

// LogNotifier writes notices to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) QuotaNotice(st QuotaStatus) {
	if st.Level == QuotaCritical {
		n.Logger.Error("storage full, answer not saved; export and clear old sessions",
			"bytes", st.BytesInUse, "limit", st.Limit)
		return
	}
	n.Logger.Warn("storage almost full; consider exporting and clearing old sessions",
		"bytes", st.BytesInUse, "limit", st.Limit)
}

func (n LogNotifier) Saved(s SavedNotice) {
	n.Logger.Info("answer captured",
		"session", s.SessionID,
		"question", s.QuestionNumber,
		"result", capture.VerdictString(s.IsCorrect),
		"replaced", s.Replaced,
		"total", s.Stats.Total,
		"correct", s.Stats.Correct,
		"incorrect", s.Stats.Incorrect,
	)
}
