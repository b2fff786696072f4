package engine

import (
	"context"
	"fmt"

	"github.com/HendryAvila/quizledger/internal/kv"
)

// QuotaLevel classifies local-area usage against the thresholds.
type QuotaLevel int

const (
	QuotaOK QuotaLevel = iota
	QuotaWarning
	QuotaCritical
)

func (l QuotaLevel) String() string {
	switch l {
	case QuotaWarning:
		return "warning"
	case QuotaCritical:
		return "critical"
	default:
		return "ok"
	}
}

// QuotaStatus is the outcome of one quota check.
type QuotaStatus struct {
	BytesInUse int64
	Limit      int64
	Level      QuotaLevel
}

// quotaGuard decides, before every commit, whether the local area may
// grow. It fails closed: an unanswerable usage query refuses the write.
type quotaGuard struct {
	backend  kv.Backend
	warn     int64
	limit    int64
	notifier Notifier
	metrics  *Metrics
}

func (g *quotaGuard) classify(used int64) QuotaLevel {
	switch {
	case used >= g.limit:
		return QuotaCritical
	case used >= g.warn:
		return QuotaWarning
	default:
		return QuotaOK
	}
}

// check returns nil when the write may proceed.
func (g *quotaGuard) check(ctx context.Context) (QuotaStatus, error) {
	used, err := g.backend.BytesInUse(ctx)
	if err != nil {
		return QuotaStatus{}, fmt.Errorf("%w: %w", ErrQuotaCheck, err)
	}
	st := QuotaStatus{BytesInUse: used, Limit: g.limit, Level: g.classify(used)}
	g.metrics.BytesInUse.Set(float64(used))
	switch st.Level {
	case QuotaCritical:
		g.notifier.QuotaNotice(st)
		return st, fmt.Errorf("%w: %d of %d bytes in use", ErrQuotaExceeded, used, g.limit)
	case QuotaWarning:
		g.notifier.QuotaNotice(st)
	}
	return st, nil
}
