package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's Prometheus instruments.
type Metrics struct {
	Captures        prometheus.Counter
	Coalesced       prometheus.Counter
	Writes          *prometheus.CounterVec // by result
	Merges          *prometheus.CounterVec // by match kind
	PendingLogged   prometheus.Counter
	PendingReplayed prometheus.Counter
	BytesInUse      prometheus.Gauge
}

// Write results.
const (
	resultOK           = "ok"
	resultQuotaRefused = "quota_refused"
	resultQuotaError   = "quota_check_failed"
	resultInvalidated  = "invalidated"
	resultError        = "error"
)

// NewMetrics registers the engine metrics on reg. A nil reg gets a
// private registry, so several engines can coexist in one process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Captures: f.NewCounter(prometheus.CounterOpts{
			Name: "quizledger_captures_total",
			Help: "Question records accepted by Capture.",
		}),
		Coalesced: f.NewCounter(prometheus.CounterOpts{
			Name: "quizledger_captures_coalesced_total",
			Help: "Captures superseded inside the debounce window.",
		}),
		Writes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quizledger_writes_total",
			Help: "Persistence operations by result.",
		}, []string{"result"}),
		Merges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quizledger_question_merges_total",
			Help: "Committed questions by how they matched stored ones.",
		}, []string{"match"}),
		PendingLogged: f.NewCounter(prometheus.CounterOpts{
			Name: "quizledger_pending_logged_total",
			Help: "Captures written to the pending-write log at teardown.",
		}),
		PendingReplayed: f.NewCounter(prometheus.CounterOpts{
			Name: "quizledger_pending_replayed_total",
			Help: "Pending-write log entries replayed at startup.",
		}),
		BytesInUse: f.NewGauge(prometheus.GaugeOpts{
			Name: "quizledger_local_bytes_in_use",
			Help: "Bytes in use in the local storage area at the last quota check.",
		}),
	}
}
