// Package metrics holds the Prometheus collectors for backend reads, verify
// outcomes and patch operations. A nil *Metrics records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sheetcas"

// Metrics is the set of collectors the engine updates. Every method is safe
// to call on a nil receiver.
type Metrics struct {
	reads         *prometheus.CounterVec
	readDuration  prometheus.Histogram
	verifies      *prometheus.CounterVec
	patches       *prometheus.CounterVec
	auditFailures prometheus.Counter
}

// New registers collectors with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_reads_total",
			Help:      "Batched spreadsheet reads by outcome",
		}, []string{"outcome"}),
		readDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_read_duration_seconds",
			Help:      "Latency of batched spreadsheet reads",
			Buckets:   prometheus.DefBuckets,
		}),
		verifies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verify_total",
			Help:      "Fingerprint verifications by result (ok or mismatch reason)",
		}, []string{"result"}),
		patches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patch_operations_total",
			Help:      "Apply and undo operations by outcome",
		}, []string{"op", "outcome"}),
		auditFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_failures_total",
			Help:      "Audit rows that could not be appended",
		}),
	}
}

// ObserveRead records one batched read.
func (m *Metrics) ObserveRead(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.reads.WithLabelValues(outcome).Inc()
	m.readDuration.Observe(d.Seconds())
}

// ObserveVerify records a verify result; reason is empty for a match.
func (m *Metrics) ObserveVerify(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "ok"
	}
	m.verifies.WithLabelValues(reason).Inc()
}

// ObservePatch records an apply or undo outcome such as "ok", "stale" or "error".
func (m *Metrics) ObservePatch(op, outcome string) {
	if m == nil {
		return
	}
	m.patches.WithLabelValues(op, outcome).Inc()
}

// AuditFailed counts an audit row that could not be appended.
func (m *Metrics) AuditFailed() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}
