// Package metrics exposes Prometheus instrumentation for log stream
// metadata records.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label constants for metrics.
const (
	LabelOp     = "op"
	LabelStatus = "status"
	LabelKind   = "kind"
)

// Status constants for slog writes.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Metrics provides Prometheus metrics for the record guard and durable log.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	guardHold    *prometheus.HistogramVec
	slowSections *prometheus.CounterVec
	slogWrites   *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	records      prometheus.Gauge

	registered bool
}

// NewMetrics creates and registers the metrics.
// If registry is nil, metrics are created but not registered.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		guardHold: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lsmeta",
				Subsystem: "guard",
				Name:      "hold_duration_seconds",
				Help:      "Time the record guard was held per operation",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{LabelOp},
		),
		slowSections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lsmeta",
				Subsystem: "guard",
				Name:      "slow_sections_total",
				Help:      "Critical sections that exceeded the warn threshold",
			},
			[]string{LabelOp},
		),
		slogWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lsmeta",
				Subsystem: "slog",
				Name:      "writes_total",
				Help:      "Durable log writes by outcome",
			},
			[]string{LabelStatus},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lsmeta",
				Subsystem: "record",
				Name:      "rejected_total",
				Help:      "Mutations rejected before commit, by error kind",
			},
			[]string{LabelKind},
		),
		records: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "lsmeta",
				Subsystem: "service",
				Name:      "records",
				Help:      "Number of live metadata records",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.guardHold,
			m.slowSections,
			m.slogWrites,
			m.rejected,
			m.records,
		)
		m.registered = true
	}
	return m
}

// Registered reports whether the metrics were registered with a registry.
func (m *Metrics) Registered() bool {
	return m != nil && m.registered
}

// ObserveGuardHold records how long an operation held the guard.
func (m *Metrics) ObserveGuardHold(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.guardHold.WithLabelValues(op).Observe(d.Seconds())
}

// IncSlowSection counts a critical section above the warn threshold.
func (m *Metrics) IncSlowSection(op string) {
	if m == nil {
		return
	}
	m.slowSections.WithLabelValues(op).Inc()
}

// ObserveSlogWrite counts a durable log write.
func (m *Metrics) ObserveSlogWrite(success bool) {
	if m == nil {
		return
	}
	status := StatusOK
	if !success {
		status = StatusFailed
	}
	m.slogWrites.WithLabelValues(status).Inc()
}

// IncRejected counts a mutation rejected with the given error kind.
func (m *Metrics) IncRejected(kind string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(kind).Inc()
}

// SetRecords sets the number of live records.
func (m *Metrics) SetRecords(n int) {
	if m == nil {
		return
	}
	m.records.Set(float64(n))
}
