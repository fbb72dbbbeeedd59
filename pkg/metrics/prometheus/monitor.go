// Package prometheus contains the Prometheus implementations of the metrics
// interfaces. Importing this package (blank import is enough) installs the
// constructors into pkg/metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rdpwake/rdpwake/pkg/metrics"
)

func init() {
	metrics.RegisterMonitorMetricsConstructor(func() metrics.MonitorMetrics {
		return newMonitorMetrics()
	})
}

// monitorMetrics is the Prometheus implementation of
// metrics.MonitorMetrics.
type monitorMetrics struct {
	probes             *prometheus.CounterVec
	probeDuration      prometheus.Histogram
	checks             *prometheus.CounterVec
	checkDuration      prometheus.Histogram
	enumerations       *prometheus.CounterVec
	enumeratedSessions prometheus.Histogram
	suppressions       prometheus.Counter
	handleHits         prometheus.Counter
	handleMisses       prometheus.Counter
	handleEvictions    *prometheus.CounterVec
}

func newMonitorMetrics() *monitorMetrics {
	reg := metrics.GetRegistry()

	return &monitorMetrics{
		probes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rdpwake_probes_total",
				Help: "Total number of port reachability probe pairs by outcome",
			},
			[]string{"outcome"}, // "reachable", "unreachable"
		),
		probeDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rdpwake_probe_duration_seconds",
				Help:    "Duration of port reachability probe pairs",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.15, 0.2, 0.25},
			},
		),
		checks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rdpwake_checks_total",
				Help: "Total number of session checks by outcome",
			},
			[]string{"outcome"}, // "ok", "unreachable", "error"
		),
		checkDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rdpwake_check_duration_seconds",
				Help:    "Total duration of session checks",
				Buckets: prometheus.DefBuckets,
			},
		),
		enumerations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rdpwake_enumerations_total",
				Help: "Total number of session enumeration attempts by path and outcome",
			},
			[]string{"path", "outcome"},
		),
		enumeratedSessions: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rdpwake_enumerated_sessions",
				Help:    "Number of sessions returned per successful enumeration",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),
		suppressions: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "rdpwake_backoff_suppressions_total",
				Help: "Total number of checks answered from the negative cache",
			},
		),
		handleHits: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "rdpwake_handle_pool_hits_total",
				Help: "Total number of pooled session-service handles reused",
			},
		),
		handleMisses: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "rdpwake_handle_pool_misses_total",
				Help: "Total number of session-service handle opens",
			},
		),
		handleEvictions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rdpwake_handle_pool_evictions_total",
				Help: "Total number of handles closed by reason",
			},
			[]string{"reason"}, // "invalid", "idle", "failure"
		),
	}
}

func (m *monitorMetrics) RecordProbe(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(outcome).Inc()
	m.probeDuration.Observe(duration.Seconds())
}

func (m *monitorMetrics) RecordCheck(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(outcome).Inc()
	m.checkDuration.Observe(duration.Seconds())
}

func (m *monitorMetrics) RecordEnumeration(path string, outcome string, sessions int) {
	if m == nil {
		return
	}
	m.enumerations.WithLabelValues(path, outcome).Inc()
	if outcome == "ok" {
		m.enumeratedSessions.Observe(float64(sessions))
	}
}

func (m *monitorMetrics) RecordBackoffSuppression() {
	if m == nil {
		return
	}
	m.suppressions.Inc()
}

func (m *monitorMetrics) RecordHandleHit() {
	if m == nil {
		return
	}
	m.handleHits.Inc()
}

func (m *monitorMetrics) RecordHandleMiss() {
	if m == nil {
		return
	}
	m.handleMisses.Inc()
}

func (m *monitorMetrics) RecordHandleEviction(reason string) {
	if m == nil {
		return
	}
	m.handleEvictions.WithLabelValues(reason).Inc()
}
