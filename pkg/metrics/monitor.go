package metrics

import (
	"time"
)

// MonitorMetrics provides observability for session-check operations.
//
// This interface is optional - pass nil to disable metrics collection with
// zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	mon := monitor.New(monitor.Options{Metrics: metrics.NewMonitorMetrics()})
//
//	// Without metrics (pass nil for zero overhead)
//	mon := monitor.New(monitor.Options{})
type MonitorMetrics interface {
	// RecordProbe records one port-reachability probe pair with its
	// outcome ("reachable" or "unreachable") and duration.
	RecordProbe(outcome string, duration time.Duration)

	// RecordCheck records a completed session check with its outcome
	// ("ok", "unreachable", "error") and total duration.
	RecordCheck(outcome string, duration time.Duration)

	// RecordEnumeration records one enumeration attempt by path
	// ("extended", "legacy", "skipped", "suppressed") and outcome
	// ("ok", "error"), with the number of sessions returned.
	RecordEnumeration(path string, outcome string, sessions int)

	// RecordBackoffSuppression increments the counter of checks answered
	// from the negative cache without touching the network.
	RecordBackoffSuppression()

	// RecordHandleHit increments the pooled-handle reuse counter.
	RecordHandleHit()

	// RecordHandleMiss increments the counter of handle opens.
	RecordHandleMiss()

	// RecordHandleEviction increments the counter of handles closed by
	// validation failure or the idle sweep.
	RecordHandleEviction(reason string)
}

// NewMonitorMetrics creates a new Prometheus-backed MonitorMetrics
// instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called). The
// indirection through a registered constructor keeps this package free of a
// prometheus import cycle; cmd packages blank-import
// pkg/metrics/prometheus to install it.
func NewMonitorMetrics() MonitorMetrics {
	if !IsEnabled() || newPrometheusMonitorMetrics == nil {
		return nil
	}
	return newPrometheusMonitorMetrics()
}

// newPrometheusMonitorMetrics is installed by pkg/metrics/prometheus during
// package initialization.
var newPrometheusMonitorMetrics func() MonitorMetrics

// RegisterMonitorMetricsConstructor registers the Prometheus monitor
// metrics constructor. Called by pkg/metrics/prometheus init.
func RegisterMonitorMetricsConstructor(constructor func() MonitorMetrics) {
	newPrometheusMonitorMetrics = constructor
}

// The helpers below are nil-safe wrappers so instrumented code does not
// need to guard every call site when metrics are disabled.

// ObserveProbe records a probe pair if m is non-nil.
func ObserveProbe(m MonitorMetrics, outcome string, duration time.Duration) {
	if m != nil {
		m.RecordProbe(outcome, duration)
	}
}

// ObserveCheck records a completed check if m is non-nil.
func ObserveCheck(m MonitorMetrics, outcome string, duration time.Duration) {
	if m != nil {
		m.RecordCheck(outcome, duration)
	}
}

// ObserveEnumeration records an enumeration attempt if m is non-nil.
func ObserveEnumeration(m MonitorMetrics, path string, outcome string, sessions int) {
	if m != nil {
		m.RecordEnumeration(path, outcome, sessions)
	}
}

// ObserveSuppression records a negative-cache answer if m is non-nil.
func ObserveSuppression(m MonitorMetrics) {
	if m != nil {
		m.RecordBackoffSuppression()
	}
}

// ObserveHandleHit records a pooled-handle reuse if m is non-nil.
func ObserveHandleHit(m MonitorMetrics) {
	if m != nil {
		m.RecordHandleHit()
	}
}

// ObserveHandleMiss records a handle open if m is non-nil.
func ObserveHandleMiss(m MonitorMetrics) {
	if m != nil {
		m.RecordHandleMiss()
	}
}

// ObserveHandleEviction records a handle close if m is non-nil.
func ObserveHandleEviction(m MonitorMetrics, reason string) {
	if m != nil {
		m.RecordHandleEviction(reason)
	}
}
