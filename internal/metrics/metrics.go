// Package metrics exposes lifecycle counters for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is nil-safe: every method is a no-op on a nil receiver.
type Metrics struct {
	transitions          *prometheus.CounterVec
	rejectedOperations   *prometheus.CounterVec
	orphanedFiles        prometheus.Counter
	notificationFailures *prometheus.CounterVec
	completenessChecks   *prometheus.CounterVec
	storageDuration      *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "export_registry_case_transitions_total",
			Help: "Committed case status transitions",
		}, []string{"from", "to"}),
		rejectedOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "export_registry_case_operations_rejected_total",
			Help: "Lifecycle operations refused, by operation and error code",
		}, []string{"operation", "code"}),
		orphanedFiles: factory.NewCounter(prometheus.CounterOpts{
			Name: "export_registry_orphaned_files_total",
			Help: "Stored files whose metadata commit failed and whose cleanup also failed",
		}),
		notificationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "export_registry_notification_failures_total",
			Help: "Suppressed notification delivery failures",
		}, []string{"channel"}),
		completenessChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "export_registry_completeness_checks_total",
			Help: "Document completeness checks by outcome",
		}, []string{"outcome"}),
		storageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "export_registry_storage_duration_seconds",
			Help:    "Latency of file storage operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Rejected(operation, code string) {
	if m == nil {
		return
	}
	m.rejectedOperations.WithLabelValues(operation, code).Inc()
}

func (m *Metrics) OrphanedFile() {
	if m == nil {
		return
	}
	m.orphanedFiles.Inc()
}

func (m *Metrics) NotificationFailed(channel string) {
	if m == nil {
		return
	}
	m.notificationFailures.WithLabelValues(channel).Inc()
}

func (m *Metrics) CompletenessChecked(complete bool) {
	if m == nil {
		return
	}
	outcome := "incomplete"
	if complete {
		outcome = "complete"
	}
	m.completenessChecks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStorage(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.storageDuration.WithLabelValues(operation).Observe(seconds)
}
