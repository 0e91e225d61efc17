// Package telemetry holds the engine's observability services: Prometheus
// metrics and the asynchronous error reporter. Both are constructed explicitly
// and passed to the components that use them.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/habitquest/progression-engine/internal/domain/integrity"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "habitquest"

// Metrics collects engine metrics into its own registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	experienceGranted    *prometheus.CounterVec
	levelUps             prometheus.Counter
	achievementsUnlocked prometheus.Counter
	accessoriesUnlocked  prometheus.Counter
	versionConflicts     prometheus.Counter

	integrityChecks   *prometheus.CounterVec
	integrityFindings *prometheus.CounterVec
	checkDuration     prometheus.Histogram

	repairsApplied *prometheus.CounterVec
	repairsFailed  *prometheus.CounterVec

	scanUsers    *prometheus.CounterVec
	scanDuration prometheus.Histogram

	errorReportsDropped prometheus.Counter
	errorReportsSent    prometheus.Counter

	eventsPublished *prometheus.CounterVec
	eventHandlers   *prometheus.CounterVec
}

// NewMetrics creates a collector with a fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		experienceGranted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progression",
			Name:      "experience_granted_total",
			Help:      "Experience granted to characters, by source.",
		}, []string{"source"}),
		levelUps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progression",
			Name:      "level_ups_total",
			Help:      "Levels gained by characters.",
		}),
		achievementsUnlocked: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progression",
			Name:      "achievements_unlocked_total",
			Help:      "Achievements added to characters.",
		}),
		accessoriesUnlocked: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progression",
			Name:      "accessories_unlocked_total",
			Help:      "Accessories added to characters.",
		}),
		versionConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progression",
			Name:      "version_conflicts_total",
			Help:      "Optimistic concurrency conflicts on character writes.",
		}),

		integrityChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "checks_total",
			Help:      "Integrity checks run, by outcome (valid, drift, invalid).",
		}, []string{"outcome"}),
		integrityFindings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "findings_total",
			Help:      "Integrity findings, by severity and code.",
		}, []string{"severity", "code"}),
		checkDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "check_duration_seconds",
			Help:      "Time taken to load and diagnose one user.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),

		repairsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "repairs_applied_total",
			Help:      "Entity fixes written, by entity kind.",
		}, []string{"entity"}),
		repairsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "repairs_failed_total",
			Help:      "Entity fixes that could not be written, by entity kind.",
		}, []string{"entity"}),

		scanUsers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "users_total",
			Help:      "Users processed by the integrity scan, by result.",
		}, []string{"result"}),
		scanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Duration of a full integrity scan.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		errorReportsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "errors",
			Name:      "reports_dropped_total",
			Help:      "Error reports dropped because the buffer was full.",
		}),
		errorReportsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "errors",
			Name:      "reports_sent_total",
			Help:      "Error reports delivered to the sink.",
		}),

		eventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Domain events published, by type.",
		}, []string{"type"}),
		eventHandlers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handled_total",
			Help:      "Event handler executions, by type and result.",
		}, []string{"type", "result"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ─────────────────────────────────────────────────────────────────────────────
// Progression
// ─────────────────────────────────────────────────────────────────────────────

// RecordProgression records one successful experience grant.
func (m *Metrics) RecordProgression(source string, amount, levelsGained, achievements, accessories int) {
	if m == nil {
		return
	}
	m.experienceGranted.WithLabelValues(source).Add(float64(amount))
	m.levelUps.Add(float64(levelsGained))
	m.achievementsUnlocked.Add(float64(achievements))
	m.accessoriesUnlocked.Add(float64(accessories))
}

// RecordVersionConflict counts one optimistic lock conflict.
func (m *Metrics) RecordVersionConflict() {
	if m == nil {
		return
	}
	m.versionConflicts.Inc()
}

// ─────────────────────────────────────────────────────────────────────────────
// Integrity
// ─────────────────────────────────────────────────────────────────────────────

// RecordReport records the findings of one integrity check.
func (m *Metrics) RecordReport(r *integrity.Report, took time.Duration) {
	if m == nil || r == nil {
		return
	}
	outcome := "valid"
	switch {
	case !r.IsValid:
		outcome = "invalid"
	case r.HasDrift():
		outcome = "drift"
	}
	m.integrityChecks.WithLabelValues(outcome).Inc()
	for _, f := range r.Errors {
		m.integrityFindings.WithLabelValues(string(f.Severity), string(f.Code)).Inc()
	}
	for _, f := range r.Warnings {
		m.integrityFindings.WithLabelValues(string(f.Severity), string(f.Code)).Inc()
	}
	m.checkDuration.Observe(took.Seconds())
}

// RecordRepair records one fix write attempt.
func (m *Metrics) RecordRepair(kind integrity.EntityKind, ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.repairsApplied.WithLabelValues(string(kind)).Inc()
		return
	}
	m.repairsFailed.WithLabelValues(string(kind)).Inc()
}

// ─────────────────────────────────────────────────────────────────────────────
// Scan
// ─────────────────────────────────────────────────────────────────────────────

// RecordScanUser records the result of one user in a batch scan.
func (m *Metrics) RecordScanUser(result string) {
	if m == nil {
		return
	}
	m.scanUsers.WithLabelValues(result).Inc()
}

// RecordScan records the duration of a full scan.
func (m *Metrics) RecordScan(took time.Duration) {
	if m == nil {
		return
	}
	m.scanDuration.Observe(took.Seconds())
}

// ─────────────────────────────────────────────────────────────────────────────
// Error reporting
// ─────────────────────────────────────────────────────────────────────────────

func (m *Metrics) recordDropped() {
	if m == nil {
		return
	}
	m.errorReportsDropped.Inc()
}

func (m *Metrics) recordSent(n int) {
	if m == nil {
		return
	}
	m.errorReportsSent.Add(float64(n))
}

// ─────────────────────────────────────────────────────────────────────────────
// Events
// ─────────────────────────────────────────────────────────────────────────────

// RecordEventPublished counts one published event.
func (m *Metrics) RecordEventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventHandled counts one handler execution.
func (m *Metrics) RecordEventHandled(eventType string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.eventHandlers.WithLabelValues(eventType, result).Inc()
}
