package telemetry

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitquest/progression-engine/internal/domain/integrity"
)

type captureSink struct {
	mu      sync.Mutex
	reports []ErrorReport
	batches int
	err     error
	block   chan struct{}
}

func (s *captureSink) WriteReports(_ context.Context, reports []ErrorReport) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	if s.err != nil {
		return s.err
	}
	s.reports = append(s.reports, reports...)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

// counterValue reads a counter from the registry by its full name and labels.
func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range fam.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestErrorReporter_DeliversOnClose(t *testing.T) {
	sink := &captureSink{}
	m := NewMetrics("")
	r := NewErrorReporter(sink, ReporterConfig{BatchSize: 2, FlushInterval: time.Hour}, nil, m)
	require.NoError(t, r.Start())

	for i := 0; i < 5; i++ {
		assert.True(t, r.ReportError("test", "op", "user-1", errors.New("boom"), true))
	}
	require.NoError(t, r.Close())

	assert.Equal(t, 5, sink.count())
	assert.Equal(t, 5.0, counterValue(t, m, "habitquest_errors_reports_sent_total", nil))
	assert.False(t, r.ReportError("test", "op", "user-1", errors.New("late"), false), "closed reporter rejects")
}

func TestErrorReporter_DropsWhenFull(t *testing.T) {
	sink := &captureSink{block: make(chan struct{})}
	m := NewMetrics("")
	r := NewErrorReporter(sink, ReporterConfig{BufferSize: 2, BatchSize: 1, FlushInterval: time.Hour}, nil, m)
	require.NoError(t, r.Start())

	// The worker takes the first report and blocks in the sink; the next two
	// fill the buffer.
	require.True(t, r.Report(ErrorReport{Message: "first"}))
	require.Eventually(t, func() bool { return len(r.queue) == 0 }, time.Second, time.Millisecond)
	require.True(t, r.Report(ErrorReport{Message: "second"}))
	require.True(t, r.Report(ErrorReport{Message: "third"}))

	assert.False(t, r.Report(ErrorReport{Message: "dropped"}))
	assert.Equal(t, 1.0, counterValue(t, m, "habitquest_errors_reports_dropped_total", nil))

	close(sink.block)
	require.NoError(t, r.Close())
	assert.Equal(t, 3, sink.count())
}

func TestErrorReporter_SinkFailureIsSwallowed(t *testing.T) {
	sink := &captureSink{err: errors.New("sink down")}
	r := NewErrorReporter(sink, ReporterConfig{}, nil, nil)
	require.NoError(t, r.Start())

	assert.True(t, r.Report(ErrorReport{Message: "x"}))
	require.NoError(t, r.Close())
	assert.Equal(t, 0, sink.count())
	assert.Equal(t, 1, sink.batches)
}

func TestErrorReporter_NilIsSafe(t *testing.T) {
	var r *ErrorReporter
	assert.False(t, r.Report(ErrorReport{Message: "x"}))
	assert.NoError(t, r.Close())
}

func TestMetrics_RecordReport(t *testing.T) {
	m := NewMetrics("")
	report := &integrity.Report{
		IsValid: true,
		Warnings: []integrity.Finding{
			{Severity: integrity.SeverityWarning, Code: integrity.CodeLevelDrift},
			{Severity: integrity.SeverityWarning, Code: integrity.CodeLevelDrift},
		},
	}
	m.RecordReport(report, 20*time.Millisecond)
	m.RecordRepair(integrity.EntityCharacter, true)
	m.RecordRepair(integrity.EntityHabit, false)

	assert.Equal(t, 1.0, counterValue(t, m, "habitquest_integrity_checks_total", map[string]string{"outcome": "drift"}))
	assert.Equal(t, 2.0, counterValue(t, m, "habitquest_integrity_findings_total",
		map[string]string{"severity": "warning", "code": "level_drift"}))
	assert.Equal(t, 1.0, counterValue(t, m, "habitquest_integrity_repairs_applied_total", map[string]string{"entity": "character"}))
	assert.Equal(t, 1.0, counterValue(t, m, "habitquest_integrity_repairs_failed_total", map[string]string{"entity": "habit"}))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("quest")
	m.RecordProgression("habit", 150, 1, 2, 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `quest_progression_experience_granted_total{source="habit"} 150`), body)
	assert.True(t, strings.Contains(body, "quest_progression_level_ups_total 1"))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordProgression("habit", 1, 0, 0, 0)
		m.RecordVersionConflict()
		m.RecordReport(&integrity.Report{}, time.Second)
		m.RecordScanUser("ok")
		m.RecordScan(time.Second)
	})
}
