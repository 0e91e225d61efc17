package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/habitquest/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR REPORT
// ══════════════════════════════════════════════════════════════════════════════

// ErrorReport is one failure worth recording outside the request path.
type ErrorReport struct {
	Component  string    `json:"component"`
	Operation  string    `json:"operation"`
	UserID     string    `json:"user_id,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	Message    string    `json:"message"`
	Retryable  bool      `json:"retryable"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ReportSink receives batches of reports from the reporter's worker.
type ReportSink interface {
	WriteReports(ctx context.Context, reports []ErrorReport) error
}

// ErrReporterClosed is returned by Start on a closed reporter.
var ErrReporterClosed = errors.New("error reporter is closed")

// ══════════════════════════════════════════════════════════════════════════════
// REPORTER
// ══════════════════════════════════════════════════════════════════════════════

// ReporterConfig configures an ErrorReporter.
type ReporterConfig struct {
	// BufferSize bounds the number of queued reports. Reports beyond it are
	// dropped and counted.
	BufferSize int

	// BatchSize is the largest batch handed to the sink at once.
	BatchSize int

	// FlushInterval is how long a partial batch may wait.
	FlushInterval time.Duration

	// WriteTimeout bounds each sink call.
	WriteTimeout time.Duration
}

// DefaultReporterConfig returns sensible defaults.
func DefaultReporterConfig() ReporterConfig {
	return ReporterConfig{
		BufferSize:    256,
		BatchSize:     32,
		FlushInterval: 2 * time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

// ErrorReporter queues reports in a bounded buffer and drains them to a sink
// from a single background worker. Report never blocks. A nil *ErrorReporter
// discards everything.
type ErrorReporter struct {
	sink    ReportSink
	config  ReporterConfig
	logger  *logger.Logger
	metrics *Metrics
	now     func() time.Time

	queue chan ErrorReport

	mu      sync.Mutex
	started bool
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewErrorReporter creates a reporter. Call Start before reporting and Close
// on shutdown.
func NewErrorReporter(sink ReportSink, config ReporterConfig, log *logger.Logger, metrics *Metrics) *ErrorReporter {
	def := DefaultReporterConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = def.FlushInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	if sink == nil {
		sink = NewLogSink(log)
	}

	return &ErrorReporter{
		sink:    sink,
		config:  config,
		logger:  log.With(logger.Component("error_reporter")),
		metrics: metrics,
		now:     time.Now,
		queue:   make(chan ErrorReport, config.BufferSize),
		closeCh: make(chan struct{}),
	}
}

// Start launches the background worker. It is safe to call once.
func (r *ErrorReporter) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrReporterClosed
	}
	if r.started {
		return nil
	}
	r.started = true

	r.wg.Add(1)
	go r.loop()
	return nil
}

// Report enqueues a report and reports whether it was accepted. A full buffer
// or closed reporter drops the report.
func (r *ErrorReporter) Report(rep ErrorReport) bool {
	if r == nil {
		return false
	}
	if rep.OccurredAt.IsZero() {
		rep.OccurredAt = r.now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.metrics.recordDropped()
		return false
	}

	select {
	case r.queue <- rep:
		return true
	default:
		r.metrics.recordDropped()
		return false
	}
}

// ReportError is a shorthand for reporting err from component/op.
func (r *ErrorReporter) ReportError(component, op, userID string, err error, retryable bool) bool {
	if err == nil {
		return false
	}
	return r.Report(ErrorReport{
		Component: component,
		Operation: op,
		UserID:    userID,
		Message:   err.Error(),
		Retryable: retryable,
	})
}

// Close stops accepting reports, flushes what is queued and waits for the
// worker to exit.
func (r *ErrorReporter) Close() error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	started := r.started
	close(r.closeCh)
	r.mu.Unlock()

	if !started {
		r.drain()
		return nil
	}
	r.wg.Wait()
	return nil
}

func (r *ErrorReporter) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]ErrorReport, 0, r.config.BatchSize)
	for {
		select {
		case <-r.closeCh:
			r.flush(batch)
			r.drain()
			return
		case rep := <-r.queue:
			batch = append(batch, rep)
			if len(batch) >= r.config.BatchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			r.flush(batch)
			batch = batch[:0]
		}
	}
}

// drain flushes everything left in the queue. Called only after close, when
// Report can no longer enqueue.
func (r *ErrorReporter) drain() {
	batch := make([]ErrorReport, 0, r.config.BatchSize)
	for {
		select {
		case rep := <-r.queue:
			batch = append(batch, rep)
			if len(batch) >= r.config.BatchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		default:
			r.flush(batch)
			return
		}
	}
}

func (r *ErrorReporter) flush(batch []ErrorReport) {
	if len(batch) == 0 {
		return
	}

	out := make([]ErrorReport, len(batch))
	copy(out, batch)

	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	if err := r.sink.WriteReports(ctx, out); err != nil {
		// The reporter is best effort; a failed sink write loses the batch.
		r.logger.Warn("failed to write error reports",
			logger.Err(err),
			logger.Int("count", len(out)),
		)
		return
	}
	r.metrics.recordSent(len(out))
}

// ══════════════════════════════════════════════════════════════════════════════
// LOG SINK
// ══════════════════════════════════════════════════════════════════════════════

// LogSink writes reports to the structured logger.
type LogSink struct {
	logger *logger.Logger
}

// NewLogSink creates a sink that logs each report at error level.
func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.Nop()
	}
	return &LogSink{logger: log}
}

// WriteReports implements ReportSink.
func (s *LogSink) WriteReports(_ context.Context, reports []ErrorReport) error {
	for _, rep := range reports {
		s.logger.Error(rep.Message,
			logger.Component(rep.Component),
			logger.Operation(rep.Operation),
			logger.UserID(rep.UserID),
			logger.String("entity_id", rep.EntityID),
			logger.Bool("retryable", rep.Retryable),
			logger.Time("occurred_at", rep.OccurredAt),
		)
	}
	return nil
}
