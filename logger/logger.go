// Package logger provides the per-invocation structured logger threaded
// through step execution. It wraps a standard slog.Logger for local
// logging while publishing lifecycle events to the synchronization
// service's event queue and recording metrics, so one call site feeds all
// three sinks consistently.
package logger

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/JupiterOne/integration-sdk/errors"
	"github.com/JupiterOne/integration-sdk/eventqueue"
	"github.com/JupiterOne/integration-sdk/metric"
	"github.com/JupiterOne/integration-sdk/synchronization"
)

// StepSummary identifies a step in lifecycle log lines and events.
type StepSummary struct {
	ID   string
	Name string
}

// Metric is a point-in-time measurement published through the logger.
type Metric struct {
	Name      string
	Unit      string
	Value     float64
	Timestamp time.Time
}

// ErrorEventOptions shapes PublishErrorEvent.
type ErrorEventOptions struct {
	Name    string
	Message string
	Err     error

	// EventData is rendered into the remote event description; LogData is
	// only attached to the local log line.
	EventData map[string]any
	LogData   map[string]any
}

// IntegrationLogger is the logging surface handed to steps and consumed by
// the scheduler and orchestrator.
type IntegrationLogger interface {
	Trace(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// Child returns a logger with bindings merged into every log line.
	Child(bindings map[string]any) IntegrationLogger

	PublishEvent(name, description string)
	PublishErrorEvent(options ErrorEventOptions)
	PublishMetric(m Metric)

	StepStart(step StepSummary)
	StepSuccess(step StepSummary)
	StepFailure(step StepSummary, err error)
	ValidationFailure(err error)
	SynchronizationUploadStart(job *synchronization.Job)
	SynchronizationUploadEnd(job *synchronization.Job)

	// IsHandledError reports whether err was classified by the framework.
	// The orchestrator aborts the job for unhandled errors.
	IsHandledError(err error) bool
}

type integrationLogger struct {
	log     *slog.Logger
	queue   *eventqueue.Queue
	metrics *metric.Metrics
}

// Option configures the logger.
type Option func(*integrationLogger)

// WithEventQueue routes published events into queue. Without a queue the
// logger only logs locally.
func WithEventQueue(queue *eventqueue.Queue) Option {
	return func(l *integrationLogger) {
		l.queue = queue
	}
}

// WithMetrics records published metrics into the registry's collectors.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(l *integrationLogger) {
		l.metrics = metrics
	}
}

// New creates an IntegrationLogger on top of log.
func New(log *slog.Logger, opts ...Option) IntegrationLogger {
	if log == nil {
		log = slog.Default()
	}
	l := &integrationLogger{log: log}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *integrationLogger) Trace(msg string, args ...any) {
	l.log.Debug(msg, args...)
}

func (l *integrationLogger) Info(msg string, args ...any) {
	l.log.Info(msg, args...)
}

func (l *integrationLogger) Warn(msg string, args ...any) {
	l.log.Warn(msg, args...)
}

func (l *integrationLogger) Error(msg string, args ...any) {
	l.log.Error(msg, args...)
}

func (l *integrationLogger) Child(bindings map[string]any) IntegrationLogger {
	args := make([]any, 0, len(bindings)*2)
	for k, v := range bindings {
		args = append(args, k, v)
	}
	return &integrationLogger{
		log:     l.log.With(args...),
		queue:   l.queue,
		metrics: l.metrics,
	}
}

func (l *integrationLogger) PublishEvent(name, description string) {
	l.log.Info(description, "event", name)
	l.enqueue(name, description)
}

func (l *integrationLogger) PublishErrorEvent(options ErrorEventOptions) {
	ie := errors.Wrap(options.Err)

	if options.EventData != nil {
		if ie.Attrs == nil {
			ie.Attrs = make(map[string]string, len(options.EventData))
		}
		for k, v := range options.EventData {
			ie.Attrs[k] = fmt.Sprintf("%v", v)
		}
	}
	description := ie.Description(options.Message)

	logArgs := []any{"event", options.Name, "errorCode", string(ie.Code), "errorId", ie.ErrorID}
	for k, v := range options.LogData {
		logArgs = append(logArgs, k, v)
	}
	l.log.Error(description, logArgs...)

	l.enqueue(options.Name, description)
}

func (l *integrationLogger) PublishMetric(m Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	l.log.Info("published metric",
		"metricName", m.Name, "unit", m.Unit, "value", m.Value, "timestamp", m.Timestamp)

	if l.metrics != nil && m.Unit == "Milliseconds" {
		l.metrics.OperationDuration.WithLabelValues(m.Name).Observe(m.Value / 1000)
	}
}

func (l *integrationLogger) StepStart(step StepSummary) {
	description := fmt.Sprintf("Starting step %q...", step.Name)
	l.log.Info(description, "step", step.ID)
	l.enqueue("step_start", description)
}

func (l *integrationLogger) StepSuccess(step StepSummary) {
	description := fmt.Sprintf("Completed step %q", step.Name)
	l.log.Info(description, "step", step.ID)
	l.enqueue("step_end", description)
}

func (l *integrationLogger) StepFailure(step StepSummary, err error) {
	ie := errors.Wrap(err)
	description := ie.Description(fmt.Sprintf("Step %q failed to complete due to error", step.Name))
	l.log.Error(description, "step", step.ID, "errorId", ie.ErrorID)
	l.enqueue("step_failure", description)
}

func (l *integrationLogger) ValidationFailure(err error) {
	ie := errors.Wrap(err)
	description := ie.Description("Error occurred while validating integration configuration")
	l.log.Error(description, "errorId", ie.ErrorID)
	l.enqueue("validation_failure", description)
}

func (l *integrationLogger) SynchronizationUploadStart(job *synchronization.Job) {
	description := fmt.Sprintf("Uploading collected data for synchronization job %q...", job.ID)
	l.log.Info(description, "jobId", job.ID)
	l.enqueue("sync_upload_start", description)
}

func (l *integrationLogger) SynchronizationUploadEnd(job *synchronization.Job) {
	description := fmt.Sprintf("Completed upload for synchronization job %q", job.ID)
	l.log.Info(description, "jobId", job.ID)
	l.enqueue("sync_upload_end", description)
}

func (l *integrationLogger) IsHandledError(err error) bool {
	return errors.IsHandled(err)
}

func (l *integrationLogger) enqueue(name, description string) {
	if l.queue == nil {
		return
	}
	l.queue.Enqueue(eventqueue.Event{Name: name, Description: description})
}

// TimeOperation runs fn and publishes its duration as a metric. The
// metric fires whether fn succeeds or fails; the caller still receives
// fn's error.
func TimeOperation(log IntegrationLogger, name string, fn func() error) error {
	start := time.Now()
	defer func() {
		log.PublishMetric(Metric{
			Name:      name,
			Unit:      "Milliseconds",
			Value:     float64(time.Since(start).Milliseconds()),
			Timestamp: time.Now().UTC(),
		})
	}()
	return fn()
}
