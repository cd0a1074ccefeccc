package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all framework-level metrics (not provider-specific)
type Metrics struct {
	// Step execution metrics
	StepDuration *prometheus.HistogramVec
	StepStatus   *prometheus.CounterVec

	// Event queue metrics
	EventsPublished prometheus.Counter
	EventsRetried   prometheus.Counter
	EventsDropped   prometheus.Counter

	// Synchronization metrics
	UploadedObjects  *prometheus.CounterVec
	UploadBatchFails prometheus.Counter

	// Graph store metrics
	FlushedObjects *prometheus.CounterVec
	FlushDuration  prometheus.Histogram

	// Generic timed operations published via the logger
	OperationDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all framework metrics
func NewMetrics() *Metrics {
	return &Metrics{
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "integration",
				Subsystem: "step",
				Name:      "duration_seconds",
				Help:      "Step handler execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"step", "status"},
		),

		StepStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "integration",
				Subsystem: "step",
				Name:      "status_total",
				Help:      "Terminal step statuses by kind",
			},
			[]string{"status"},
		),

		EventsPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "integration",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Lifecycle events delivered to the synchronization service",
			},
		),

		EventsRetried: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "integration",
				Subsystem: "events",
				Name:      "retried_total",
				Help:      "Lifecycle event post attempts that were retried",
			},
		),

		EventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "integration",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Lifecycle events dropped after exhausting retries",
			},
		),

		UploadedObjects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "integration",
				Subsystem: "sync",
				Name:      "uploaded_total",
				Help:      "Graph objects uploaded to the synchronization job",
			},
			[]string{"kind"},
		),

		UploadBatchFails: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "integration",
				Subsystem: "sync",
				Name:      "upload_batch_failures_total",
				Help:      "Upload batches that failed persistently",
			},
		),

		FlushedObjects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "integration",
				Subsystem: "graphstore",
				Name:      "flushed_total",
				Help:      "Graph objects written to the on-disk index",
			},
			[]string{"kind"},
		),

		FlushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "integration",
				Subsystem: "graphstore",
				Name:      "flush_duration_seconds",
				Help:      "Graph store flush duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "integration",
				Subsystem: "operation",
				Name:      "duration_seconds",
				Help:      "Duration of timed operations published via the logger",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// collectors returns every core metric for bulk registration
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.StepDuration,
		m.StepStatus,
		m.EventsPublished,
		m.EventsRetried,
		m.EventsDropped,
		m.UploadedObjects,
		m.UploadBatchFails,
		m.FlushedObjects,
		m.FlushDuration,
		m.OperationDuration,
	}
}
