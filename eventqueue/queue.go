// Package eventqueue provides the ordered channel carrying step lifecycle
// events to the remote synchronization service. Events are enqueued
// without blocking the producer and drained by a single worker that posts
// strictly in FIFO order, so the remote event stream mirrors local
// ordering.
package eventqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/JupiterOne/integration-sdk/metric"
	"github.com/JupiterOne/integration-sdk/pkg/retry"
)

// Event is one lifecycle event destined for the synchronization job's
// event endpoint.
type Event struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Poster delivers a single event to the remote endpoint. The queue retries
// transient failures; a returned error after the final attempt drops the
// event.
type Poster interface {
	PostEvent(ctx context.Context, event Event) error
}

// PosterFunc adapts a function to the Poster interface.
type PosterFunc func(ctx context.Context, event Event) error

// PostEvent implements Poster.
func (f PosterFunc) PostEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Queue is a drainable FIFO event channel with a single posting worker.
// Enqueue never blocks and never fails into the producer; post failures
// are retried with bounded exponential backoff and dropped with a local
// warning once attempts are exhausted.
type Queue struct {
	poster      Poster
	logger      *slog.Logger
	retryConfig retry.Config
	metrics     *metric.Metrics

	mu      sync.Mutex
	events  []Event
	posting bool
	stopped bool

	// wake signals the worker that new events arrived; stateChange is
	// replaced and closed on every drain step so OnIdle waiters re-check.
	wake        chan struct{}
	stateChange chan struct{}

	workerDone chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithRetryConfig overrides the per-event retry schedule.
func WithRetryConfig(cfg retry.Config) Option {
	return func(q *Queue) {
		q.retryConfig = cfg
	}
}

// WithMetrics enables published/retried/dropped counters.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(q *Queue) {
		q.metrics = metrics
	}
}

// NewQueue creates a queue posting through poster. Call Start before
// enqueuing.
func NewQueue(poster Poster, opts ...Option) *Queue {
	q := &Queue{
		poster:      poster,
		logger:      slog.Default(),
		retryConfig: retry.Events(),
		wake:        make(chan struct{}, 1),
		stateChange: make(chan struct{}),
		workerDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the drain worker. The worker exits when ctx is cancelled
// or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	go q.worker(ctx)
}

// Enqueue appends an event to the queue. It never blocks; events enqueued
// by one producer are delivered in enqueue order. Events enqueued after
// Stop are discarded.
func (q *Queue) Enqueue(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.logger.Warn("event enqueued after queue stop; discarding", "event", event.Name)
		return
	}
	q.events = append(q.events, event)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// OnIdle blocks until the queue is empty and no post is in flight, or ctx
// is cancelled.
func (q *Queue) OnIdle(ctx context.Context) error {
	for {
		q.mu.Lock()
		idle := len(q.events) == 0 && !q.posting
		ch := q.stateChange
		q.mu.Unlock()

		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Stop halts the worker after the in-flight post completes. Pending events
// are dropped with a warning.
func (q *Queue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	pending := len(q.events)
	q.events = nil
	q.mu.Unlock()

	if pending > 0 {
		q.logger.Warn("event queue stopped with pending events", "dropped", pending)
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-q.workerDone:
		return nil
	case <-timer.C:
		return context.DeadlineExceeded
	}
}

// worker drains the queue one event at a time. The next event is posted
// only after the previous post has fully completed, preserving FIFO
// delivery order at the remote.
func (q *Queue) worker(ctx context.Context) {
	defer close(q.workerDone)

	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return
		}
		if len(q.events) == 0 {
			q.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
			continue
		}
		event := q.events[0]
		q.events = q.events[1:]
		q.posting = true
		q.mu.Unlock()

		q.post(ctx, event)

		q.mu.Lock()
		q.posting = false
		close(q.stateChange)
		q.stateChange = make(chan struct{})
		q.mu.Unlock()
	}
}

// post delivers one event with retry. Failures never propagate to the
// producer; after the final attempt the event is dropped with a warning.
func (q *Queue) post(ctx context.Context, event Event) {
	attempts := 0
	err := retry.Do(ctx, q.retryConfig, func() error {
		attempts++
		return q.poster.PostEvent(ctx, event)
	})
	if attempts > 1 && q.metrics != nil {
		q.metrics.EventsRetried.Add(float64(attempts - 1))
	}
	if err != nil {
		q.logger.Warn("dropping event after failed delivery",
			"event", event.Name, "attempts", attempts, "error", err)
		if q.metrics != nil {
			q.metrics.EventsDropped.Inc()
		}
		return
	}
	if q.metrics != nil {
		q.metrics.EventsPublished.Inc()
	}
}
