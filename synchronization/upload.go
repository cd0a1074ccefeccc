package synchronization

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JupiterOne/integration-sdk/errors"
	"github.com/JupiterOne/integration-sdk/graphobject"
	"github.com/JupiterOne/integration-sdk/graphstore"
	"github.com/JupiterOne/integration-sdk/metric"
	"github.com/JupiterOne/integration-sdk/pkg/retry"
)

// DefaultBatchSize caps how many objects of one kind go into a single
// upload payload.
const DefaultBatchSize = 250

// DefaultUploadConcurrency bounds how many batch posts run at once.
const DefaultUploadConcurrency = 4

// GraphDataReader serves the flushed graph objects of one invocation.
// Implemented by graphstore.FileSystemGraphStore.
type GraphDataReader interface {
	IterateEntities(ctx context.Context, filter graphstore.EntityFilter, iteratee func(*graphobject.Entity) error) error
	IterateRelationships(ctx context.Context, filter graphstore.RelationshipFilter, iteratee func(*graphobject.Relationship) error) error
}

// UploadOptions tunes the upload driver.
type UploadOptions struct {
	BatchSize   int
	Concurrency int

	// RateLimit bounds batch posts per second; zero means unlimited.
	RateLimit rate.Limit

	Retry   retry.Config
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

func (o UploadOptions) withDefaults() UploadOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultUploadConcurrency
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = retry.Uploads()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// UploadSummary reports what one upload pass delivered.
type UploadSummary struct {
	UploadedEntities      int64
	UploadedRelationships int64
	Batches               int64
}

// UploadGraphData walks the store's on-disk indices and uploads every
// flushed entity and relationship to the job in batches. Batch posts run
// with bounded parallelism; individual batch failures retry with backoff
// and a persistent failure fails the pass so the orchestrator can abort.
func UploadGraphData(ctx context.Context, client *Client, job *Job, reader GraphDataReader, opts UploadOptions) (UploadSummary, error) {
	opts = opts.withDefaults()

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(opts.RateLimit, 1)
	}

	var summary UploadSummary

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	postEntities := func(batch []*graphobject.Entity) {
		g.Go(func() error {
			if err := waitLimiter(gctx, limiter); err != nil {
				return err
			}
			err := retry.Do(gctx, opts.Retry, func() error {
				return client.UploadEntities(gctx, job, batch)
			})
			if err != nil {
				if opts.Metrics != nil {
					opts.Metrics.UploadBatchFails.Inc()
				}
				return errors.NewSynchronizationAPIError(err, client.jobPath(job, "entities"))
			}
			atomic.AddInt64(&summary.UploadedEntities, int64(len(batch)))
			atomic.AddInt64(&summary.Batches, 1)
			if opts.Metrics != nil {
				opts.Metrics.UploadedObjects.WithLabelValues("entities").Add(float64(len(batch)))
			}
			return nil
		})
	}

	postRelationships := func(batch []*graphobject.Relationship) {
		g.Go(func() error {
			if err := waitLimiter(gctx, limiter); err != nil {
				return err
			}
			err := retry.Do(gctx, opts.Retry, func() error {
				return client.UploadRelationships(gctx, job, batch)
			})
			if err != nil {
				if opts.Metrics != nil {
					opts.Metrics.UploadBatchFails.Inc()
				}
				return errors.NewSynchronizationAPIError(err, client.jobPath(job, "relationships"))
			}
			atomic.AddInt64(&summary.UploadedRelationships, int64(len(batch)))
			atomic.AddInt64(&summary.Batches, 1)
			if opts.Metrics != nil {
				opts.Metrics.UploadedObjects.WithLabelValues("relationships").Add(float64(len(batch)))
			}
			return nil
		})
	}

	var entityBatch []*graphobject.Entity
	err := reader.IterateEntities(gctx, graphstore.EntityFilter{}, func(e *graphobject.Entity) error {
		entityBatch = append(entityBatch, e)
		if len(entityBatch) >= opts.BatchSize {
			postEntities(entityBatch)
			entityBatch = nil
		}
		return nil
	})
	if err == nil && len(entityBatch) > 0 {
		postEntities(entityBatch)
	}
	if err != nil {
		// Drain in-flight posts before reporting the iteration failure.
		if waitErr := g.Wait(); waitErr != nil {
			opts.Logger.Warn("upload batches failed during iteration error", "error", waitErr)
		}
		return summary, err
	}

	var relationshipBatch []*graphobject.Relationship
	err = reader.IterateRelationships(gctx, graphstore.RelationshipFilter{}, func(r *graphobject.Relationship) error {
		relationshipBatch = append(relationshipBatch, r)
		if len(relationshipBatch) >= opts.BatchSize {
			postRelationships(relationshipBatch)
			relationshipBatch = nil
		}
		return nil
	})
	if err == nil && len(relationshipBatch) > 0 {
		postRelationships(relationshipBatch)
	}

	if waitErr := g.Wait(); waitErr != nil && err == nil {
		err = waitErr
	}

	opts.Logger.Info("graph data upload complete",
		"jobId", job.ID,
		"entities", atomic.LoadInt64(&summary.UploadedEntities),
		"relationships", atomic.LoadInt64(&summary.UploadedRelationships),
		"batches", atomic.LoadInt64(&summary.Batches))
	return summary, err
}

func waitLimiter(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}
