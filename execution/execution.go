// Package execution orchestrates one integration invocation: it validates
// configuration and start-states, initiates the remote synchronization
// job, runs the step scheduler against a fresh graph store, uploads the
// collected graph, and finalizes or aborts the job.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/JupiterOne/integration-sdk/config"
	"github.com/JupiterOne/integration-sdk/errors"
	"github.com/JupiterOne/integration-sdk/eventqueue"
	"github.com/JupiterOne/integration-sdk/graphstore"
	"github.com/JupiterOne/integration-sdk/logger"
	"github.com/JupiterOne/integration-sdk/metric"
	"github.com/JupiterOne/integration-sdk/scheduler"
	"github.com/JupiterOne/integration-sdk/schema"
	"github.com/JupiterOne/integration-sdk/synchronization"
)

// ValidationContext is handed to the invocation hooks before any step
// runs.
type ValidationContext struct {
	Logger   logger.IntegrationLogger
	Instance *scheduler.IntegrationInstance
}

// InvocationConfig is the integration's declaration: its expected config
// fields, its steps, and its optional hooks.
type InvocationConfig struct {
	InstanceConfigFields config.InstanceConfigFields
	IntegrationSteps     scheduler.Steps

	// GetStepStartStates decides per-step enablement. When nil every step
	// is enabled. The returned states must cover exactly the declared
	// steps.
	GetStepStartStates func(ctx *ValidationContext) scheduler.StepStartStates

	// ValidateInvocation runs before scheduling; an error aborts the
	// invocation and the synchronization job.
	ValidateInvocation func(ctx context.Context, vctx *ValidationContext) error
}

// InvocationParams carry the per-run wiring.
type InvocationParams struct {
	Instance *scheduler.IntegrationInstance
	Client   *synchronization.Client

	// CacheDirectory roots the graph store. When empty a fresh directory
	// is created under the process temp root; the framework never cleans
	// it up.
	CacheDirectory string

	Concurrency            int
	EnableSchemaValidation bool

	// Upload tunes the batch upload driver; zero values use the driver's
	// defaults.
	Upload synchronization.UploadOptions

	Log *slog.Logger
}

// ExecutionResult summarizes one invocation.
type ExecutionResult struct {
	IntegrationStepResults []scheduler.StepResult
	PartialDatasets        scheduler.PartialDatasets
	Job                    *synchronization.Job
	Upload                 synchronization.UploadSummary
	CacheDirectory         string
}

// Execute runs one invocation to completion. Configuration and start-state
// failures are returned before the synchronization job is initiated; any
// later failure aborts the job before returning.
func Execute(ctx context.Context, invocation InvocationConfig, params InvocationParams) (*ExecutionResult, error) {
	if params.Instance == nil {
		return nil, errors.NewConfigValidationError("integration instance is required")
	}
	if params.Client == nil {
		return nil, errors.NewConfigValidationError("synchronization client is required")
	}

	log := params.Log
	if log == nil {
		log = slog.Default()
	}

	// Config validation happens before anything remote.
	validatedConfig, err := config.ValidateInstanceConfig(invocation.InstanceConfigFields, params.Instance.Config)
	if err != nil {
		return nil, err
	}
	instance := &scheduler.IntegrationInstance{ID: params.Instance.ID, Config: validatedConfig}

	metricsRegistry := metric.NewMetricsRegistry()

	preLogger := logger.New(log, logger.WithMetrics(metricsRegistry.Metrics))
	vctx := &ValidationContext{Logger: preLogger, Instance: instance}

	startStates := scheduler.DefaultStartStates(invocation.IntegrationSteps)
	if invocation.GetStepStartStates != nil {
		startStates = invocation.GetStepStartStates(vctx)
	}
	if err := scheduler.ValidateStepStartStates(invocation.IntegrationSteps, startStates); err != nil {
		return nil, err
	}

	cacheDirectory := params.CacheDirectory
	if cacheDirectory == "" {
		cacheDirectory, err = os.MkdirTemp("", "integration-cache-")
		if err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	store, err := graphstore.NewFileSystemGraphStore(cacheDirectory,
		graphstore.WithLogger(log),
		graphstore.WithMetrics(metricsRegistry.Metrics))
	if err != nil {
		return nil, err
	}

	job, err := params.Client.InitiateSync(ctx, instance.ID)
	if err != nil {
		return nil, errors.NewSynchronizationAPIError(err, "/persister/synchronization/jobs")
	}

	queue := eventqueue.NewQueue(params.Client.EventPoster(job),
		eventqueue.WithLogger(log),
		eventqueue.WithMetrics(metricsRegistry.Metrics))
	queue.Start(ctx)
	defer func() {
		if stopErr := queue.Stop(10 * time.Second); stopErr != nil {
			log.Warn("event queue did not stop cleanly", "error", stopErr)
		}
	}()

	intLogger := logger.New(log,
		logger.WithEventQueue(queue),
		logger.WithMetrics(metricsRegistry.Metrics))

	result := &ExecutionResult{Job: job, CacheDirectory: cacheDirectory}

	abort := func(cause error) error {
		if !intLogger.IsHandledError(cause) {
			intLogger.PublishErrorEvent(logger.ErrorEventOptions{
				Name:    "unexpected_error",
				Message: "Unexpected error during invocation",
				Err:     cause,
			})
		}
		if idleErr := queue.OnIdle(ctx); idleErr != nil {
			log.Warn("event queue did not drain before abort", "error", idleErr)
		}
		if abortErr := params.Client.AbortSync(ctx, job, cause.Error()); abortErr != nil {
			log.Error("failed to abort synchronization job", "jobId", job.ID, "error", abortErr)
		}
		return cause
	}

	if invocation.ValidateInvocation != nil {
		if err := invocation.ValidateInvocation(ctx, &ValidationContext{Logger: intLogger, Instance: instance}); err != nil {
			verr := errors.NewIntegrationValidationError(err)
			intLogger.ValidationFailure(verr)
			return result, abort(verr)
		}
	}

	var validator *schema.Validator
	if params.EnableSchemaValidation {
		validator, err = schema.NewValidator()
		if err != nil {
			return result, abort(err)
		}
	}

	stepResults, err := scheduler.ExecuteSteps(ctx, scheduler.ExecuteStepsParams{
		Steps:       invocation.IntegrationSteps,
		StartStates: startStates,
		Store:       store,
		Logger:      intLogger,
		Instance:    instance,
		History: scheduler.ExecutionHistory{
			CurrentRunID: uuid.NewString(),
			StartedAt:    time.Now().UTC(),
		},
		Concurrency: params.Concurrency,
		Validator:   validator,
		Metrics:     metricsRegistry.Metrics,
	})
	if err != nil {
		return result, abort(err)
	}
	result.IntegrationStepResults = stepResults.IntegrationStepResults
	result.PartialDatasets = stepResults.Metadata.PartialDatasets

	if err := store.Flush(ctx); err != nil {
		return result, abort(err)
	}

	// Lifecycle events precede upload traffic on the remote stream.
	if err := queue.OnIdle(ctx); err != nil {
		return result, abort(err)
	}

	intLogger.SynchronizationUploadStart(job)
	uploadOpts := params.Upload
	uploadOpts.Logger = log
	uploadOpts.Metrics = metricsRegistry.Metrics
	upload, err := synchronization.UploadGraphData(ctx, params.Client, job, store, uploadOpts)
	result.Upload = upload
	if err != nil {
		return result, abort(err)
	}
	intLogger.SynchronizationUploadEnd(job)

	if err := queue.OnIdle(ctx); err != nil {
		return result, abort(err)
	}

	if err := params.Client.FinalizeSync(ctx, job, stepResults.Metadata.PartialDatasets.Types); err != nil {
		return result, abort(errors.NewSynchronizationAPIError(err, "finalize"))
	}

	log.Info("integration invocation complete",
		"jobId", job.ID,
		"steps", len(result.IntegrationStepResults),
		"partialTypes", result.PartialDatasets.Types)
	return result, nil
}
