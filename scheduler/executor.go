package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/JupiterOne/integration-sdk/errors"
	"github.com/JupiterOne/integration-sdk/logger"
	"github.com/JupiterOne/integration-sdk/metric"
	"github.com/JupiterOne/integration-sdk/schema"
)

// StepResult is the reported outcome of one declared step.
type StepResult struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Types        []string   `json:"declaredTypes"`
	DependsOn    []string   `json:"dependsOn,omitempty"`
	Status       StepStatus `json:"status"`
	PartialTypes []string   `json:"partialTypes,omitempty"`
}

// PartialDatasets lists the declared types whose owning steps did not
// complete successfully.
type PartialDatasets struct {
	Types []string `json:"types"`
}

// ExecuteStepsResult summarizes one scheduler run: exactly one entry per
// declared step, in declaration order.
type ExecuteStepsResult struct {
	IntegrationStepResults []StepResult `json:"integrationStepResults"`
	Metadata               struct {
		PartialDatasets PartialDatasets `json:"partialDatasets"`
	} `json:"metadata"`
}

// ExecuteStepsParams are the scheduler's inputs.
type ExecuteStepsParams struct {
	Steps       Steps
	StartStates StepStartStates
	Store       GraphWriter
	Logger      logger.IntegrationLogger
	Instance    *IntegrationInstance
	History     ExecutionHistory

	// Concurrency bounds how many handlers run at once. Defaults to 1 so
	// scheduling stays deterministic unless the integration opts in.
	Concurrency int

	// Validator, when set, validates every graph object a step produces
	// before it reaches the store.
	Validator *schema.Validator

	Metrics *metric.Metrics
}

// Steps is the ordered list of declared steps. Position in the list breaks
// dispatch ties.
type Steps []Step

type stepDone struct {
	id     string
	status StepStatus
}

// ExecuteSteps runs all declared steps in dependency order. Start-states
// and the step graph are validated first; both failure kinds are fatal
// before any handler runs. Steps whose transitive dependencies terminated
// without success are marked partial and never executed.
func ExecuteSteps(ctx context.Context, params ExecuteStepsParams) (*ExecuteStepsResult, error) {
	steps := params.Steps
	if err := validateStepGraph(steps); err != nil {
		return nil, err
	}
	if err := ValidateStepStartStates(steps, params.StartStates); err != nil {
		return nil, err
	}

	log := params.Logger
	if log == nil {
		log = logger.New(nil)
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	statuses := make(map[string]StepStatus, len(steps))
	for _, step := range steps {
		if params.StartStates[step.ID].Disabled {
			statuses[step.ID] = StepStatusDisabled
		} else {
			statuses[step.ID] = stepStatusPending
		}
	}

	allDepsTerminal := func(step Step) bool {
		for _, dep := range step.DependsOn {
			if !terminal(statuses[dep]) {
				return false
			}
		}
		return true
	}
	anyDepNotSuccessful := func(step Step) bool {
		for _, dep := range step.DependsOn {
			if status := statuses[dep]; terminal(status) && status != StepStatusSuccess {
				return true
			}
		}
		return false
	}

	running := 0
	done := make(chan stepDone)

	for {
		// Classify every ready step, repeating until the pass settles:
		// marking one step partial can make its dependents classifiable in
		// the same tick.
		progress := true
		for progress {
			progress = false
			for _, step := range steps {
				if statuses[step.ID] != stepStatusPending || !allDepsTerminal(step) {
					continue
				}
				if anyDepNotSuccessful(step) {
					statuses[step.ID] = StepStatusPartialSuccessDueToDependencyFailure
					log.Info("skipping step due to dependency outcome",
						"step", step.ID, "status", string(statuses[step.ID]))
					progress = true
					continue
				}
				if running < concurrency {
					statuses[step.ID] = stepStatusRunning
					running++
					progress = true
					go executeStep(ctx, step, params, log, done)
				}
			}
		}

		if running == 0 {
			break
		}

		d := <-done
		running--
		statuses[d.id] = d.status
	}

	return buildResult(steps, statuses), nil
}

// executeStep runs one handler with a step-scoped logger and job state and
// reports the terminal status on done.
func executeStep(ctx context.Context, step Step, params ExecuteStepsParams, log logger.IntegrationLogger, done chan<- stepDone) {
	stepLogger := log.Child(map[string]any{"step": step.ID})
	summary := logger.StepSummary{ID: step.ID, Name: step.Name}

	execCtx := &ExecutionContext{
		Logger:           stepLogger,
		JobState:         newStepJobState(step.ID, params.Store, params.Validator),
		Instance:         params.Instance,
		ExecutionHistory: params.History,
	}

	stepLogger.StepStart(summary)
	start := time.Now()

	err := runHandler(ctx, step, execCtx)

	status := StepStatusSuccess
	if err != nil {
		status = StepStatusFailure
		stepLogger.StepFailure(summary, errors.NewStepExecutionError(step.ID, err))
	} else {
		stepLogger.StepSuccess(summary)
	}

	if params.Metrics != nil {
		params.Metrics.StepDuration.
			WithLabelValues(step.ID, string(status)).
			Observe(time.Since(start).Seconds())
		params.Metrics.StepStatus.WithLabelValues(string(status)).Inc()
	}

	done <- stepDone{id: step.ID, status: status}
}

// runHandler invokes the handler, converting a panic into a step failure
// so one misbehaving integration cannot take down the invocation.
func runHandler(ctx context.Context, step Step, execCtx *ExecutionContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step handler panic: %v", r)
		}
	}()
	if step.Handler == nil {
		return fmt.Errorf("step %q has no execution handler", step.ID)
	}
	return step.Handler(ctx, execCtx)
}

// buildResult assembles the per-step results and the partial dataset
// union, preserving declaration order.
func buildResult(steps Steps, statuses map[string]StepStatus) *ExecuteStepsResult {
	result := &ExecuteStepsResult{}
	seenPartial := make(map[string]bool)
	partialTypes := []string{}

	for _, step := range steps {
		status := statuses[step.ID]
		stepResult := StepResult{
			ID:        step.ID,
			Name:      step.Name,
			Types:     step.Types,
			DependsOn: step.DependsOn,
			Status:    status,
		}

		if status != StepStatusSuccess {
			stepResult.PartialTypes = step.Types
			for _, t := range step.Types {
				if !seenPartial[t] {
					seenPartial[t] = true
					partialTypes = append(partialTypes, t)
				}
			}
		}

		result.IntegrationStepResults = append(result.IntegrationStepResults, stepResult)
	}

	result.Metadata.PartialDatasets = PartialDatasets{Types: partialTypes}
	return result
}
