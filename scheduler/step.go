// Package scheduler executes an integration's steps in dependency order
// with bounded concurrency, propagating failure to dependents and
// reporting one terminal status per step.
package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/JupiterOne/integration-sdk/errors"
	"github.com/JupiterOne/integration-sdk/graphobject"
	"github.com/JupiterOne/integration-sdk/logger"
)

// StepStatus is a step's terminal outcome.
type StepStatus string

const (
	// StepStatusSuccess indicates the handler completed without error.
	StepStatusSuccess StepStatus = "SUCCESS"
	// StepStatusFailure indicates the handler returned an error.
	StepStatusFailure StepStatus = "FAILURE"
	// StepStatusPartialSuccessDueToDependencyFailure indicates the step
	// was skipped because a transitive dependency did not succeed; its
	// declared types are reported as partial datasets.
	StepStatusPartialSuccessDueToDependencyFailure StepStatus = "PARTIAL_SUCCESS_DUE_TO_DEPENDENCY_FAILURE"
	// StepStatusDisabled indicates the start-state disabled the step.
	StepStatusDisabled StepStatus = "DISABLED"

	// Internal scheduling states; never terminal.
	stepStatusPending StepStatus = "PENDING"
	stepStatusRunning StepStatus = "RUNNING"
)

// ExecutionHistory carries run metadata into step handlers.
type ExecutionHistory struct {
	CurrentRunID string
	StartedAt    time.Time
}

// IntegrationInstance identifies the integration instance an invocation
// runs for, with its validated configuration values.
type IntegrationInstance struct {
	ID     string
	Config map[string]any
}

// ExecutionContext is handed to each step handler. The JobState is scoped
// to the step's bucket; the Logger carries a step binding.
type ExecutionContext struct {
	Logger           logger.IntegrationLogger
	JobState         JobState
	Instance         *IntegrationInstance
	ExecutionHistory ExecutionHistory
}

// StepExecutionHandler performs a step's data collection. A returned error
// marks the step FAILURE and propagates to dependents.
type StepExecutionHandler func(ctx context.Context, execCtx *ExecutionContext) error

// Step is an immutable descriptor of one unit of collection.
type Step struct {
	ID        string
	Name      string
	Types     []string
	DependsOn []string
	Handler   StepExecutionHandler
}

// StepStartState is the caller's enable/disable decision for one step.
type StepStartState struct {
	Disabled bool
}

// StepStartStates maps step id to start state. It must cover exactly the
// declared steps.
type StepStartStates map[string]StepStartState

// DefaultStartStates returns enabled start states for every declared step.
func DefaultStartStates(steps []Step) StepStartStates {
	states := make(StepStartStates, len(steps))
	for _, step := range steps {
		states[step.ID] = StepStartState{}
	}
	return states
}

// ValidateStepStartStates verifies states covers exactly the declared
// steps: extraneous ids and missing ids are both fatal configuration
// errors.
func ValidateStepStartStates(steps []Step, states StepStartStates) error {
	declared := make(map[string]bool, len(steps))
	for _, step := range steps {
		declared[step.ID] = true
	}

	var invalid []string
	for id := range states {
		if !declared[id] {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return errors.NewStepStartStateInvalidStepIDError(invalid)
	}

	var unaccounted []string
	for _, step := range steps {
		if _, ok := states[step.ID]; !ok {
			unaccounted = append(unaccounted, step.ID)
		}
	}
	if len(unaccounted) > 0 {
		sort.Strings(unaccounted)
		return errors.NewUnaccountedStepStartStatesError(unaccounted)
	}
	return nil
}

// validateStepGraph rejects duplicate step ids, dependencies on undeclared
// steps, and cycles.
func validateStepGraph(steps []Step) error {
	byID := make(map[string]Step, len(steps))
	for _, step := range steps {
		if _, dup := byID[step.ID]; dup {
			return errors.NewConfigValidationError("duplicate step id: " + step.ID)
		}
		byID[step.ID] = step
	}

	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := byID[dep]; !ok {
				return errors.NewConfigValidationError(
					"step " + step.ID + " depends on undeclared step " + dep)
			}
		}
	}

	// Depth-first cycle detection with a three-color marking.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	colors := make(map[string]int, len(steps))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		for _, dep := range byID[id].DependsOn {
			switch colors[dep] {
			case gray:
				return false
			case white:
				if !visit(dep) {
					return false
				}
			}
		}
		colors[id] = black
		return true
	}

	for _, step := range steps {
		if colors[step.ID] == white {
			if !visit(step.ID) {
				return errors.NewConfigValidationError("step dependency graph contains a cycle")
			}
		}
	}
	return nil
}

// CollectGraphObjectTypes returns the union of declared types of the given
// steps, deduplicated in declaration order.
func CollectGraphObjectTypes(steps []Step) []string {
	seen := make(map[string]bool)
	var types []string
	for _, step := range steps {
		for _, t := range step.Types {
			if !seen[t] {
				seen[t] = true
				types = append(types, t)
			}
		}
	}
	return types
}

// terminal reports whether a status is final.
func terminal(status StepStatus) bool {
	switch status {
	case StepStatusSuccess, StepStatusFailure,
		StepStatusPartialSuccessDueToDependencyFailure, StepStatusDisabled:
		return true
	}
	return false
}

// GraphWriter is the store surface the scheduler writes through.
// Implemented by graphstore.FileSystemGraphStore.
type GraphWriter interface {
	AddEntities(ctx context.Context, bucketPath string, entities []*graphobject.Entity) error
	AddRelationships(ctx context.Context, bucketPath string, relationships []*graphobject.Relationship) error
}
