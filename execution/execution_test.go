package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JupiterOne/integration-sdk/config"
	"github.com/JupiterOne/integration-sdk/errors"
	"github.com/JupiterOne/integration-sdk/graphobject"
	"github.com/JupiterOne/integration-sdk/pkg/retry"
	"github.com/JupiterOne/integration-sdk/scheduler"
	"github.com/JupiterOne/integration-sdk/synchronization"
)

const testBaseURL = "https://api.test.jupiterone.io"

// syncService mocks the synchronization API and records traffic.
type syncService struct {
	mu          sync.Mutex
	events      []string
	entities    int
	finalized   bool
	aborted     bool
	abortReason string
	partial     []string
}

func newSyncService(t *testing.T) (*syncService, *synchronization.Client) {
	t.Helper()

	httpClient := &http.Client{Timeout: 5 * time.Second}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	svc := &syncService{}

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/persister/synchronization/jobs",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{"job": map[string]any{"id": "job-1"}}))

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/persister/synchronization/jobs/job-1/events",
		func(req *http.Request) (*http.Response, error) {
			var event struct {
				Name string `json:"name"`
			}
			if err := json.NewDecoder(req.Body).Decode(&event); err != nil {
				return nil, err
			}
			svc.mu.Lock()
			svc.events = append(svc.events, event.Name)
			svc.mu.Unlock()
			return httpmock.NewJsonResponse(200, map[string]any{})
		})

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/persister/synchronization/jobs/job-1/entities",
		func(req *http.Request) (*http.Response, error) {
			var body struct {
				Entities []json.RawMessage `json:"entities"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			svc.mu.Lock()
			svc.entities += len(body.Entities)
			svc.mu.Unlock()
			return httpmock.NewJsonResponse(200, map[string]any{})
		})

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/persister/synchronization/jobs/job-1/relationships",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{}))

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/persister/synchronization/jobs/job-1/finalize",
		func(req *http.Request) (*http.Response, error) {
			var body struct {
				PartialDatasets struct {
					Types []string `json:"types"`
				} `json:"partialDatasets"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			svc.mu.Lock()
			svc.finalized = true
			svc.partial = body.PartialDatasets.Types
			svc.mu.Unlock()
			return httpmock.NewJsonResponse(200, map[string]any{})
		})

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/persister/synchronization/jobs/job-1/abort",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]string
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			svc.mu.Lock()
			svc.aborted = true
			svc.abortReason = body["reason"]
			svc.mu.Unlock()
			return httpmock.NewJsonResponse(200, map[string]any{})
		})

	client, err := synchronization.NewClient(testBaseURL, "test-key", synchronization.WithHTTPClient(httpClient))
	require.NoError(t, err)
	return svc, client
}

func entityProducingStep(id string, count int) scheduler.Step {
	return scheduler.Step{
		ID:    id,
		Name:  "Step " + id,
		Types: []string{"type_" + id},
		Handler: func(ctx context.Context, execCtx *scheduler.ExecutionContext) error {
			var entities []*graphobject.Entity
			for i := 0; i < count; i++ {
				entities = append(entities, &graphobject.Entity{
					Key:        fmt.Sprintf("%s-e%d", id, i),
					Type:       "type_" + id,
					Class:      []string{"Record"},
					Properties: map[string]any{"displayName": fmt.Sprintf("%s-e%d", id, i)},
				})
			}
			return execCtx.JobState.AddEntities(ctx, entities)
		},
	}
}

func TestExecute_HappyPath(t *testing.T) {
	svc, client := newSyncService(t)

	invocation := InvocationConfig{
		IntegrationSteps: scheduler.Steps{
			entityProducingStep("a", 3),
			entityProducingStep("b", 2),
		},
	}

	result, err := Execute(context.Background(), invocation, InvocationParams{
		Instance:       &scheduler.IntegrationInstance{ID: "instance-1"},
		Client:         client,
		CacheDirectory: t.TempDir(),
	})
	require.NoError(t, err)

	require.Len(t, result.IntegrationStepResults, 2)
	for _, stepResult := range result.IntegrationStepResults {
		assert.Equal(t, scheduler.StepStatusSuccess, stepResult.Status)
	}
	assert.Empty(t, result.PartialDatasets.Types)
	assert.Equal(t, synchronization.JobStatusFinalized, result.Job.Status)
	assert.Equal(t, int64(5), result.Upload.UploadedEntities)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.True(t, svc.finalized)
	assert.False(t, svc.aborted)
	assert.Equal(t, 5, svc.entities)
	assert.Equal(t, []string{}, svc.partial)

	// Step lifecycle events arrive before the upload bracket.
	assert.Equal(t,
		[]string{"step_start", "step_end", "step_start", "step_end", "sync_upload_start", "sync_upload_end"},
		svc.events)
}

func TestExecute_StepFailureStillFinalizes(t *testing.T) {
	svc, client := newSyncService(t)

	failing := scheduler.Step{
		ID:    "a",
		Name:  "Failing",
		Types: []string{"type_a"},
		Handler: func(context.Context, *scheduler.ExecutionContext) error {
			return fmt.Errorf("provider down")
		},
	}
	invocation := InvocationConfig{
		IntegrationSteps: scheduler.Steps{
			failing,
			{ID: "b", Name: "Dependent", Types: []string{"type_b"}, DependsOn: []string{"a"},
				Handler: func(context.Context, *scheduler.ExecutionContext) error { return nil }},
		},
	}

	result, err := Execute(context.Background(), invocation, InvocationParams{
		Instance:       &scheduler.IntegrationInstance{ID: "instance-1"},
		Client:         client,
		CacheDirectory: t.TempDir(),
	})
	require.NoError(t, err)

	statuses := map[string]scheduler.StepStatus{}
	for _, r := range result.IntegrationStepResults {
		statuses[r.ID] = r.Status
	}
	assert.Equal(t, scheduler.StepStatusFailure, statuses["a"])
	assert.Equal(t, scheduler.StepStatusPartialSuccessDueToDependencyFailure, statuses["b"])

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.True(t, svc.finalized)
	assert.ElementsMatch(t, []string{"type_a", "type_b"}, svc.partial)
	assert.Contains(t, svc.events, "step_failure")
}

func TestExecute_ValidationFailureAborts(t *testing.T) {
	svc, client := newSyncService(t)

	invocation := InvocationConfig{
		IntegrationSteps: scheduler.Steps{entityProducingStep("a", 1)},
		ValidateInvocation: func(context.Context, *ValidationContext) error {
			return fmt.Errorf("apiKey rejected by provider")
		},
	}

	_, err := Execute(context.Background(), invocation, InvocationParams{
		Instance:       &scheduler.IntegrationInstance{ID: "instance-1"},
		Client:         client,
		CacheDirectory: t.TempDir(),
	})
	require.Error(t, err)
	assert.Equal(t, errors.IntegrationValidationError, errors.CodeOf(err))

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.True(t, svc.aborted)
	assert.False(t, svc.finalized)
	assert.Contains(t, svc.abortReason, "apiKey rejected")
	assert.Contains(t, svc.events, "validation_failure")
}

func TestExecute_ConfigValidationFailsBeforeAnyCall(t *testing.T) {
	_, client := newSyncService(t)

	badInvocation := InvocationConfig{
		InstanceConfigFields: config.InstanceConfigFields{
			"apiKey": {Type: config.FieldTypeString},
		},
		IntegrationSteps: scheduler.Steps{entityProducingStep("a", 1)},
	}

	_, err := Execute(context.Background(), badInvocation, InvocationParams{
		Instance:       &scheduler.IntegrationInstance{ID: "instance-1", Config: map[string]any{}},
		Client:         client,
		CacheDirectory: t.TempDir(),
	})
	require.Error(t, err)
	assert.Equal(t, errors.ConfigValidationError, errors.CodeOf(err))
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestExecute_StartStateMismatchFailsFast(t *testing.T) {
	_, client := newSyncService(t)

	invocation := InvocationConfig{
		IntegrationSteps: scheduler.Steps{entityProducingStep("a", 1)},
		GetStepStartStates: func(*ValidationContext) scheduler.StepStartStates {
			return scheduler.StepStartStates{"a": {}, "ghost": {}}
		},
	}

	_, err := Execute(context.Background(), invocation, InvocationParams{
		Instance:       &scheduler.IntegrationInstance{ID: "instance-1"},
		Client:         client,
		CacheDirectory: t.TempDir(),
	})
	require.Error(t, err)
	assert.Equal(t, errors.StepStartStateInvalidStepID, errors.CodeOf(err))
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestExecute_UploadFailureAborts(t *testing.T) {
	svc, client := newSyncService(t)

	// Replace the entities responder with a persistent failure.
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/persister/synchronization/jobs/job-1/entities",
		httpmock.NewStringResponder(500, "persister unavailable"))

	invocation := InvocationConfig{
		IntegrationSteps: scheduler.Steps{entityProducingStep("a", 1)},
	}

	_, err := Execute(context.Background(), invocation, InvocationParams{
		Instance:       &scheduler.IntegrationInstance{ID: "instance-1"},
		Client:         client,
		CacheDirectory: t.TempDir(),
		Upload: synchronization.UploadOptions{
			Retry: retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		},
	})
	require.Error(t, err)
	assert.Equal(t, errors.SynchronizationAPIError, errors.CodeOf(err))

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.True(t, svc.aborted)
	assert.False(t, svc.finalized)
}

func TestExecute_DisabledStepViaStartStates(t *testing.T) {
	svc, client := newSyncService(t)

	invocation := InvocationConfig{
		IntegrationSteps: scheduler.Steps{
			entityProducingStep("a", 1),
			entityProducingStep("b", 1),
		},
		GetStepStartStates: func(*ValidationContext) scheduler.StepStartStates {
			return scheduler.StepStartStates{
				"a": {Disabled: true},
				"b": {},
			}
		},
	}

	result, err := Execute(context.Background(), invocation, InvocationParams{
		Instance:       &scheduler.IntegrationInstance{ID: "instance-1"},
		Client:         client,
		CacheDirectory: t.TempDir(),
	})
	require.NoError(t, err)

	statuses := map[string]scheduler.StepStatus{}
	for _, r := range result.IntegrationStepResults {
		statuses[r.ID] = r.Status
	}
	assert.Equal(t, scheduler.StepStatusDisabled, statuses["a"])
	assert.Equal(t, scheduler.StepStatusSuccess, statuses["b"])

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.True(t, svc.finalized)
	assert.Equal(t, []string{"type_a"}, svc.partial)
	assert.Equal(t, 1, svc.entities)
}
