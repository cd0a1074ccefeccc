// Package synchronization drives the lifecycle of a remote sync job:
// initiate, batched upload of flushed graph objects, then finalize or
// abort. It also provides the event poster the event queue drains into.
package synchronization

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/JupiterOne/integration-sdk/eventqueue"
	"github.com/JupiterOne/integration-sdk/graphobject"
	"github.com/JupiterOne/integration-sdk/pkg/retry"
)

// JobStatus is the remote lifecycle state of a synchronization job.
type JobStatus string

const (
	// JobStatusAwaitingUploads is the initial state after initiate.
	JobStatusAwaitingUploads JobStatus = "AWAITING_UPLOADS"
	// JobStatusFinalizePending indicates finalize was requested and the
	// server is applying the uploaded graph.
	JobStatusFinalizePending JobStatus = "FINALIZE_PENDING"
	// JobStatusFinalized is the terminal success state.
	JobStatusFinalized JobStatus = "FINALIZED"
	// JobStatusAborted is the terminal failure state.
	JobStatusAborted JobStatus = "ABORTED"
)

// Job identifies a remote synchronization job. Beyond the id and reported
// status the job is opaque to the framework.
type Job struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`
}

// DefaultRequestTimeout bounds each synchronization API call. Timeouts
// count as retriable failures for the upload driver.
const DefaultRequestTimeout = 30 * time.Second

// Client talks to the synchronization service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithRequestTimeout overrides the per-request timeout.
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithClientLogger sets the client's logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a synchronization client for the service at baseURL,
// authenticating every request with apiKey.
func NewClient(baseURL, apiKey string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("synchronization: base URL is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("synchronization: API key is required")
	}

	client := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// JobURL returns the job's derived resource URL.
func (c *Client) JobURL(job *Job) string {
	return fmt.Sprintf("%s/persister/synchronization/jobs/%s", c.baseURL, job.ID)
}

// InitiateSync creates a remote synchronization job for an integration
// instance.
func (c *Client) InitiateSync(ctx context.Context, integrationInstanceID string) (*Job, error) {
	var response struct {
		Job Job `json:"job"`
	}
	err := c.post(ctx, "/persister/synchronization/jobs",
		map[string]string{"integrationInstanceId": integrationInstanceID}, &response)
	if err != nil {
		return nil, err
	}
	if response.Job.ID == "" {
		return nil, fmt.Errorf("synchronization: service returned a job without an id")
	}

	job := response.Job
	if job.Status == "" {
		job.Status = JobStatusAwaitingUploads
	}
	c.logger.Info("synchronization job initiated", "jobId", job.ID)
	return &job, nil
}

// UploadEntities uploads one batch of entities to the job.
func (c *Client) UploadEntities(ctx context.Context, job *Job, entities []*graphobject.Entity) error {
	return c.post(ctx, c.jobPath(job, "entities"),
		map[string]any{"entities": entities}, nil)
}

// UploadRelationships uploads one batch of relationships to the job.
func (c *Client) UploadRelationships(ctx context.Context, job *Job, relationships []*graphobject.Relationship) error {
	return c.post(ctx, c.jobPath(job, "relationships"),
		map[string]any{"relationships": relationships}, nil)
}

// FinalizeSync requests finalization of the job, reporting the declared
// types of steps that did not complete successfully.
func (c *Client) FinalizeSync(ctx context.Context, job *Job, partialTypes []string) error {
	if partialTypes == nil {
		partialTypes = []string{}
	}
	payload := map[string]any{
		"partialDatasets": map[string]any{"types": partialTypes},
	}
	if err := c.post(ctx, c.jobPath(job, "finalize"), payload, nil); err != nil {
		return err
	}
	job.Status = JobStatusFinalized
	c.logger.Info("synchronization job finalized", "jobId", job.ID, "partialTypes", partialTypes)
	return nil
}

// AbortSync aborts the job with a reason.
func (c *Client) AbortSync(ctx context.Context, job *Job, reason string) error {
	if err := c.post(ctx, c.jobPath(job, "abort"), map[string]string{"reason": reason}, nil); err != nil {
		return err
	}
	job.Status = JobStatusAborted
	c.logger.Warn("synchronization job aborted", "jobId", job.ID, "reason", reason)
	return nil
}

// EventPoster returns a poster delivering queue events to the job's event
// endpoint.
func (c *Client) EventPoster(job *Job) eventqueue.PosterFunc {
	return func(ctx context.Context, event eventqueue.Event) error {
		return c.post(ctx, c.jobPath(job, "events"), event, nil)
	}
}

func (c *Client) jobPath(job *Job, suffix string) string {
	return fmt.Sprintf("/persister/synchronization/jobs/%s/%s", job.ID, suffix)
}

// post issues one JSON POST and decodes the response into out when out is
// non-nil. Non-2xx statuses are errors carrying the status line.
func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("synchronization: failed to encode request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("synchronization: failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("synchronization: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		statusErr := fmt.Errorf("synchronization: %s returned %d %s: %s",
			path, resp.StatusCode, http.StatusText(resp.StatusCode), strings.TrimSpace(string(detail)))
		if !retriableStatus(resp.StatusCode) {
			return retry.Permanent(statusErr)
		}
		return statusErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("synchronization: failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}

// retriableStatus reports whether a response status is worth retrying.
// Client errors are final, except for request timeouts and throttling.
func retriableStatus(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return true
	}
	return status < 400 || status > 499
}
