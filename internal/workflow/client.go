// Package workflow triggers and observes remote CI workflow runs. Dispatch
// carries no run id back, so runs are correlated by embedding a correlation
// id in the requested run name and searching recent runs for it. Every
// outbound call shares one minimum-interval rate limiter and a bounded retry
// on transient failure.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/gcolon75/Project-Valine-sub002/internal/logging"
)

// DefaultMinInterval spaces outbound workflow API calls across all
// concurrently polling invocations.
const DefaultMinInterval = 500 * time.Millisecond

// DefaultRetries bounds retry attempts after a transient failure.
const DefaultRetries = 2

// DispatchError is a workflow API call that exhausted its retries.
type DispatchError struct {
	Op  string
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("workflow %s failed: %v", e.Op, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Client calls the workflow service API for one repository.
type Client struct {
	baseURL    string
	token      string
	repo       string // "owner/name"
	httpClient *http.Client
	limiter    *rate.Limiter
	retries    int
	logger     *logging.Logger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithMinInterval overrides the shared minimum interval between API calls.
// Non-positive disables the gate (tests).
func WithMinInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Every(d), 1) }
}

// WithRetries overrides the transient-failure retry bound.
func WithRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a workflow API client for repo at baseURL.
func NewClient(baseURL, token, repo string, logger *logging.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		token:      token,
		repo:       repo,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(DefaultMinInterval), 1),
		retries:    DefaultRetries,
		logger:     logger,
	}
	if c.logger == nil {
		c.logger = logging.Nop()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run is one workflow run as reported by the API.
type Run struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion,omitempty"`
	HTMLURL    string    `json:"html_url,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// Run statuses.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Run conclusions reported by the API.
const (
	ConclusionSuccess   = "success"
	ConclusionFailure   = "failure"
	ConclusionCancelled = "cancelled"
	ConclusionTimedOut  = "timed_out"
)

type dispatchRequest struct {
	Ref    string            `json:"ref"`
	Inputs map[string]string `json:"inputs,omitempty"`
}

// TriggerDispatch requests a run of the named workflow. The API returns no
// run id; callers correlate via the run-name input.
func (c *Client) TriggerDispatch(ctx context.Context, workflow, ref string, inputs map[string]string) error {
	path := fmt.Sprintf("/repos/%s/actions/workflows/%s/dispatches", c.repo, workflow)
	return c.do(ctx, "trigger", http.MethodPost, path, dispatchRequest{Ref: ref, Inputs: inputs}, nil)
}

type listRunsResponse struct {
	WorkflowRuns []Run `json:"workflow_runs"`
}

// ListRuns returns the most recent runs of the named workflow, newest first.
func (c *Client) ListRuns(ctx context.Context, workflow string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	path := fmt.Sprintf("/repos/%s/actions/workflows/%s/runs?per_page=%d", c.repo, workflow, limit)
	var out listRunsResponse
	if err := c.do(ctx, "list-runs", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.WorkflowRuns, nil
}

// GetRun returns the current status of a run.
func (c *Client) GetRun(ctx context.Context, runID int64) (*Run, error) {
	path := fmt.Sprintf("/repos/%s/actions/runs/%d", c.repo, runID)
	var out Run
	if err := c.do(ctx, "get-run", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one API call under the shared rate limiter, retrying transient
// failures (network errors, 429, 5xx) up to the retry bound. Exhausting
// retries surfaces a DispatchError.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return &DispatchError{Op: op, Err: err}
		}
		if attempt > 0 {
			c.logger.Warn("retrying workflow API call", map[string]any{
				"op":      op,
				"attempt": attempt,
				"error":   fmt.Sprint(lastErr),
			})
		}

		retryable, err := c.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return &DispatchError{Op: op, Err: err}
		}
	}
	return &DispatchError{Op: op, Err: fmt.Errorf("retries exhausted: %w", lastErr)}
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any) (retryable bool, err error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return true, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return false, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("decoding response: %w", err)
		}
	}
	return false, nil
}
