package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gcolon75/Project-Valine-sub002/internal/logging"
	opsotel "github.com/gcolon75/Project-Valine-sub002/internal/otel"
)

var tracer = opsotel.Tracer("github.com/gcolon75/Project-Valine-sub002/internal/workflow")

// ConclusionTimeout is the terminal outcome when a poll hits its deadline.
// It is a normal result, not an error.
const ConclusionTimeout = "timeout"

// Polling defaults.
const (
	DefaultPollTimeout = 10 * time.Minute
	DefaultBaseBackoff = 2 * time.Second
	DefaultMaxBackoff  = 30 * time.Second
	DefaultMaxLookback = 5
	lookbackDelay      = 2 * time.Second
)

// Dispatcher triggers workflow runs and tracks them by correlation id.
type Dispatcher struct {
	client *Client
	ref    string
	logger *logging.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher triggering runs on the given git ref.
func NewDispatcher(client *Client, ref string, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Dispatcher{
		client: client,
		ref:    ref,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Trigger dispatches the named workflow and returns the correlation id that
// identifies the resulting run. The id is passed both as a plain input and as
// part of the requested run name so FindRunByCorrelation can match it later.
func (d *Dispatcher) Trigger(ctx context.Context, workflowName string, inputs map[string]string, requesterID string) (string, error) {
	correlationID := uuid.NewString()

	ctx, span := tracer.Start(ctx, "workflow.trigger",
		trace.WithAttributes(
			attribute.String("workflow.name", workflowName),
			attribute.String("correlation_id", correlationID),
		))
	defer span.End()

	merged := make(map[string]string, len(inputs)+2)
	for k, v := range inputs {
		merged[k] = v
	}
	merged["correlation_id"] = correlationID
	merged["run_name"] = fmt.Sprintf("%s [%s]", workflowName, correlationID)

	if err := d.client.TriggerDispatch(ctx, workflowName, d.ref, merged); err != nil {
		return correlationID, err
	}

	d.logger.Info("workflow dispatched", map[string]any{
		"workflow":       workflowName,
		"correlation_id": correlationID,
		"requester_id":   requesterID,
	})
	return correlationID, nil
}

// FindRunByCorrelation lists recent runs of the workflow until one whose name
// contains the correlation id appears, retrying up to maxLookback attempts
// with a short delay. Returns nil (no error) when the run never shows up —
// callers degrade to "check manually" rather than blocking.
func (d *Dispatcher) FindRunByCorrelation(ctx context.Context, workflowName, correlationID string, maxLookback int) (*Run, error) {
	if maxLookback <= 0 {
		maxLookback = DefaultMaxLookback
	}

	ctx, span := tracer.Start(ctx, "workflow.find_run",
		trace.WithAttributes(
			attribute.String("workflow.name", workflowName),
			attribute.String("correlation_id", correlationID),
		))
	defer span.End()

	for attempt := 0; attempt < maxLookback; attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, lookbackDelay); err != nil {
				return nil, err
			}
		}

		runs, err := d.client.ListRuns(ctx, workflowName, 10)
		if err != nil {
			return nil, err
		}
		for i := range runs {
			if containsCorrelation(runs[i].Name, correlationID) {
				span.SetAttributes(attribute.Int64("workflow.run_id", runs[i].ID))
				return &runs[i], nil
			}
		}
	}

	d.logger.Warn("run not found by correlation id", map[string]any{
		"workflow":       workflowName,
		"correlation_id": correlationID,
		"attempts":       maxLookback,
	})
	return nil, nil
}

// PollConclusion repeatedly queries the run until it completes or the
// timeout elapses. Backoff starts at baseBackoff and doubles up to
// maxBackoff. A timeout returns ConclusionTimeout with a nil error.
func (d *Dispatcher) PollConclusion(ctx context.Context, runID int64, timeout, baseBackoff, maxBackoff time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	if baseBackoff <= 0 {
		baseBackoff = DefaultBaseBackoff
	}
	if maxBackoff < baseBackoff {
		maxBackoff = DefaultMaxBackoff
	}

	ctx, span := tracer.Start(ctx, "workflow.poll",
		trace.WithAttributes(attribute.Int64("workflow.run_id", runID)))
	defer span.End()

	deadline := time.Now().Add(timeout)
	backoff := baseBackoff

	for {
		run, err := d.client.GetRun(ctx, runID)
		if err != nil {
			return "", err
		}
		if run.Status == StatusCompleted {
			span.SetAttributes(attribute.String("workflow.conclusion", run.Conclusion))
			return run.Conclusion, nil
		}

		if time.Now().After(deadline) {
			span.SetAttributes(attribute.String("workflow.conclusion", ConclusionTimeout))
			return ConclusionTimeout, nil
		}

		if err := d.sleep(ctx, backoff); err != nil {
			return "", err
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func containsCorrelation(name, correlationID string) bool {
	return correlationID != "" && strings.Contains(name, correlationID)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
