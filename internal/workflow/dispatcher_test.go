package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gcolon75/Project-Valine-sub002/internal/testutil"
)

func newTestDispatcher(t *testing.T, mock *testutil.MockWorkflowServer) *Dispatcher {
	t.Helper()
	client := NewClient(mock.URL(), "test-token", "gcolon75/valine", nil,
		WithMinInterval(0), WithRetries(2))
	d := NewDispatcher(client, "main", nil)
	d.sleep = func(ctx context.Context, _ time.Duration) error {
		// Collapse lookback delays in tests.
		return ctx.Err()
	}
	return d
}

func TestDispatcher_TriggerEmbedsCorrelationID(t *testing.T) {
	mock := testutil.NewMockWorkflowServer()
	defer mock.Close()
	d := newTestDispatcher(t, mock)

	cid, err := d.Trigger(context.Background(), "deploy.yml", map[string]string{"api_base": "https://api.valine.app"}, "U1")
	require.NoError(t, err)
	require.NotEmpty(t, cid)

	run, err := d.FindRunByCorrelation(context.Background(), "deploy.yml", cid, 3)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Contains(t, run.Name, cid)
}

func TestDispatcher_TriggerRetriesTransientFailures(t *testing.T) {
	mock := testutil.NewMockWorkflowServer()
	defer mock.Close()
	mock.FailDispatch = 2
	d := newTestDispatcher(t, mock)

	_, err := d.Trigger(context.Background(), "deploy.yml", nil, "U1")
	require.NoError(t, err, "two 500s then success should be absorbed by the retry bound")
	assert.Equal(t, 3, mock.DispatchCalls)
}

func TestDispatcher_TriggerSurfacesDispatchError(t *testing.T) {
	mock := testutil.NewMockWorkflowServer()
	defer mock.Close()
	mock.FailDispatch = 10
	d := newTestDispatcher(t, mock)

	_, err := d.Trigger(context.Background(), "deploy.yml", nil, "U1")
	require.Error(t, err)

	var de *DispatchError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "trigger", de.Op)
}

func TestDispatcher_FindRunNotFoundDegrades(t *testing.T) {
	mock := testutil.NewMockWorkflowServer()
	defer mock.Close()
	d := newTestDispatcher(t, mock)

	run, err := d.FindRunByCorrelation(context.Background(), "deploy.yml", "no-such-correlation", 3)
	require.NoError(t, err)
	assert.Nil(t, run, "missing run degrades to nil, not an error")
	assert.Equal(t, 3, mock.ListCalls)
}

func TestDispatcher_PollConclusionSuccess(t *testing.T) {
	mock := testutil.NewMockWorkflowServer()
	defer mock.Close()
	mock.StatusPolls = 2
	mock.AddRun(testutil.MockRun{ID: 7, Name: "deploy [abc]", Status: "in_progress"})
	d := newTestDispatcher(t, mock)
	d.sleep = func(context.Context, time.Duration) error { return nil }

	conclusion, err := d.PollConclusion(context.Background(), 7, 5*time.Second, time.Millisecond, 4*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, ConclusionSuccess, conclusion)
}

func TestDispatcher_PollConclusionFailure(t *testing.T) {
	mock := testutil.NewMockWorkflowServer()
	defer mock.Close()
	mock.CompleteWith = ConclusionFailure
	mock.AddRun(testutil.MockRun{ID: 8, Name: "deploy", Status: "in_progress"})
	d := newTestDispatcher(t, mock)
	d.sleep = func(context.Context, time.Duration) error { return nil }

	conclusion, err := d.PollConclusion(context.Background(), 8, 5*time.Second, time.Millisecond, 4*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, ConclusionFailure, conclusion)
}

func TestDispatcher_PollConclusionTimeout(t *testing.T) {
	mock := testutil.NewMockWorkflowServer()
	defer mock.Close()
	mock.StatusPolls = 1 << 30 // never completes
	mock.AddRun(testutil.MockRun{ID: 9, Name: "deploy", Status: "in_progress"})

	client := NewClient(mock.URL(), "t", "gcolon75/valine", nil, WithMinInterval(0))
	d := NewDispatcher(client, "main", nil)

	start := time.Now()
	conclusion, err := d.PollConclusion(context.Background(), 9, 300*time.Millisecond, 50*time.Millisecond, 100*time.Millisecond)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, ConclusionTimeout, conclusion)
	// One backoff overshoot past the deadline is acceptable; blocking is not.
	assert.Less(t, elapsed, 2*time.Second)
}

func TestDispatcher_PollRespectsContextCancellation(t *testing.T) {
	mock := testutil.NewMockWorkflowServer()
	defer mock.Close()
	mock.StatusPolls = 1 << 30
	mock.AddRun(testutil.MockRun{ID: 10, Name: "deploy", Status: "queued"})

	client := NewClient(mock.URL(), "t", "gcolon75/valine", nil, WithMinInterval(0))
	d := NewDispatcher(client, "main", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := d.PollConclusion(ctx, 10, time.Minute, 50*time.Millisecond, time.Second)
	assert.Error(t, err)
}
