// Package commands implements the handler behind each entry of the command
// table: CI verification lookups, diagnostic and deploy workflow dispatch,
// status aggregation, operational settings changes, and trace introspection.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gcolon75/Project-Valine-sub002/internal/config"
	"github.com/gcolon75/Project-Valine-sub002/internal/digest"
	"github.com/gcolon75/Project-Valine-sub002/internal/interaction"
	"github.com/gcolon75/Project-Valine-sub002/internal/logging"
	"github.com/gcolon75/Project-Valine-sub002/internal/registry"
	"github.com/gcolon75/Project-Valine-sub002/internal/router"
	"github.com/gcolon75/Project-Valine-sub002/internal/settings"
	tracestore "github.com/gcolon75/Project-Valine-sub002/internal/trace"
	"github.com/gcolon75/Project-Valine-sub002/internal/urlcheck"
	"github.com/gcolon75/Project-Valine-sub002/internal/workflow"
)

// Workflow files the bot orchestrates.
const (
	WorkflowVerify       = "verify.yml"
	WorkflowDiagnostics  = "diagnostics.yml"
	WorkflowDeployClient = "deploy-client.yml"
)

// DigestWorkflows is the set covered by status and digest aggregation.
var DigestWorkflows = []string{WorkflowVerify, WorkflowDiagnostics, WorkflowDeployClient}

// Deps carries the collaborators handlers need. Settings may be nil when the
// settings store is unavailable; the settings commands then refuse.
type Deps struct {
	Config     config.Config
	Workflows  *workflow.Client
	Dispatcher *workflow.Dispatcher
	Traces     *tracestore.Store
	Registry   *registry.Registry
	Settings   *settings.Store
	Logger     *logging.Logger

	// PollTimeout bounds waiting on a dispatched run; zero means the
	// dispatcher default.
	PollTimeout time.Duration
}

type handlers struct {
	Deps
}

// Table builds the static command table resolved once at startup.
func Table(d Deps) []router.Descriptor {
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	h := &handlers{d}
	return []router.Descriptor{
		{
			Name:        "verify-latest",
			Description: "Report the most recent verification run",
			Class:       router.ClassFast,
			Enabled:     true,
			Handler:     h.verifyLatest,
		},
		{
			Name:        "verify-run",
			Description: "Report a specific run by id",
			Class:       router.ClassFast,
			Enabled:     true,
			Handler:     h.verifyRun,
		},
		{
			Name:        "diagnose",
			Description: "Dispatch the diagnostics workflow and wait for its conclusion",
			Class:       router.ClassLong,
			Enabled:     true,
			Handler:     h.diagnose,
		},
		{
			Name:        "status",
			Description: "Latest run per workflow plus current operational settings",
			Class:       router.ClassFast,
			Enabled:     true,
			Handler:     h.status,
		},
		{
			Name:        "deploy-client",
			Description: "Dispatch the client deploy workflow, optionally waiting for it",
			Class:       router.ClassFast,
			// Waiting on the run's conclusion outlives the ack window; a plain
			// dispatch answers inline.
			ClassOf: func(inv *interaction.Invocation) string {
				if inv.BoolArg("wait") {
					return router.ClassLong
				}
				return router.ClassFast
			},
			Enabled: true,
			Handler: h.deployClient,
		},
		{
			Name:        "set-frontend",
			Description: "Update the frontend URL setting",
			Class:       router.ClassFast,
			AdminOnly:   true,
			Destructive: true,
			Enabled:     true,
			Handler:     h.setFrontend,
		},
		{
			Name:        "set-api-base",
			Description: "Update the API base URL setting",
			Class:       router.ClassFast,
			AdminOnly:   true,
			Destructive: true,
			Enabled:     true,
			Handler:     h.setAPIBase,
		},
		{
			Name:        "agents",
			Description: "List registered automation agents",
			Class:       router.ClassFast,
			Enabled:     true,
			Handler:     h.agents,
		},
		{
			Name:        "status-digest",
			Description: "Aggregate run outcomes over the last day or week",
			Class:       router.ClassFast,
			Enabled:     true,
			Handler:     h.statusDigest,
		},
		{
			Name:        "debug-last",
			Description: "Show your most recent execution trace",
			Class:       router.ClassFast,
			Enabled:     d.Config.EnableDebugCmd,
			Handler:     h.debugLast,
		},
	}
}

func (h *handlers) verifyLatest(ctx context.Context, req *router.Request) (*router.Result, error) {
	var latest *workflow.Run
	err := req.Step("list-runs", func() (string, error) {
		runs, err := h.Workflows.ListRuns(ctx, WorkflowVerify, 1)
		if err != nil {
			return "", err
		}
		if len(runs) == 0 {
			return "no runs", nil
		}
		latest = &runs[0]
		return fmt.Sprintf("run %d", latest.ID), nil
	})
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return &router.Result{Content: "No verification runs found.", Status: tracestore.StatusOK}, nil
	}
	return &router.Result{
		Content: renderRun(WorkflowVerify, latest),
		Status:  tracestore.StatusOK,
		RunURL:  latest.HTMLURL,
	}, nil
}

func (h *handlers) verifyRun(ctx context.Context, req *router.Request) (*router.Result, error) {
	runID, err := int64Arg(req, "run_id")
	if err != nil {
		return nil, err
	}

	var run *workflow.Run
	err = req.Step("get-run", func() (string, error) {
		r, err := h.Workflows.GetRun(ctx, runID)
		if err != nil {
			return "", err
		}
		run = r
		return run.Status, nil
	})
	if err != nil {
		var derr *workflow.DispatchError
		if errors.As(err, &derr) {
			return &router.Result{
				Content: fmt.Sprintf("Run %d could not be fetched. Check the id and try again.", runID),
				Status:  tracestore.StatusError,
			}, nil
		}
		return nil, err
	}
	return &router.Result{
		Content: renderRun(run.Name, run),
		Status:  tracestore.StatusOK,
		RunURL:  run.HTMLURL,
	}, nil
}

func (h *handlers) diagnose(ctx context.Context, req *router.Request) (*router.Result, error) {
	return h.runWorkflow(ctx, req, WorkflowDiagnostics, nil, true)
}

func (h *handlers) status(ctx context.Context, req *router.Request) (*router.Result, error) {
	workflows := DigestWorkflows
	if name, ok := req.Invocation.StringArg("workflow"); ok && name != "" {
		workflows = []string{name}
	}

	var b strings.Builder
	b.WriteString("Current status:\n")
	err := req.Step("list-runs", func() (string, error) {
		for _, wf := range workflows {
			runs, err := h.Workflows.ListRuns(ctx, wf, 1)
			if err != nil {
				fmt.Fprintf(&b, "• %s: unavailable\n", wf)
				continue
			}
			if len(runs) == 0 {
				fmt.Fprintf(&b, "• %s: no runs\n", wf)
				continue
			}
			fmt.Fprintf(&b, "• %s\n", renderRun(wf, &runs[0]))
		}
		return fmt.Sprintf("%d workflows", len(workflows)), nil
	})
	if err != nil {
		return nil, err
	}

	if h.Settings != nil {
		b.WriteString("Settings:\n")
		fmt.Fprintf(&b, "• frontend: %s\n", h.settingLine(ctx, settings.KeyFrontendURL))
		fmt.Fprintf(&b, "• api base: %s\n", h.settingLine(ctx, settings.KeyAPIBase))
	}

	return &router.Result{
		Content: strings.TrimRight(b.String(), "\n"),
		Status:  tracestore.StatusOK,
	}, nil
}

func (h *handlers) settingLine(ctx context.Context, key string) string {
	v, err := h.Settings.Get(ctx, key)
	switch {
	case err == nil:
		return v
	case errors.Is(err, settings.ErrNotFound):
		return "unset"
	default:
		h.Logger.Warn("settings read failed", map[string]any{"setting": key, "error": err.Error()})
		return "unavailable"
	}
}

func (h *handlers) deployClient(ctx context.Context, req *router.Request) (*router.Result, error) {
	inputs := map[string]string{}
	if apiBase, ok := req.Invocation.StringArg("api_base"); ok && apiBase != "" {
		if err := urlcheck.Validate(apiBase, urlcheck.Options{}); err != nil {
			return nil, &router.ValidationError{Field: "api_base", Reason: err.Error()}
		}
		inputs["api_base"] = apiBase
	}
	return h.runWorkflow(ctx, req, WorkflowDeployClient, inputs, req.Invocation.BoolArg("wait"))
}

// runWorkflow is the trigger/locate/poll sequence shared by the long-running
// commands. Each phase is recorded as a trace step.
func (h *handlers) runWorkflow(ctx context.Context, req *router.Request, workflowName string, inputs map[string]string, wait bool) (*router.Result, error) {
	var correlationID string
	err := req.Step("trigger", func() (string, error) {
		id, err := h.Dispatcher.Trigger(ctx, workflowName, inputs, req.Invocation.RequesterID)
		correlationID = id
		if err != nil {
			return "", err
		}
		return "correlation " + id, nil
	})
	if err != nil {
		var derr *workflow.DispatchError
		if errors.As(err, &derr) {
			return &router.Result{
				Content: fmt.Sprintf("❌ Could not start %s (correlation id %s). Try again shortly.", workflowName, correlationID),
				Status:  tracestore.StatusError,
				Summary: fmt.Sprintf("could not start %s", workflowName),
			}, nil
		}
		return nil, err
	}

	// Inside the ack window a single lookup is all there is time for; the
	// degraded "check manually" answer covers a run that has not appeared yet.
	lookback := workflow.DefaultMaxLookback
	if !wait {
		lookback = 1
	}

	var run *workflow.Run
	err = req.Step("locate", func() (string, error) {
		found, err := h.Dispatcher.FindRunByCorrelation(ctx, workflowName, correlationID, lookback)
		if err != nil {
			return "", err
		}
		if found == nil {
			return "not found", nil
		}
		run = found
		return fmt.Sprintf("run %d", run.ID), nil
	})
	if err != nil {
		return nil, err
	}
	if run == nil {
		return &router.Result{
			Content: fmt.Sprintf("🚀 %s started (correlation id %s) but the run was not located yet. Check the workflow list manually.", workflowName, correlationID),
			Status:  tracestore.StatusOK,
		}, nil
	}

	if !wait {
		return &router.Result{
			Content: fmt.Sprintf("🚀 %s started: %s", workflowName, run.HTMLURL),
			Status:  tracestore.StatusOK,
			RunURL:  run.HTMLURL,
		}, nil
	}

	var conclusion string
	err = req.Step("poll", func() (string, error) {
		c, err := h.Dispatcher.PollConclusion(ctx, run.ID, h.PollTimeout, workflow.DefaultBaseBackoff, workflow.DefaultMaxBackoff)
		if err != nil {
			return "", err
		}
		conclusion = c
		return c, nil
	})
	if err != nil {
		return nil, err
	}

	switch conclusion {
	case workflow.ConclusionSuccess:
		return &router.Result{
			Content: fmt.Sprintf("✅ success — %s finished. %s", workflowName, run.HTMLURL),
			Status:  tracestore.StatusOK,
			RunURL:  run.HTMLURL,
		}, nil
	case workflow.ConclusionTimeout:
		return &router.Result{
			Content: fmt.Sprintf("⏱️ timeout — %s did not finish in time. %s", workflowName, run.HTMLURL),
			Status:  tracestore.StatusTimeout,
			RunURL:  run.HTMLURL,
			Summary: fmt.Sprintf("%s poll timed out", workflowName),
		}, nil
	default:
		return &router.Result{
			Content: fmt.Sprintf("❌ %s — %s finished unsuccessfully. %s", conclusion, workflowName, run.HTMLURL),
			Status:  tracestore.StatusError,
			RunURL:  run.HTMLURL,
			Summary: fmt.Sprintf("%s concluded %s", workflowName, conclusion),
		}, nil
	}
}

func (h *handlers) setFrontend(ctx context.Context, req *router.Request) (*router.Result, error) {
	return h.setSetting(ctx, req, settings.KeyFrontendURL, "Frontend URL")
}

func (h *handlers) setAPIBase(ctx context.Context, req *router.Request) (*router.Result, error) {
	return h.setSetting(ctx, req, settings.KeyAPIBase, "API base URL")
}

func (h *handlers) setSetting(ctx context.Context, req *router.Request, key, label string) (*router.Result, error) {
	raw, ok := req.Invocation.StringArg("url")
	if !ok || raw == "" {
		return nil, &router.ValidationError{Field: "url", Reason: "required"}
	}
	if err := urlcheck.Validate(raw, urlcheck.Options{}); err != nil {
		return nil, &router.ValidationError{Field: "url", Reason: err.Error()}
	}
	if h.Settings == nil {
		return nil, &router.AuthorizationError{Reason: "The settings store is not available on this instance."}
	}

	err := req.Step("store", func() (string, error) {
		return key, h.Settings.Set(ctx, key, raw, req.Invocation.RequesterID)
	})
	if err != nil {
		if errors.Is(err, settings.ErrWritesDisabled) {
			return nil, &router.AuthorizationError{Reason: "Setting writes are disabled on this instance."}
		}
		return nil, err
	}
	return &router.Result{
		Content: fmt.Sprintf("✅ %s updated to %s", label, raw),
		Status:  tracestore.StatusOK,
	}, nil
}

func (h *handlers) agents(_ context.Context, _ *router.Request) (*router.Result, error) {
	list := h.Registry.List()
	var b strings.Builder
	fmt.Fprintf(&b, "Registered agents (%d):\n", len(list))
	for _, a := range list {
		fmt.Fprintf(&b, "• %s — %s: %s (entry: %s)\n", a.ID, a.Name, a.Description, a.EntryCommand)
	}
	return &router.Result{
		Content: strings.TrimRight(b.String(), "\n"),
		Status:  tracestore.StatusOK,
	}, nil
}

func (h *handlers) statusDigest(ctx context.Context, req *router.Request) (*router.Result, error) {
	period, ok := req.Invocation.StringArg("period")
	if !ok || period == "" {
		period = digest.PeriodDaily
	}
	window, known := digest.WindowFor(period)
	if !known {
		return nil, &router.ValidationError{Field: "period", Reason: "must be daily or weekly"}
	}

	var content string
	err := req.Step("aggregate", func() (string, error) {
		content = digest.Build(ctx, h.Workflows, DigestWorkflows, window, time.Now().UTC())
		return period, nil
	})
	if err != nil {
		return nil, err
	}
	return &router.Result{Content: content, Status: tracestore.StatusOK}, nil
}

func (h *handlers) debugLast(_ context.Context, req *router.Request) (*router.Result, error) {
	tr := h.Traces.LastTraceFor(req.Invocation.RequesterID)
	if tr == nil {
		return &router.Result{
			Content:   "No recent trace found.",
			Status:    tracestore.StatusOK,
			Ephemeral: true,
		}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Trace %s — %s (%s)\n", tracestore.Fingerprint(tr), tr.CommandName, tr.Status)
	for _, step := range tr.Steps {
		fmt.Fprintf(&b, "• %s: %s (%dms)", step.Name, step.Status, step.DurationMS)
		if step.Detail != "" {
			fmt.Fprintf(&b, " — %s", step.Detail)
		}
		b.WriteString("\n")
	}
	return &router.Result{
		Content:   strings.TrimRight(b.String(), "\n"),
		Status:    tracestore.StatusOK,
		Ephemeral: true,
	}, nil
}

func renderRun(name string, run *workflow.Run) string {
	marker := "🏃"
	detail := run.Status
	if run.Status == workflow.StatusCompleted {
		detail = run.Conclusion
		switch run.Conclusion {
		case workflow.ConclusionSuccess:
			marker = "✅"
		case workflow.ConclusionCancelled:
			marker = "🚫"
		default:
			marker = "❌"
		}
	}
	out := fmt.Sprintf("%s %s run %d: %s", marker, name, run.ID, detail)
	if run.HTMLURL != "" {
		out += " " + run.HTMLURL
	}
	return out
}

// int64Arg parses a numeric argument that may arrive as a JSON number or a
// string.
func int64Arg(req *router.Request, name string) (int64, error) {
	v, ok := req.Invocation.Arguments[name]
	if !ok {
		return 0, &router.ValidationError{Field: name, Reason: "required"}
	}
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, &router.ValidationError{Field: name, Reason: "must be a run id"}
		}
		return id, nil
	default:
		return 0, &router.ValidationError{Field: name, Reason: "must be a run id"}
	}
}
