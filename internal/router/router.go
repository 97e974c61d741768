// Package router is the top-level command dispatch: it authorizes verified
// invocations against the static command table, runs fast handlers inside
// the request cycle, and drives the deferred-response protocol for
// long-running ones (immediate acknowledgment, background execution, channel
// follow-up). Failure and timeout outcomes are routed through the alert
// manager; all terminal user messages carry the trace fingerprint.
package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gcolon75/Project-Valine-sub002/internal/alert"
	"github.com/gcolon75/Project-Valine-sub002/internal/chat"
	"github.com/gcolon75/Project-Valine-sub002/internal/interaction"
	"github.com/gcolon75/Project-Valine-sub002/internal/logging"
	opsotel "github.com/gcolon75/Project-Valine-sub002/internal/otel"
	"github.com/gcolon75/Project-Valine-sub002/internal/requestctx"
	tracestore "github.com/gcolon75/Project-Valine-sub002/internal/trace"
)

var tracer = opsotel.Tracer("github.com/gcolon75/Project-Valine-sub002/internal/router")

// DefaultAckDeadline bounds the synchronous part of every invocation.
const DefaultAckDeadline = 3 * time.Second

// Behavior classes.
const (
	ClassFast = "fast"
	ClassLong = "long"
)

// ValidationError reports a malformed argument or an unsafe user-supplied
// input. It is rendered to the requester naming the offending field and does
// not raise an alert.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthorizationError reports a policy refusal discovered inside a handler
// (beyond the table-level admin and confirm gates). User-visible, no alert.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string { return e.Reason }

// Result is a handler's terminal outcome.
type Result struct {
	Content string // user-facing message
	Status  string // tracestore.StatusOK, StatusError, or StatusTimeout
	RunURL  string // optional workflow run link, attached to alerts
	// Summary is the stable alert message for failure outcomes. It must not
	// contain per-invocation material (run URLs, ids) or identical failures
	// will never deduplicate. Defaults to Content.
	Summary string
	// Ephemeral marks the response visible only to the requester.
	Ephemeral bool
}

func (r *Result) alertMessage() string {
	if r.Summary != "" {
		return r.Summary
	}
	return r.Content
}

// HandlerFunc executes one command. A returned error is an internal failure;
// expected outcomes (including timeouts) are expressed in the Result.
type HandlerFunc func(ctx context.Context, req *Request) (*Result, error)

// Descriptor is one entry of the static command table.
type Descriptor struct {
	Name        string
	Description string
	Class       string // ClassFast or ClassLong
	// ClassOf, when set, picks the behavior class per invocation: a command
	// whose arguments decide whether it waits on a run. Overrides Class.
	ClassOf     func(inv *interaction.Invocation) string
	AdminOnly   bool
	Destructive bool // requires an explicit confirm argument
	Enabled     bool
	Handler     HandlerFunc
}

// classOf resolves the behavior class for one invocation.
func (d Descriptor) classOf(inv *interaction.Invocation) string {
	if d.ClassOf != nil {
		return d.ClassOf(inv)
	}
	return d.Class
}

// Request is what handlers receive: the verified invocation plus the trace
// hooks for recording steps.
type Request struct {
	Invocation *interaction.Invocation
	TraceID    string

	traces *tracestore.Store
}

// Step times fn and records it as a trace step. The handler's returned
// detail lands in the step; a returned error marks the step failed and is
// passed through.
func (r *Request) Step(name string, fn func() (detail string, err error)) error {
	start := time.Now()
	detail, err := fn()
	status := tracestore.StatusOK
	if err != nil {
		status = tracestore.StatusError
		detail = err.Error()
	}
	r.traces.RecordStep(r.TraceID, name, status, time.Since(start), detail)
	return err
}

// Authorizer decides admin-gate membership.
type Authorizer struct {
	AdminUserIDs []string
	AdminRoleIDs []string
}

// IsAdmin reports whether the requester id or any of its roles is on the
// configured allow-lists.
func (a Authorizer) IsAdmin(inv *interaction.Invocation) bool {
	for _, id := range a.AdminUserIDs {
		if id == inv.RequesterID {
			return true
		}
	}
	for _, role := range a.AdminRoleIDs {
		for _, have := range inv.RequesterRoles {
			if role == have {
				return true
			}
		}
	}
	return false
}

// Router dispatches verified payloads to command handlers.
type Router struct {
	table       map[string]Descriptor
	order       []string
	auth        Authorizer
	traces      *tracestore.Store
	alerts      *alert.Manager
	poster      chat.Poster
	logger      *logging.Logger
	ackDeadline time.Duration

	// background tracks spawned follow-up tasks so shutdown and tests can
	// wait on them.
	background sync.WaitGroup
}

// New creates a router over the given command table. Disabled commands stay
// in the table but are reported as unknown to requesters.
func New(table []Descriptor, auth Authorizer, traces *tracestore.Store, alerts *alert.Manager, poster chat.Poster, logger *logging.Logger) *Router {
	r := &Router{
		table:       make(map[string]Descriptor, len(table)),
		auth:        auth,
		traces:      traces,
		alerts:      alerts,
		poster:      poster,
		logger:      logger,
		ackDeadline: DefaultAckDeadline,
	}
	if r.logger == nil {
		r.logger = logging.Nop()
	}
	for _, d := range table {
		r.table[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	return r
}

// Wait blocks until all in-flight background executions have finished.
func (r *Router) Wait() {
	r.background.Wait()
}

// Commands returns the table entries in registration order.
func (r *Router) Commands() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.table[name])
	}
	return out
}

// Handle processes one verified payload and returns the response to send
// within the platform deadline. Long-running commands get a deferred
// acknowledgment here and a follow-up message from a background task.
func (r *Router) Handle(ctx context.Context, p *interaction.Payload) *interaction.Response {
	if p.Type == interaction.TypePing {
		return &interaction.Response{Type: interaction.ResponsePong}
	}

	inv := &interaction.Invocation{
		ID:             uuid.NewString(),
		CommandName:    p.CommandName,
		Arguments:      p.Arguments,
		RequesterID:    p.RequesterID,
		RequesterRoles: p.RequesterRoles,
		ChannelID:      p.ChannelID,
		ReceivedAt:     time.Now().UTC(),
	}
	ctx = requestctx.SetInvocationID(ctx, inv.ID)
	ctx = requestctx.SetRequesterID(ctx, inv.RequesterID)

	ctx, span := tracer.Start(ctx, "command.dispatch",
		trace.WithAttributes(
			attribute.String("command.name", inv.CommandName),
			attribute.String("invocation_id", inv.ID),
		))
	defer span.End()

	desc, ok := r.table[inv.CommandName]
	if !ok || !desc.Enabled {
		r.logger.Info("unknown command", map[string]any{
			"command":       inv.CommandName,
			"invocation_id": inv.ID,
		})
		return &interaction.Response{
			Type:      interaction.ResponseMessage,
			Content:   fmt.Sprintf("Unknown command %q.", inv.CommandName),
			Ephemeral: true,
		}
	}

	if denial := r.authorize(desc, inv); denial != "" {
		r.logger.Warn("command denied", map[string]any{
			"command":       inv.CommandName,
			"requester_id":  inv.RequesterID,
			"invocation_id": inv.ID,
			"reason":        denial,
		})
		return &interaction.Response{Type: interaction.ResponseMessage, Content: denial, Ephemeral: true}
	}

	traceID := r.traces.StartTrace(inv.CommandName, inv.RequesterID)
	req := &Request{Invocation: inv, TraceID: traceID, traces: r.traces}

	r.logger.Info("command authorized", map[string]any{
		"command":       inv.CommandName,
		"requester_id":  inv.RequesterID,
		"invocation_id": inv.ID,
		"trace_id":      traceID,
	})

	if desc.classOf(inv) == ClassLong {
		// Acknowledge now; execute in the background and follow up on the
		// channel. The background context is detached from the request so
		// the HTTP response cycle ending does not cancel polling.
		bgCtx := context.WithoutCancel(ctx)
		r.background.Add(1)
		go func() {
			defer r.background.Done()
			res, err := r.run(bgCtx, desc, req)
			content := r.finish(bgCtx, desc, req, res, err)
			r.followUp(bgCtx, inv, content)
		}()
		return &interaction.Response{Type: interaction.ResponseDeferred}
	}

	fastCtx, cancel := context.WithTimeout(ctx, r.ackDeadline)
	defer cancel()
	res, err := r.run(fastCtx, desc, req)
	content := r.finish(ctx, desc, req, res, err)
	ephemeral := res != nil && res.Ephemeral
	return &interaction.Response{Type: interaction.ResponseMessage, Content: content, Ephemeral: ephemeral}
}

// authorize returns a denial message, or "" when the invocation may proceed.
func (r *Router) authorize(desc Descriptor, inv *interaction.Invocation) string {
	if desc.AdminOnly && !r.auth.IsAdmin(inv) {
		return "⛔ You are not authorized to run this command."
	}
	if desc.Destructive && !inv.BoolArg("confirm") {
		return "This command changes operational settings. Re-run it with `confirm:true`."
	}
	return ""
}

// run executes the handler with panic containment.
func (r *Router) run(ctx context.Context, desc Descriptor, req *Request) (res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panicked", map[string]any{
				"command":  desc.Name,
				"panic":    fmt.Sprint(rec),
				"trace_id": req.TraceID,
				"stack":    string(debug.Stack()),
			})
			res, err = nil, fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return desc.Handler(ctx, req)
}

// finish closes the trace, routes failures and timeouts through the alert
// manager, and renders the terminal user message.
func (r *Router) finish(ctx context.Context, desc Descriptor, req *Request, res *Result, err error) string {
	fingerprint := tracestore.Fingerprint(r.traces.GetTrace(req.TraceID))

	var verr *ValidationError
	if errors.As(err, &verr) {
		r.traces.FinishTrace(req.TraceID, tracestore.StatusError)
		r.logger.Info("command rejected", map[string]any{
			"command":       desc.Name,
			"invocation_id": req.Invocation.ID,
			"field":         verr.Field,
			"reason":        verr.Reason,
		})
		return fmt.Sprintf("Invalid `%s`: %s", verr.Field, verr.Reason)
	}
	var aerr *AuthorizationError
	if errors.As(err, &aerr) {
		r.traces.FinishTrace(req.TraceID, tracestore.StatusError)
		r.logger.Warn("command refused", map[string]any{
			"command":       desc.Name,
			"invocation_id": req.Invocation.ID,
			"reason":        aerr.Reason,
		})
		return "⛔ " + aerr.Reason
	}

	if err != nil {
		r.traces.FinishTrace(req.TraceID, tracestore.StatusError)
		r.logger.Error("command failed", map[string]any{
			"command":       desc.Name,
			"invocation_id": req.Invocation.ID,
			"trace_id":      req.TraceID,
			"error":         err.Error(),
		})
		r.alerts.Emit(ctx, alert.Alert{
			Severity: alert.SeverityCritical,
			SourceID: desc.Name,
			Message:  err.Error(),
			TraceID:  req.TraceID,
		})
		return fmt.Sprintf("❌ %s failed. (trace %s)", desc.Name, fingerprint)
	}

	r.traces.FinishTrace(req.TraceID, res.Status)

	switch res.Status {
	case tracestore.StatusTimeout:
		r.alerts.Emit(ctx, alert.Alert{
			Severity: alert.SeverityWarning,
			SourceID: desc.Name,
			Message:  res.alertMessage(),
			TraceID:  req.TraceID,
			RunURL:   res.RunURL,
		})
	case tracestore.StatusError:
		r.alerts.Emit(ctx, alert.Alert{
			Severity: alert.SeverityCritical,
			SourceID: desc.Name,
			Message:  res.alertMessage(),
			TraceID:  req.TraceID,
			RunURL:   res.RunURL,
		})
	}

	r.logger.Info("command completed", map[string]any{
		"command":       desc.Name,
		"invocation_id": req.Invocation.ID,
		"trace_id":      req.TraceID,
		"status":        res.Status,
	})
	return res.Content
}

// followUp posts the terminal message after a deferred acknowledgment.
func (r *Router) followUp(ctx context.Context, inv *interaction.Invocation, content string) {
	if inv.ChannelID == "" || r.poster == nil {
		return
	}
	postCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := r.poster.PostMessage(postCtx, inv.ChannelID, content); err != nil {
		r.logger.Error("follow-up post failed", map[string]any{
			"invocation_id": inv.ID,
			"channel_id":    inv.ChannelID,
			"error":         err.Error(),
		})
	}
}
