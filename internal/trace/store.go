// Package trace keeps bounded, in-process execution traces for command
// invocations. Traces exist for debugging recent activity only: they are
// capacity-bounded, evicted oldest-first, and never persisted. A process
// restart discards everything.
package trace

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gcolon75/Project-Valine-sub002/internal/redact"
)

// Status of a trace or step.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// DefaultCapacity bounds the store when no capacity is configured.
const DefaultCapacity = 50

// Step is one recorded phase of a command invocation.
type Step struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Detail     string `json:"detail,omitempty"`
}

// Trace is the execution record of a single command invocation.
type Trace struct {
	ID          string     `json:"trace_id"`
	CommandName string     `json:"command_name"`
	RequesterID string     `json:"requester_id,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Status      string     `json:"status"`
	Steps       []Step     `json:"steps"`
}

// Fingerprint returns the first 8 characters of the trace id, or "unknown"
// when the id is empty. Used to correlate user-facing messages with traces.
func Fingerprint(t *Trace) string {
	if t == nil || t.ID == "" {
		return "unknown"
	}
	if len(t.ID) < 8 {
		return t.ID
	}
	return t.ID[:8]
}

// Store is a bounded in-memory trace store. All methods are safe for
// concurrent use; distinct invocations write distinct traces, and readers
// receive copies so in-flight appends are never observed inconsistently.
type Store struct {
	mu       sync.Mutex
	capacity int
	redactor *redact.Redactor
	traces   map[string]*Trace
	order    []string // insertion order, oldest first
}

// NewStore creates a store bounded to capacity entries. Non-positive
// capacities fall back to DefaultCapacity.
func NewStore(capacity int, r *redact.Redactor) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if r == nil {
		r = redact.Default()
	}
	return &Store{
		capacity: capacity,
		redactor: r,
		traces:   make(map[string]*Trace),
	}
}

// StartTrace creates a trace for a new invocation and returns its id.
// When the store is at capacity the oldest completed trace is evicted; if
// every trace is still running, the oldest overall goes.
func (s *Store) StartTrace(commandName, requesterID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.order) >= s.capacity {
		s.evictOldestLocked()
	}

	id := uuid.NewString()
	s.traces[id] = &Trace{
		ID:          id,
		CommandName: commandName,
		RequesterID: requesterID,
		StartedAt:   time.Now().UTC(),
		Status:      StatusRunning,
	}
	s.order = append(s.order, id)
	return id
}

// RecordStep appends a step to the trace. Detail is redacted by masking any
// sensitive-looking value; the step itself carries free text, so the whole
// detail string is treated as scalar under its name. Unknown trace ids are
// ignored: a trace may have been evicted while its invocation was running.
func (s *Store) RecordStep(traceID, name, status string, duration time.Duration, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.traces[traceID]
	if !ok {
		return
	}
	if masked, ok := s.redactor.Value(map[string]any{name: detail}).(map[string]any); ok {
		if v, ok := masked[name].(string); ok {
			detail = v
		}
	}
	t.Steps = append(t.Steps, Step{
		Name:       name,
		Status:     status,
		DurationMS: duration.Milliseconds(),
		Detail:     detail,
	})
}

// FinishTrace marks the trace terminal with the given status.
func (s *Store) FinishTrace(traceID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.traces[traceID]
	if !ok {
		return
	}
	now := time.Now().UTC()
	t.FinishedAt = &now
	t.Status = status
}

// GetTrace returns a copy of the trace, or nil if unknown.
func (s *Store) GetTrace(traceID string) *Trace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTrace(s.traces[traceID])
}

// LastTraceFor returns a copy of the most recently started trace for the
// requester, or the most recent overall when requesterID is empty. Returns
// nil when nothing matches.
func (s *Store) LastTraceFor(requesterID string) *Trace {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.order) - 1; i >= 0; i-- {
		t := s.traces[s.order[i]]
		if requesterID == "" || t.RequesterID == requesterID {
			return copyTrace(t)
		}
	}
	return nil
}

// Len returns the number of retained traces.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// evictOldestLocked removes the oldest completed trace, or the oldest trace
// outright when none have completed. Caller holds s.mu.
func (s *Store) evictOldestLocked() {
	if len(s.order) == 0 {
		return
	}
	victim := -1
	for i, id := range s.order {
		if s.traces[id].Status != StatusRunning {
			victim = i
			break
		}
	}
	if victim < 0 {
		victim = 0
	}
	id := s.order[victim]
	s.order = append(s.order[:victim], s.order[victim+1:]...)
	delete(s.traces, id)
}

func copyTrace(t *Trace) *Trace {
	if t == nil {
		return nil
	}
	out := *t
	out.Steps = append([]Step(nil), t.Steps...)
	if t.FinishedAt != nil {
		finished := *t.FinishedAt
		out.FinishedAt = &finished
	}
	return &out
}
