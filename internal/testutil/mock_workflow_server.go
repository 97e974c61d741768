// Package testutil provides shared test doubles: a mock workflow API server
// and interaction payload signing helpers.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// MockRun mirrors the workflow API run shape.
type MockRun struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion,omitempty"`
	HTMLURL    string    `json:"html_url,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// MockWorkflowServer is an httptest server imitating the workflow API:
// dispatch, list-runs, get-run. Dispatched runs appear in the run list named
// after the run_name input, first queued, completing after StatusPolls
// status reads with CompleteWith.
type MockWorkflowServer struct {
	Server *httptest.Server

	mu            sync.Mutex
	nextID        int64
	runs          []MockRun
	statusReads   map[int64]int
	StatusPolls   int    // status reads before a run completes (default 0: immediately completed)
	CompleteWith  string // conclusion once completed (default "success")
	DispatchCalls int
	ListCalls     int
	FailDispatch  int // number of dispatch calls to fail with 500 before succeeding
}

var (
	dispatchRe = regexp.MustCompile(`^/repos/[^/]+/[^/]+/actions/workflows/([^/]+)/dispatches$`)
	listRe     = regexp.MustCompile(`^/repos/[^/]+/[^/]+/actions/workflows/([^/]+)/runs$`)
	getRunRe   = regexp.MustCompile(`^/repos/[^/]+/[^/]+/actions/runs/(\d+)$`)
)

// NewMockWorkflowServer starts the server. Callers must Close it.
func NewMockWorkflowServer() *MockWorkflowServer {
	m := &MockWorkflowServer{
		nextID:       100,
		statusReads:  make(map[int64]int),
		CompleteWith: "success",
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// Close shuts the server down.
func (m *MockWorkflowServer) Close() { m.Server.Close() }

// URL returns the server base URL.
func (m *MockWorkflowServer) URL() string { return m.Server.URL }

// AddRun seeds a run directly.
func (m *MockWorkflowServer) AddRun(r MockRun) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append([]MockRun{r}, m.runs...)
}

func (m *MockWorkflowServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && dispatchRe.MatchString(r.URL.Path):
		m.DispatchCalls++
		if m.FailDispatch > 0 {
			m.FailDispatch--
			http.Error(w, "upstream hiccup", http.StatusInternalServerError)
			return
		}
		var body struct {
			Ref    string            `json:"ref"`
			Inputs map[string]string `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		m.nextID++
		run := MockRun{
			ID:        m.nextID,
			Name:      body.Inputs["run_name"],
			Status:    "queued",
			HTMLURL:   fmt.Sprintf("%s/runs/%d", m.Server.URL, m.nextID),
			CreatedAt: time.Now().UTC(),
		}
		m.runs = append([]MockRun{run}, m.runs...)
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet && listRe.MatchString(r.URL.Path):
		m.ListCalls++
		writeJSON(w, map[string]any{"workflow_runs": m.runs})

	case r.Method == http.MethodGet && getRunRe.MatchString(r.URL.Path):
		id, _ := strconv.ParseInt(getRunRe.FindStringSubmatch(r.URL.Path)[1], 10, 64)
		for i := range m.runs {
			if m.runs[i].ID != id {
				continue
			}
			m.statusReads[id]++
			run := m.runs[i]
			if run.Status != "completed" && m.statusReads[id] > m.StatusPolls {
				run.Status = "completed"
				run.Conclusion = m.CompleteWith
				m.runs[i] = run
			}
			writeJSON(w, run)
			return
		}
		http.NotFound(w, r)

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
