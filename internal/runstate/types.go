package runstate

import (
	"time"

	"github.com/Breadsandwich/visual-context-interface-app/internal/plan"
)

// Status is the run-level lifecycle status.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusPlanning   Status = "planning"
	StatusDelegating Status = "delegating"
	StatusClarifying Status = "clarifying"
	StatusReviewing  Status = "reviewing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Active reports whether the status describes an in-flight run. A second
// trigger while the run is active is rejected rather than queued.
func (s Status) Active() bool {
	switch s {
	case StatusPlanning, StatusDelegating, StatusClarifying, StatusReviewing:
		return true
	default:
		return false
	}
}

// WorkerStatus is the per-worker lifecycle status.
type WorkerStatus string

const (
	WorkerRunning    WorkerStatus = "running"
	WorkerClarifying WorkerStatus = "clarifying"
	WorkerSuccess    WorkerStatus = "success"
	WorkerError      WorkerStatus = "error"
)

// Terminal reports whether the worker has finished, successfully or not.
func (s WorkerStatus) Terminal() bool {
	return s == WorkerSuccess || s == WorkerError
}

// Clarification is a worker's mid-run question for the human operator.
type Clarification struct {
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
}

// ProgressEntry summarizes one worker turn.
type ProgressEntry struct {
	Turn         int      `json:"turn"`
	Summary      string   `json:"summary"`
	FilesRead    []string `json:"files_read,omitempty"`
	FilesWritten []string `json:"files_written,omitempty"`
}

// Worker is the audit record of one worker's lifecycle within a run.
// Created at registration and retained for the life of the run.
type Worker struct {
	Status        WorkerStatus    `json:"status"`
	AgentKind     string          `json:"agent_kind"`
	AgentName     string          `json:"agent_name"`
	Task          string          `json:"task"`
	Turns         int             `json:"turns"`
	Progress      []ProgressEntry `json:"progress"`
	FilesChanged  []string        `json:"files_changed"`
	Clarification *Clarification  `json:"clarification,omitempty"`
	Message       string          `json:"message,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// OrchestratorState records the planning outcome.
type OrchestratorState struct {
	Status string     `json:"status"`
	Plan   *plan.Plan `json:"plan,omitempty"`
}

// ReviewResult is the reviewer's verdict over the run's changed files.
type ReviewResult struct {
	Verdict string   `json:"verdict"`
	Issues  []string `json:"issues"`
	Summary string   `json:"summary"`
}

// ReviewerState records the review pass.
type ReviewerState struct {
	Status string        `json:"status"`
	Result *ReviewResult `json:"result,omitempty"`
}

// State is the complete view of one orchestrated run. It is treated as a
// value: mutators build a replacement rather than editing in place.
type State struct {
	RunID        string             `json:"run_id,omitempty"`
	Status       Status             `json:"status"`
	Orchestrator *OrchestratorState `json:"orchestrator,omitempty"`
	Workers      map[string]Worker  `json:"workers"`
	Reviewer     *ReviewerState     `json:"reviewer,omitempty"`
	Message      string             `json:"message,omitempty"`
	Error        string             `json:"error,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

func initialState() State {
	return State{
		Status:  StatusIdle,
		Workers: make(map[string]Worker),
	}
}

// clone returns an independent deep copy of the state.
func (s State) clone() State {
	out := s
	out.Workers = make(map[string]Worker, len(s.Workers))
	for id, w := range s.Workers {
		out.Workers[id] = w.clone()
	}
	if s.Orchestrator != nil {
		out.Orchestrator = &OrchestratorState{
			Status: s.Orchestrator.Status,
			Plan:   s.Orchestrator.Plan.Clone(),
		}
	}
	if s.Reviewer != nil {
		rev := &ReviewerState{Status: s.Reviewer.Status}
		if s.Reviewer.Result != nil {
			res := *s.Reviewer.Result
			res.Issues = append([]string(nil), s.Reviewer.Result.Issues...)
			rev.Result = &res
		}
		out.Reviewer = rev
	}
	return out
}

func (w Worker) clone() Worker {
	out := w
	out.Progress = make([]ProgressEntry, len(w.Progress))
	for i, p := range w.Progress {
		cp := p
		cp.FilesRead = append([]string(nil), p.FilesRead...)
		cp.FilesWritten = append([]string(nil), p.FilesWritten...)
		out.Progress[i] = cp
	}
	out.FilesChanged = append([]string(nil), w.FilesChanged...)
	if w.Clarification != nil {
		c := *w.Clarification
		out.Clarification = &c
	}
	return out
}
