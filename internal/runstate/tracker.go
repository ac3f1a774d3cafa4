// Package runstate tracks the lifecycle of an orchestrated multi-agent run.
//
// The Tracker is the single source of truth for a run's status, its workers,
// and the review outcome. Every mutation replaces the whole state value
// under one mutex rather than editing in place, and Snapshot returns an
// independent deep copy, so concurrent status polling never observes a torn
// read and callers can never corrupt internal state through a returned value.
package runstate

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Breadsandwich/visual-context-interface-app/internal/plan"
)

// Tracker holds the state of the current (or most recent) run.
type Tracker struct {
	mu    sync.Mutex
	state State
}

// NewTracker returns a Tracker in the idle state.
func NewTracker() *Tracker {
	return &Tracker{state: initialState()}
}

// Snapshot returns a deep, independent copy of the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.clone()
}

// AllWorkersDone reports whether every registered worker has reached a
// terminal status. Vacuously true when no worker is registered.
func (t *Tracker) AllWorkersDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, w := range t.state.Workers {
		if !w.Status.Terminal() {
			return false
		}
	}
	return true
}

// StartRun begins a new run over a fresh state and returns the run id.
func (t *Tracker) StartRun() string {
	runID := uuid.NewString()
	t.mu.Lock()
	defer t.mu.Unlock()

	next := initialState()
	next.RunID = runID
	next.Status = StatusPlanning
	next.Timestamp = time.Now().UTC()
	t.state = next
	return runID
}

// SetPlan stores the planning outcome and transitions to delegating.
func (t *Tracker) SetPlan(p *plan.Plan) {
	t.swap(func(s State) State {
		s.Status = StatusDelegating
		s.Orchestrator = &OrchestratorState{Status: "done", Plan: p.Clone()}
		return s
	})
}

// RegisterWorker records a new worker in the running state.
func (t *Tracker) RegisterWorker(workerID, agentKind, agentName, task string) {
	t.swap(func(s State) State {
		s.Workers[workerID] = Worker{
			Status:       WorkerRunning,
			AgentKind:    agentKind,
			AgentName:    agentName,
			Task:         task,
			Progress:     []ProgressEntry{},
			FilesChanged: []string{},
		}
		return s
	})
}

// UpdateWorkerProgress appends a turn summary to the worker's progress log.
// Unknown workers are ignored.
func (t *Tracker) UpdateWorkerProgress(workerID string, entry ProgressEntry) {
	t.swap(func(s State) State {
		w, ok := s.Workers[workerID]
		if !ok {
			return s
		}
		w.Progress = append(w.Progress, entry)
		w.Turns = len(w.Progress)
		s.Workers[workerID] = w
		return s
	})
}

// SetWorkerClarification parks the worker on a human question. Passing nil
// clears a pending clarification and resumes the worker. The run-level
// status follows: clarifying while any question is pending, delegating once
// none remain.
func (t *Tracker) SetWorkerClarification(workerID string, c *Clarification) {
	t.swap(func(s State) State {
		w, ok := s.Workers[workerID]
		if !ok {
			return s
		}
		if c != nil {
			cc := *c
			w.Status = WorkerClarifying
			w.Clarification = &cc
		} else {
			w.Status = WorkerRunning
			w.Clarification = nil
		}
		s.Workers[workerID] = w

		s.Status = StatusDelegating
		for _, other := range s.Workers {
			if other.Status == WorkerClarifying {
				s.Status = StatusClarifying
				break
			}
		}
		return s
	})
}

// CompleteWorker marks a worker as finished successfully.
func (t *Tracker) CompleteWorker(workerID string, filesChanged []string, message string) {
	t.swap(func(s State) State {
		w, ok := s.Workers[workerID]
		if !ok {
			return s
		}
		w.Status = WorkerSuccess
		w.FilesChanged = append([]string(nil), filesChanged...)
		w.Message = message
		s.Workers[workerID] = w
		return s
	})
}

// FailWorker marks a worker as failed.
func (t *Tracker) FailWorker(workerID string, errMsg string) {
	t.swap(func(s State) State {
		w, ok := s.Workers[workerID]
		if !ok {
			return s
		}
		w.Status = WorkerError
		w.Error = errMsg
		s.Workers[workerID] = w
		return s
	})
}

// SetReviewStatus transitions the run into the reviewing phase.
func (t *Tracker) SetReviewStatus(status string) {
	t.swap(func(s State) State {
		s.Status = StatusReviewing
		rev := &ReviewerState{Status: status}
		if s.Reviewer != nil {
			rev.Result = s.Reviewer.Result
		}
		s.Reviewer = rev
		return s
	})
}

// SetReviewResult stores the reviewer's verdict.
func (t *Tracker) SetReviewResult(result ReviewResult) {
	t.swap(func(s State) State {
		rev := &ReviewerState{}
		if s.Reviewer != nil {
			rev.Status = s.Reviewer.Status
		}
		res := result
		res.Issues = append([]string(nil), result.Issues...)
		rev.Result = &res
		s.Reviewer = rev
		return s
	})
}

// CompleteRun marks the run as successfully finished.
func (t *Tracker) CompleteRun(message string) {
	t.swap(func(s State) State {
		s.Status = StatusSuccess
		s.Message = message
		return s
	})
}

// FailRun marks the run as failed.
func (t *Tracker) FailRun(errMsg string) {
	t.swap(func(s State) State {
		s.Status = StatusError
		s.Error = errMsg
		return s
	})
}

// Reset returns the tracker to the initial idle state. Used to recover a
// stuck run together with a full lock-table clear.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = initialState()
}

// swap applies fn to a deep copy of the current state and installs the
// result, stamping the transition time. This is the single critical section
// behind every mutator.
func (t *Tracker) swap(fn func(State) State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := fn(t.state.clone())
	next.Timestamp = time.Now().UTC()
	t.state = next
}
