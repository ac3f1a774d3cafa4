package runstate

import (
	"sync"
	"testing"

	"github.com/Breadsandwich/visual-context-interface-app/internal/plan"
)

func TestStartRun(t *testing.T) {
	tr := NewTracker()

	runID := tr.StartRun()
	if runID == "" {
		t.Fatal("StartRun returned empty run id")
	}

	s := tr.Snapshot()
	if s.Status != StatusPlanning {
		t.Errorf("status = %q, want %q", s.Status, StatusPlanning)
	}
	if s.RunID != runID {
		t.Errorf("run_id = %q, want %q", s.RunID, runID)
	}

	// A new run resets prior state.
	tr.FailRun("boom")
	second := tr.StartRun()
	s = tr.Snapshot()
	if s.Error != "" || s.RunID != second {
		t.Errorf("second run carried over prior state: %+v", s)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	tr := NewTracker()
	tr.StartRun()
	tr.SetPlan(&plan.Plan{
		Tasks:     []plan.Task{{ID: "t1", Agent: "frontend", Description: "x", FileLocks: []string{"a.css"}}},
		Execution: plan.ExecutionParallel,
	})
	tr.RegisterWorker("w-1", "frontend", "Frontend Engineer", "do the thing")
	tr.UpdateWorkerProgress("w-1", ProgressEntry{Turn: 1, Summary: "Reading App.css", FilesRead: []string{"a.css"}})

	snap := tr.Snapshot()

	// Mutate everything reachable from the snapshot.
	snap.Workers["w-1"] = Worker{Status: WorkerError, Error: "mutated"}
	snap.Workers["injected"] = Worker{}
	snap.Orchestrator.Plan.Tasks[0].FileLocks[0] = "mutated.css"
	snap.Status = StatusError

	fresh := tr.Snapshot()
	if fresh.Status != StatusDelegating {
		t.Errorf("status = %q, want %q", fresh.Status, StatusDelegating)
	}
	if len(fresh.Workers) != 1 {
		t.Errorf("workers = %d, want 1", len(fresh.Workers))
	}
	if fresh.Workers["w-1"].Status != WorkerRunning {
		t.Errorf("worker status = %q, want running", fresh.Workers["w-1"].Status)
	}
	if got := fresh.Orchestrator.Plan.Tasks[0].FileLocks[0]; got != "a.css" {
		t.Errorf("plan file lock = %q, want a.css", got)
	}
}

func TestAllWorkersDone(t *testing.T) {
	tests := []struct {
		name  string
		setup func(tr *Tracker)
		want  bool
	}{
		{
			name:  "no workers registered",
			setup: func(tr *Tracker) {},
			want:  true,
		},
		{
			name: "one running worker",
			setup: func(tr *Tracker) {
				tr.RegisterWorker("w-1", "frontend", "FE", "task")
			},
			want: false,
		},
		{
			name: "clarifying worker is not done",
			setup: func(tr *Tracker) {
				tr.RegisterWorker("w-1", "frontend", "FE", "task")
				tr.SetWorkerClarification("w-1", &Clarification{Question: "which button?"})
			},
			want: false,
		},
		{
			name: "success and error are both terminal",
			setup: func(tr *Tracker) {
				tr.RegisterWorker("w-1", "frontend", "FE", "task")
				tr.RegisterWorker("w-2", "frontend", "FE", "task")
				tr.CompleteWorker("w-1", []string{"a.css"}, "done")
				tr.FailWorker("w-2", "boom")
			},
			want: true,
		},
		{
			name: "one of two still running",
			setup: func(tr *Tracker) {
				tr.RegisterWorker("w-1", "frontend", "FE", "task")
				tr.RegisterWorker("w-2", "frontend", "FE", "task")
				tr.CompleteWorker("w-1", nil, "done")
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			tr.StartRun()
			tt.setup(tr)
			if got := tr.AllWorkersDone(); got != tt.want {
				t.Errorf("AllWorkersDone() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClarificationFollowsRunStatus(t *testing.T) {
	tr := NewTracker()
	tr.StartRun()
	tr.SetPlan(&plan.Plan{Tasks: []plan.Task{{ID: "t1", Agent: "a", Description: "d"}}})
	tr.RegisterWorker("w-1", "frontend", "FE", "task")

	tr.SetWorkerClarification("w-1", &Clarification{Question: "which one?", Context: "two buttons match"})
	s := tr.Snapshot()
	if s.Status != StatusClarifying {
		t.Errorf("run status = %q, want clarifying", s.Status)
	}
	if s.Workers["w-1"].Clarification == nil {
		t.Fatal("worker clarification not recorded")
	}

	tr.SetWorkerClarification("w-1", nil)
	s = tr.Snapshot()
	if s.Status != StatusDelegating {
		t.Errorf("run status after clear = %q, want delegating", s.Status)
	}
	if s.Workers["w-1"].Status != WorkerRunning {
		t.Errorf("worker status after clear = %q, want running", s.Workers["w-1"].Status)
	}
}

func TestWorkerLifecycle(t *testing.T) {
	tr := NewTracker()
	tr.StartRun()
	tr.RegisterWorker("w-1", "frontend", "Frontend Engineer", "restyle hero")

	tr.UpdateWorkerProgress("w-1", ProgressEntry{Turn: 1, Summary: "Reading App.css"})
	tr.UpdateWorkerProgress("w-1", ProgressEntry{Turn: 2, Summary: "Editing App.css", FilesWritten: []string{"src/App.css"}})
	tr.CompleteWorker("w-1", []string{"src/App.css"}, "Completed in 2 turns")

	w := tr.Snapshot().Workers["w-1"]
	if w.Turns != 2 {
		t.Errorf("turns = %d, want 2", w.Turns)
	}
	if len(w.Progress) != 2 {
		t.Errorf("progress entries = %d, want 2", len(w.Progress))
	}
	if w.Status != WorkerSuccess {
		t.Errorf("status = %q, want success", w.Status)
	}
	if len(w.FilesChanged) != 1 || w.FilesChanged[0] != "src/App.css" {
		t.Errorf("files_changed = %v", w.FilesChanged)
	}

	// Progress updates for unknown workers are ignored.
	tr.UpdateWorkerProgress("ghost", ProgressEntry{Turn: 1})
	if _, ok := tr.Snapshot().Workers["ghost"]; ok {
		t.Error("unknown worker was created by a progress update")
	}
}

func TestReviewAndCompletion(t *testing.T) {
	tr := NewTracker()
	tr.StartRun()
	tr.SetReviewStatus("running")

	s := tr.Snapshot()
	if s.Status != StatusReviewing {
		t.Errorf("status = %q, want reviewing", s.Status)
	}

	tr.SetReviewResult(ReviewResult{Verdict: "approve", Issues: []string{}, Summary: "looks fine"})
	tr.CompleteRun("Completed with 1 agent(s), 1 file(s) changed")

	s = tr.Snapshot()
	if s.Status != StatusSuccess {
		t.Errorf("status = %q, want success", s.Status)
	}
	if s.Reviewer == nil || s.Reviewer.Result == nil || s.Reviewer.Result.Verdict != "approve" {
		t.Errorf("reviewer result = %+v", s.Reviewer)
	}
}

func TestReset(t *testing.T) {
	tr := NewTracker()
	tr.StartRun()
	tr.RegisterWorker("w-1", "frontend", "FE", "task")
	tr.FailRun("stuck")

	tr.Reset()

	s := tr.Snapshot()
	if s.Status != StatusIdle || s.RunID != "" || len(s.Workers) != 0 {
		t.Errorf("state after reset = %+v, want idle", s)
	}
}

func TestConcurrentMutationAndSnapshot(t *testing.T) {
	tr := NewTracker()
	tr.StartRun()
	tr.RegisterWorker("w-1", "frontend", "FE", "task")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.UpdateWorkerProgress("w-1", ProgressEntry{Turn: i, Summary: "turn"})
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := tr.Snapshot()
			// Every observed state must be internally consistent.
			if s.Workers["w-1"].Turns != len(s.Workers["w-1"].Progress) {
				t.Error("torn read: turns does not match progress length")
			}
		}()
	}
	wg.Wait()

	if got := tr.Snapshot().Workers["w-1"].Turns; got != 20 {
		t.Errorf("turns = %d, want 20", got)
	}
}
