package plan

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantErr   error
		wantTasks int
		wantExec  Execution
	}{
		{
			name:      "valid sequential plan",
			text:      `{"tasks": [{"id": "t1", "agent": "frontend", "description": "Change button color", "file_locks": ["src/App.css"]}], "execution": "sequential"}`,
			wantTasks: 1,
			wantExec:  ExecutionSequential,
		},
		{
			name: "valid parallel plan with two tasks",
			text: `{"tasks": [
				{"id": "t1", "agent": "frontend", "description": "Edit CSS"},
				{"id": "t2", "agent": "frontend", "description": "Edit JSX", "depends_on": ["t1"]}
			], "execution": "parallel"}`,
			wantTasks: 2,
			wantExec:  ExecutionParallel,
		},
		{
			name:      "markdown fenced JSON",
			text:      "```json\n{\"tasks\": [{\"id\": \"t1\", \"agent\": \"frontend\", \"description\": \"x\"}]}\n```",
			wantTasks: 1,
			wantExec:  ExecutionSequential,
		},
		{
			name:      "repairable JSON with trailing comma",
			text:      `{"tasks": [{"id": "t1", "agent": "frontend", "description": "x",}], "execution": "parallel"}`,
			wantTasks: 1,
			wantExec:  ExecutionParallel,
		},
		{
			name:    "not JSON at all",
			text:    "I'll start by reading the files.",
			wantErr: ErrInvalidPlan,
		},
		{
			name:    "empty tasks list",
			text:    `{"tasks": [], "execution": "parallel"}`,
			wantErr: ErrNoTasks,
		},
		{
			name:    "task missing agent",
			text:    `{"tasks": [{"id": "t1", "description": "x"}]}`,
			wantErr: ErrInvalidPlan,
		},
		{
			name:    "unknown execution mode",
			text:    `{"tasks": [{"id": "t1", "agent": "a", "description": "x"}], "execution": "interleaved"}`,
			wantErr: ErrInvalidPlan,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.text)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() unexpected error: %v", err)
			}
			if len(p.Tasks) != tt.wantTasks {
				t.Errorf("len(Tasks) = %d, want %d", len(p.Tasks), tt.wantTasks)
			}
			if p.Execution != tt.wantExec {
				t.Errorf("Execution = %q, want %q", p.Execution, tt.wantExec)
			}
		})
	}
}

func TestClone(t *testing.T) {
	orig := &Plan{
		Tasks: []Task{
			{ID: "t1", Agent: "frontend", Description: "x", FileLocks: []string{"a.css"}},
		},
		Execution: ExecutionParallel,
	}

	c := orig.Clone()
	c.Tasks[0].FileLocks[0] = "mutated.css"
	c.Tasks[0].ID = "mutated"

	if orig.Tasks[0].FileLocks[0] != "a.css" {
		t.Error("mutating clone's FileLocks changed the original")
	}
	if orig.Tasks[0].ID != "t1" {
		t.Error("mutating clone's task changed the original")
	}

	var nilPlan *Plan
	if nilPlan.Clone() != nil {
		t.Error("Clone of nil plan should be nil")
	}
}
