// Package plan defines the task plan produced by the orchestrator's planning
// call and the parser that validates model output into one.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Execution selects how the plan's tasks are scheduled.
type Execution string

const (
	// ExecutionParallel runs every task concurrently.
	ExecutionParallel Execution = "parallel"

	// ExecutionSequential runs tasks strictly one at a time, in plan order.
	ExecutionSequential Execution = "sequential"
)

// Task is one unit of delegated work. Produced once by the planning call and
// immutable thereafter.
type Task struct {
	// ID uniquely identifies the task within the plan.
	ID string `json:"id"`

	// Agent names the worker kind that should execute the task.
	Agent string `json:"agent"`

	// Description is the natural-language task given to the worker.
	Description string `json:"description"`

	// FileLocks lists the relative paths the task intends to write.
	// The orchestrator acquires these atomically before the worker starts.
	FileLocks []string `json:"file_locks,omitempty"`

	// DependsOn lists task IDs that must finish first.
	DependsOn []string `json:"depends_on,omitempty"`
}

// Plan is the full output of one planning call. Never mutated after parse.
type Plan struct {
	Tasks     []Task    `json:"tasks"`
	Execution Execution `json:"execution"`
}

// ErrNoTasks is returned when the model reply parses but carries no tasks.
var ErrNoTasks = errors.New("plan contains no tasks")

// ErrInvalidPlan is returned when the model reply is not a usable plan.
var ErrInvalidPlan = errors.New("invalid plan")

// Clone returns an independent deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := &Plan{
		Tasks:     make([]Task, len(p.Tasks)),
		Execution: p.Execution,
	}
	for i, t := range p.Tasks {
		ct := t
		ct.FileLocks = append([]string(nil), t.FileLocks...)
		ct.DependsOn = append([]string(nil), t.DependsOn...)
		out.Tasks[i] = ct
	}
	return out
}

// Parse validates a model reply into a Plan.
//
// The reply is expected to be a JSON object with a non-empty "tasks" list
// where every task carries id, agent, and description. Markdown code fences
// are stripped and near-JSON is repaired before the strict parse; anything
// still structurally invalid is rejected rather than guessed at.
func Parse(text string) (*Plan, error) {
	cleaned := stripCodeFence(strings.TrimSpace(text))
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrInvalidPlan)
	}

	var p Plan
	if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(cleaned)
		if repairErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
		}
		if err := json.Unmarshal([]byte(repaired), &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
		}
	}

	if len(p.Tasks) == 0 {
		return nil, ErrNoTasks
	}
	for i, t := range p.Tasks {
		if t.ID == "" || t.Agent == "" || t.Description == "" {
			return nil, fmt.Errorf("%w: task %d missing id, agent, or description", ErrInvalidPlan, i)
		}
	}

	switch p.Execution {
	case ExecutionParallel, ExecutionSequential:
	case "":
		p.Execution = ExecutionSequential
	default:
		return nil, fmt.Errorf("%w: unknown execution mode %q", ErrInvalidPlan, p.Execution)
	}

	return &p, nil
}

// stripCodeFence removes a surrounding markdown code fence, with or without
// a language tag, from the reply.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx != -1 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
