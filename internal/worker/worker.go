// Package worker runs a single agent task as a bounded tool-use loop
// against the completion service.
//
// Each turn sends the accumulated history with a capability-filtered tool
// catalogue; tool calls are executed through the sandbox and their results
// fed back until the model produces a final answer or the turn ceiling is
// reached. The ceiling is not a failure: partial progress is preserved and
// the task ends in success with a synthesized message.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/Breadsandwich/visual-context-interface-app/internal/agentcfg"
	"github.com/Breadsandwich/visual-context-interface-app/internal/filelock"
	"github.com/Breadsandwich/visual-context-interface-app/internal/llm"
	"github.com/Breadsandwich/visual-context-interface-app/internal/logging"
	"github.com/Breadsandwich/visual-context-interface-app/internal/runstate"
	"github.com/Breadsandwich/visual-context-interface-app/internal/sandbox"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTurns  = 15
	defaultMaxTokens = 4096
)

// Result is the terminal outcome of one worker task.
type Result struct {
	Status       string   // "success" or "error"
	FilesChanged []string // sorted relative paths successfully written
	Message      string
}

// AskFunc delivers a clarifying question to the human operator and blocks
// until their reply arrives.
type AskFunc func(ctx context.Context, question, questionContext string) (string, error)

// ProgressFunc receives one summary per completed turn.
type ProgressFunc func(entry runstate.ProgressEntry)

// Worker executes exactly one task.
type Worker struct {
	id         string
	agent      agentcfg.Agent
	client     llm.Client
	exec       *sandbox.Executor
	locks      *filelock.Manager
	onProgress ProgressFunc
	askUser    AskFunc
	log        *logging.Logger

	model     string
	maxTurns  int
	maxTokens int
}

// Option configures a Worker.
type Option func(*Worker)

// WithLockManager gates write_file calls on the shared lock table.
func WithLockManager(m *filelock.Manager) Option {
	return func(w *Worker) { w.locks = m }
}

// WithProgress installs the per-turn progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(w *Worker) { w.onProgress = fn }
}

// WithAskUser enables the ask_user tool, parking the worker on fn until the
// operator replies.
func WithAskUser(fn AskFunc) Option {
	return func(w *Worker) { w.askUser = fn }
}

// WithLogger sets the structured logger.
func WithLogger(log *logging.Logger) Option {
	return func(w *Worker) { w.log = log }
}

// New creates a Worker for one task. Model, turn ceiling, and token budget
// come from the agent config, falling back to package defaults.
func New(id string, agent agentcfg.Agent, client llm.Client, exec *sandbox.Executor, opts ...Option) *Worker {
	w := &Worker{
		id:        id,
		agent:     agent,
		client:    client,
		exec:      exec,
		log:       logging.NopLogger(),
		model:     agent.Model,
		maxTurns:  agent.MaxTurns,
		maxTokens: agent.MaxTokens,
	}
	if w.model == "" {
		w.model = defaultModel
	}
	if w.maxTurns <= 0 {
		w.maxTurns = defaultMaxTurns
	}
	if w.maxTokens <= 0 {
		w.maxTokens = defaultMaxTokens
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker's identifier used for lock ownership.
func (w *Worker) ID() string { return w.id }

// Run executes the turn loop for the given task. The optional taskContext
// is prepended to the prompt. Failures are reported in the Result, never as
// a panic; files written before a failure stay in FilesChanged.
func (w *Worker) Run(ctx context.Context, taskDescription, taskContext string) Result {
	if w.client == nil {
		return Result{
			Status:       "error",
			FilesChanged: []string{},
			Message:      "completion service not configured",
		}
	}

	prompt := "## Your Task\n\n" + taskDescription
	if taskContext != "" {
		prompt = taskContext + "\n\n" + prompt
	}

	messages := []llm.Message{
		{Role: llm.RoleUser, Content: []llm.ContentBlock{llm.TextBlock(prompt)}},
	}
	tools := sandbox.Catalogue(w.agent.Tools)
	filesChanged := make(map[string]struct{})

	turns := 0
	for turn := 0; turn < w.maxTurns; turn++ {
		turns = turn + 1
		w.log.Debug("Worker turn", "turn", turns, "max_turns", w.maxTurns)

		resp, err := w.client.CreateMessage(ctx, llm.Request{
			Model:     w.model,
			System:    w.agent.SystemPrompt,
			MaxTokens: w.maxTokens,
			Tools:     tools,
			Messages:  messages,
		})
		if err != nil {
			return Result{
				Status:       "error",
				FilesChanged: sortedKeys(filesChanged),
				Message:      describeFailure(err),
			}
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		if w.onProgress != nil {
			w.onProgress(buildTurnSummary(turns, resp.Content))
		}

		if resp.StopReason == llm.StopEndTurn {
			message := resp.Text()
			if message == "" {
				message = fmt.Sprintf("Completed in %d turns", turns)
			}
			return Result{
				Status:       "success",
				FilesChanged: sortedKeys(filesChanged),
				Message:      message,
			}
		}

		var toolResults []llm.ContentBlock
		for _, block := range resp.ToolUses() {
			resultText := w.executeTool(ctx, block)
			if block.Name == sandbox.ToolWriteFile && !sandbox.IsToolError(resultText) {
				if p := inputPath(block.Input); p != "" {
					filesChanged[p] = struct{}{}
				}
			}
			toolResults = append(toolResults, llm.ToolResultBlock(block.ID, resultText))
		}

		if len(toolResults) == 0 {
			break
		}
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: toolResults})
	}

	return Result{
		Status:       "success",
		FilesChanged: sortedKeys(filesChanged),
		Message:      fmt.Sprintf("Completed in %d turns, modified %d file(s)", turns, len(filesChanged)),
	}
}

// executeTool runs one tool call. Lock-denied writes and clarification
// failures come back as tool error strings for the model to adapt to.
func (w *Worker) executeTool(ctx context.Context, block llm.ContentBlock) string {
	if block.Name == sandbox.ToolAskUser {
		return w.handleAskUser(ctx, block.Input)
	}

	if block.Name == sandbox.ToolWriteFile && w.locks != nil {
		p := inputPath(block.Input)
		if !w.locks.CanWrite(w.id, p) {
			return fmt.Sprintf("Error: File '%s' is locked by another agent. You cannot write to it.", p)
		}
	}

	return w.exec.Execute(ctx, block.Name, block.Input)
}

func (w *Worker) handleAskUser(ctx context.Context, input json.RawMessage) string {
	if w.askUser == nil {
		return "Error: Asking the user is not available for this task"
	}

	var in struct {
		Question string `json:"question"`
		Context  string `json:"context"`
	}
	if err := json.Unmarshal(input, &in); err != nil || in.Question == "" {
		return "Error: ask_user requires a question"
	}

	reply, err := w.askUser(ctx, in.Question, in.Context)
	if err != nil {
		return fmt.Sprintf("Error: could not reach the user: %v", err)
	}
	return "The user replied: " + reply
}

func describeFailure(err error) string {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("Completion service error: %s", apiErr.Message)
	}
	return err.Error()
}

// buildTurnSummary categorises the turn's tool calls as reads or writes and
// produces a short human-readable label. Writes take display priority.
func buildTurnSummary(turn int, content []llm.ContentBlock) runstate.ProgressEntry {
	var filesRead, filesWritten []string
	for _, block := range content {
		if block.Type != "tool_use" {
			continue
		}
		switch block.Name {
		case sandbox.ToolReadFile:
			filesRead = append(filesRead, inputPath(block.Input))
		case sandbox.ToolWriteFile:
			filesWritten = append(filesWritten, inputPath(block.Input))
		}
	}

	var summary string
	switch {
	case len(filesWritten) > 0:
		summary = "Editing " + strings.Join(basenames(filesWritten), ", ")
	case len(filesRead) > 0:
		summary = "Reading " + strings.Join(basenames(filesRead), ", ")
	default:
		summary = "Thinking..."
	}

	return runstate.ProgressEntry{
		Turn:         turn,
		Summary:      summary,
		FilesRead:    filesRead,
		FilesWritten: filesWritten,
	}
}

func inputPath(input json.RawMessage) string {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return ""
	}
	return in.Path
}

func basenames(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = path.Base(p)
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
