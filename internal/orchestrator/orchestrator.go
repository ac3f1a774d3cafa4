// Package orchestrator turns an exported context payload into a task plan
// and drives it to completion: plan, lock, delegate, review, report.
//
// One run occupies the single run slot at a time; a trigger while a run is
// active is rejected rather than queued. All file locks are released in a
// cleanup step that runs even when the run fails.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Breadsandwich/visual-context-interface-app/internal/agentcfg"
	"github.com/Breadsandwich/visual-context-interface-app/internal/contextfile"
	"github.com/Breadsandwich/visual-context-interface-app/internal/filelock"
	"github.com/Breadsandwich/visual-context-interface-app/internal/llm"
	"github.com/Breadsandwich/visual-context-interface-app/internal/logging"
	"github.com/Breadsandwich/visual-context-interface-app/internal/plan"
	"github.com/Breadsandwich/visual-context-interface-app/internal/runstate"
	"github.com/Breadsandwich/visual-context-interface-app/internal/sandbox"
	"github.com/Breadsandwich/visual-context-interface-app/internal/snapshot"
	"github.com/Breadsandwich/visual-context-interface-app/internal/worker"
)

// Agent ids with fixed roles in every run.
const (
	plannerAgentID  = "orchestrator"
	reviewerAgentID = "reviewer"
)

// Sentinel errors surfaced by the control surface.
var (
	// ErrRunActive is returned when a trigger arrives while a run holds
	// the run slot.
	ErrRunActive = errors.New("a run is already active")

	// ErrNoPendingQuestion is returned when a response arrives but no
	// worker is waiting on a clarification.
	ErrNoPendingQuestion = errors.New("no clarification is pending")
)

// Orchestrator owns the run slot, the lock table, and the run lifecycle.
type Orchestrator struct {
	registry    *agentcfg.Registry
	tracker     *runstate.Tracker
	locks       *filelock.Manager
	client      llm.Client
	store       *snapshot.Store
	projectRoot string
	tokenBudget int
	limits      sandbox.Limits
	log         *logging.Logger

	defaultModel     string
	defaultMaxTurns  int
	defaultMaxTokens int

	runSlot sync.Mutex // held for the duration of a run

	mu      sync.Mutex
	pending chan string // reply channel for the worker awaiting clarification
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(log *logging.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithTokenBudget overrides the planning prompt token budget.
func WithTokenBudget(budget int) Option {
	return func(o *Orchestrator) { o.tokenBudget = budget }
}

// WithSandboxLimits overrides the per-worker sandbox caps.
func WithSandboxLimits(l sandbox.Limits) Option {
	return func(o *Orchestrator) { o.limits = l }
}

// WithAgentDefaults overrides the fallbacks applied to agents whose
// definitions leave model, turn ceiling, or token ceiling unset. Zero
// values keep the built-in fallbacks.
func WithAgentDefaults(model string, maxTurns, maxTokens int) Option {
	return func(o *Orchestrator) {
		if model != "" {
			o.defaultModel = model
		}
		if maxTurns > 0 {
			o.defaultMaxTurns = maxTurns
		}
		if maxTokens > 0 {
			o.defaultMaxTokens = maxTokens
		}
	}
}

// New creates an Orchestrator over one project root.
func New(projectRoot string, registry *agentcfg.Registry, tracker *runstate.Tracker,
	locks *filelock.Manager, client llm.Client, store *snapshot.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:    registry,
		tracker:     tracker,
		locks:       locks,
		client:      client,
		store:       store,
		projectRoot: projectRoot,
		tokenBudget: contextfile.DefaultTokenBudget,
		limits:      sandbox.DefaultLimits(),
		log:         logging.NopLogger(),

		defaultModel:     "claude-sonnet-4-5-20250929",
		defaultMaxTurns:  15,
		defaultMaxTokens: 4096,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Trigger reserves the run slot and starts a run over the given context
// file in the background. Returns ErrRunActive if a run is in flight.
func (o *Orchestrator) Trigger(contextPath string) (string, error) {
	if !o.runSlot.TryLock() {
		return "", ErrRunActive
	}

	runID := o.tracker.StartRun()
	go func() {
		defer o.runSlot.Unlock()
		o.run(context.Background(), runID, contextPath)
	}()
	return runID, nil
}

// Respond delivers the operator's reply to the worker parked on a
// clarification. Returns ErrNoPendingQuestion when nothing is waiting.
func (o *Orchestrator) Respond(response string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pending == nil {
		return ErrNoPendingQuestion
	}
	o.pending <- response
	o.pending = nil
	return nil
}

// Reset recovers a stuck run: the state returns to idle and the whole lock
// table is cleared. Only safe when no run goroutine is making progress.
func (o *Orchestrator) Reset() {
	o.tracker.Reset()
	o.locks.ReleaseAll()
}

// run drives one full orchestration. Lock release is unconditional.
func (o *Orchestrator) run(ctx context.Context, runID, contextPath string) {
	log := o.log.WithRun(runID)
	log.Info("Run started", "context_path", contextPath)
	defer o.locks.ReleaseAll()

	snapID, err := o.store.Init()
	if err != nil {
		o.tracker.FailRun(fmt.Sprintf("snapshot init failed: %v", err))
		return
	}

	payload, err := contextfile.Read(contextPath)
	if err != nil {
		o.finish(snapID, fmt.Sprintf("context file error: %v", err))
		return
	}
	prompt := contextfile.Format(payload, o.tokenBudget)

	p, err := o.createPlan(ctx, prompt)
	if err != nil {
		o.finish(snapID, fmt.Sprintf("Failed to create task plan: %v", err))
		return
	}
	o.tracker.SetPlan(p)
	log.WithPhase("planning").Info("Plan created", "tasks", len(p.Tasks), "execution", string(p.Execution))

	// Acquire every task's declared locks before any worker starts. A
	// conflict aborts the whole run rather than partially executing.
	for _, task := range p.Tasks {
		if len(task.FileLocks) == 0 {
			continue
		}
		if err := o.locks.Acquire(workerID(task), task.FileLocks); err != nil {
			o.finish(snapID, fmt.Sprintf("Lock conflict: %v", err))
			return
		}
	}

	switch p.Execution {
	case plan.ExecutionParallel:
		g, gctx := errgroup.WithContext(ctx)
		for _, task := range p.Tasks {
			task := task
			g.Go(func() error {
				o.runWorker(gctx, task, prompt, snapID)
				return nil
			})
		}
		_ = g.Wait()
	default:
		for _, task := range p.Tasks {
			o.runWorker(ctx, task, prompt, snapID)
		}
	}

	allFiles := o.changedFiles()
	if len(allFiles) > 0 {
		o.review(ctx, allFiles, prompt)
	}

	snap := o.tracker.Snapshot()
	var workerErrors []string
	for _, w := range snap.Workers {
		if w.Status == runstate.WorkerError {
			msg := w.Error
			if msg == "" {
				msg = "Unknown"
			}
			workerErrors = append(workerErrors, msg)
		}
	}

	if len(workerErrors) > 0 {
		sort.Strings(workerErrors)
		o.tracker.FailRun("Worker errors: " + strings.Join(workerErrors, "; "))
		o.finalizeSnapshot(snapID, allFiles, payload.Prompt, snapshot.StatusError)
		log.Error("Run failed", "worker_errors", len(workerErrors))
		return
	}

	o.tracker.CompleteRun(fmt.Sprintf("Completed with %d agent(s), %d file(s) changed",
		len(snap.Workers), len(allFiles)))
	o.finalizeSnapshot(snapID, allFiles, payload.Prompt, snapshot.StatusSuccess)
	log.Info("Run completed", "workers", len(snap.Workers), "files_changed", len(allFiles))
}

// finish fails the run and closes the snapshot with no captured changes.
func (o *Orchestrator) finish(snapID, errMsg string) {
	o.tracker.FailRun(errMsg)
	o.finalizeSnapshot(snapID, nil, "", snapshot.StatusError)
	o.log.Error("Run failed", "error", errMsg)
}

func (o *Orchestrator) finalizeSnapshot(snapID string, files []string, summary, status string) {
	if err := o.store.Finalize(snapID, files, summary, status); err != nil {
		o.log.Error("Snapshot finalize failed", "snapshot", snapID, "error", err.Error())
	}
}

// createPlan makes the planning call and parses the reply.
func (o *Orchestrator) createPlan(ctx context.Context, prompt string) (*plan.Plan, error) {
	if o.client == nil {
		return nil, errors.New("completion service not configured")
	}
	cfg, err := o.registry.Get(plannerAgentID)
	if err != nil {
		return nil, err
	}

	resp, err := o.client.CreateMessage(ctx, llm.Request{
		Model:     o.modelOrDefault(cfg),
		System:    cfg.SystemPrompt,
		MaxTokens: o.tokensOrDefault(cfg),
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: []llm.ContentBlock{llm.TextBlock(prompt)}},
		},
	})
	if err != nil {
		return nil, err
	}
	return plan.Parse(resp.Text())
}

// runWorker registers, executes, and finalizes one task's worker.
func (o *Orchestrator) runWorker(ctx context.Context, task plan.Task, prompt, snapID string) {
	id := workerID(task)

	cfg, err := o.registry.Get(task.Agent)
	if err != nil {
		o.tracker.RegisterWorker(id, task.Agent, task.Agent, task.Description)
		o.tracker.FailWorker(id, fmt.Sprintf("Unknown agent: %s", task.Agent))
		return
	}

	o.tracker.RegisterWorker(id, task.Agent, cfg.Name, task.Description)

	cfg.Model = o.modelOrDefault(cfg)
	cfg.MaxTokens = o.tokensOrDefault(cfg)
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = o.defaultMaxTurns
	}

	exec := sandbox.NewExecutor(o.projectRoot,
		sandbox.WithLimits(o.limits),
		sandbox.WithSnapshots(o.store, snapID),
		sandbox.WithTestCommand(cfg.TestCommand),
		sandbox.WithTestSuites(cfg.TestCommands),
	)

	w := worker.New(id, cfg, o.client, exec,
		worker.WithLockManager(o.locks),
		worker.WithLogger(o.log.WithWorker(id)),
		worker.WithProgress(func(entry runstate.ProgressEntry) {
			o.tracker.UpdateWorkerProgress(id, entry)
		}),
		worker.WithAskUser(o.askUser(id)),
	)

	result := w.Run(ctx, task.Description, prompt)
	if result.Status == "success" {
		message := result.Message
		if message == "" {
			message = "Done"
		}
		o.tracker.CompleteWorker(id, result.FilesChanged, message)
	} else {
		o.tracker.FailWorker(id, result.Message)
	}
}

// askUser builds the clarification bridge for one worker: park the worker
// record on the question, wait for Respond, then resume.
func (o *Orchestrator) askUser(id string) worker.AskFunc {
	return func(ctx context.Context, question, questionContext string) (string, error) {
		ch := make(chan string, 1)

		o.mu.Lock()
		if o.pending != nil {
			o.mu.Unlock()
			return "", errors.New("another clarification is already pending")
		}
		o.pending = ch
		o.mu.Unlock()

		o.tracker.SetWorkerClarification(id, &runstate.Clarification{
			Question: question,
			Context:  questionContext,
		})
		defer o.tracker.SetWorkerClarification(id, nil)

		select {
		case reply := <-ch:
			return reply, nil
		case <-ctx.Done():
			o.mu.Lock()
			if o.pending == ch {
				o.pending = nil
			}
			o.mu.Unlock()
			return "", ctx.Err()
		}
	}
}

// changedFiles collects the union of files changed across all workers.
func (o *Orchestrator) changedFiles() []string {
	seen := make(map[string]struct{})
	for _, w := range o.tracker.Snapshot().Workers {
		for _, f := range w.FilesChanged {
			seen[f] = struct{}{}
		}
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

func workerID(task plan.Task) string {
	return task.Agent + "-" + task.ID
}

func (o *Orchestrator) modelOrDefault(cfg agentcfg.Agent) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	return o.defaultModel
}

func (o *Orchestrator) tokensOrDefault(cfg agentcfg.Agent) int {
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return o.defaultMaxTokens
}

// parseReviewResult parses the reviewer's final text as a verdict object,
// degrading to an approve verdict carrying the raw text when the reply
// isn't parseable JSON.
func parseReviewResult(text string) runstate.ReviewResult {
	var result runstate.ReviewResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &result); err == nil && result.Verdict != "" {
		if result.Issues == nil {
			result.Issues = []string{}
		}
		return result
	}

	summary := text
	if len(summary) > 500 {
		summary = summary[:500]
	}
	return runstate.ReviewResult{Verdict: "approve", Issues: []string{}, Summary: summary}
}
