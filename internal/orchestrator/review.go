package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/Breadsandwich/visual-context-interface-app/internal/llm"
	"github.com/Breadsandwich/visual-context-interface-app/internal/runstate"
	"github.com/Breadsandwich/visual-context-interface-app/internal/sandbox"
)

const reviewMaxTurnsDefault = 5

// review runs one read-only review pass over the run's changed files.
// The reviewer's tool catalogue is restricted to read-only tools no matter
// what its config declares. A missing reviewer yields a skipped verdict,
// missing credentials an error verdict; neither fails the run.
func (o *Orchestrator) review(ctx context.Context, filesChanged []string, originalContext string) {
	o.tracker.SetReviewStatus("running")

	cfg, err := o.registry.Get(reviewerAgentID)
	if err != nil {
		o.log.Warn("No reviewer agent configured, skipping review")
		o.tracker.SetReviewResult(runstate.ReviewResult{
			Verdict: "skipped",
			Issues:  []string{},
			Summary: "No reviewer configured",
		})
		return
	}

	if o.client == nil {
		o.tracker.SetReviewResult(runstate.ReviewResult{
			Verdict: "error",
			Issues:  []string{},
			Summary: "Completion service not configured",
		})
		return
	}

	prompt := fmt.Sprintf(
		"Review the following files that were modified:\n\n"+
			"Files changed: %s\n\n"+
			"Original task context:\n%s\n\n"+
			"Read each changed file and provide your security and code quality review.",
		strings.Join(filesChanged, ", "), originalContext)

	tools := sandbox.Catalogue(readOnlyIntersection(cfg.Tools))
	exec := sandbox.NewExecutor(o.projectRoot, sandbox.WithLimits(o.limits))

	messages := []llm.Message{
		{Role: llm.RoleUser, Content: []llm.ContentBlock{llm.TextBlock(prompt)}},
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = reviewMaxTurnsDefault
	}

	for turn := 0; turn < maxTurns; turn++ {
		resp, err := o.client.CreateMessage(ctx, llm.Request{
			Model:     o.modelOrDefault(cfg),
			System:    cfg.SystemPrompt,
			MaxTokens: o.tokensOrDefault(cfg),
			Tools:     tools,
			Messages:  messages,
		})
		if err != nil {
			o.tracker.SetReviewResult(runstate.ReviewResult{
				Verdict: "error",
				Issues:  []string{},
				Summary: fmt.Sprintf("Review failed: %v", err),
			})
			return
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		if resp.StopReason == llm.StopEndTurn {
			o.tracker.SetReviewResult(parseReviewResult(resp.Text()))
			return
		}

		var toolResults []llm.ContentBlock
		for _, block := range resp.ToolUses() {
			toolResults = append(toolResults,
				llm.ToolResultBlock(block.ID, exec.Execute(ctx, block.Name, block.Input)))
		}
		if len(toolResults) == 0 {
			break
		}
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: toolResults})
	}

	o.tracker.SetReviewResult(runstate.ReviewResult{
		Verdict: "approve",
		Issues:  []string{},
		Summary: "Review completed (max turns reached)",
	})
}

// readOnlyIntersection keeps only the read-only tools from the reviewer's
// configured catalogue.
func readOnlyIntersection(configured []string) []string {
	readOnly := make(map[string]bool, len(sandbox.ReadOnlyTools))
	for _, name := range sandbox.ReadOnlyTools {
		readOnly[name] = true
	}
	var out []string
	for _, name := range configured {
		if readOnly[name] {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		out = append(out, sandbox.ReadOnlyTools...)
	}
	return out
}
