// Package agentcfg loads agent definitions from JSON config files and
// resolves their system prompt files.
package agentcfg

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Breadsandwich/visual-context-interface-app/internal/logging"
)

// ErrUnknownAgent is returned when a lookup names an agent the registry
// never loaded.
var ErrUnknownAgent = errors.New("unknown agent")

// Agent is one loaded agent definition. SystemPrompt holds the resolved
// content of SystemPromptFile.
type Agent struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Model            string            `json:"model"`
	SystemPromptFile string            `json:"system_prompt_file"`
	SystemPrompt     string            `json:"-"`
	Tools            []string          `json:"tools"`
	TestCommand      string            `json:"test_command"`
	TestCommands     map[string]string `json:"test_commands"`
	MaxTurns         int               `json:"max_turns"`
	MaxTokens        int               `json:"max_tokens"`
}

func (a Agent) clone() Agent {
	out := a
	out.Tools = append([]string(nil), a.Tools...)
	if a.TestCommands != nil {
		out.TestCommands = make(map[string]string, len(a.TestCommands))
		for k, v := range a.TestCommands {
			out.TestCommands[k] = v
		}
	}
	return out
}

// Registry holds the loaded agent configs. Lookups return copies so a
// caller cannot mutate the registry's view.
type Registry struct {
	agents map[string]Agent
}

// Load scans configsDir for *.json agent configs, resolves each config's
// system prompt file against the parent of promptsDir (configs reference
// prompts as "prompts/<name>.md"), and returns the populated registry.
// Malformed configs are logged and skipped rather than failing the load.
func Load(configsDir, promptsDir string, log *logging.Logger) (*Registry, error) {
	entries, err := os.ReadDir(configsDir)
	if err != nil {
		return nil, fmt.Errorf("read agent configs dir: %w", err)
	}

	r := &Registry{agents: make(map[string]Agent)}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(configsDir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			log.Error("Skipping unreadable agent config", "file", entry.Name(), "error", err.Error())
			continue
		}

		var agent Agent
		if err := json.Unmarshal(data, &agent); err != nil {
			log.Error("Skipping malformed agent config", "file", entry.Name(), "error", err.Error())
			continue
		}
		if agent.ID == "" {
			agent.ID = strings.TrimSuffix(entry.Name(), ".json")
		}
		agent.SystemPrompt = resolvePrompt(agent, promptsDir, log)

		r.agents[agent.ID] = agent
	}
	return r, nil
}

// resolvePrompt reads the prompt file referenced by the config, or returns
// "" when none is configured or the file is missing.
func resolvePrompt(agent Agent, promptsDir string, log *logging.Logger) string {
	if agent.SystemPromptFile == "" {
		return ""
	}

	// Config prompt paths are relative to the parent of promptsDir,
	// e.g. "prompts/css-agent.md".
	promptPath := filepath.Join(filepath.Dir(promptsDir), agent.SystemPromptFile)
	data, err := os.ReadFile(promptPath)
	if err != nil {
		log.Warn("Prompt file not found for agent", "agent", agent.ID, "path", promptPath)
		return ""
	}
	return string(data)
}

// Get returns a copy of the named agent's config.
func (r *Registry) Get(agentID string) (Agent, error) {
	agent, ok := r.agents[agentID]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return agent.clone(), nil
}

// Has reports whether the registry loaded the named agent.
func (r *Registry) Has(agentID string) bool {
	_, ok := r.agents[agentID]
	return ok
}

// IDs returns the loaded agent ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
