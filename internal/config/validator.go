package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "server.port")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateProject()...)
	errors = append(errors, c.validateCompletion()...)
	errors = append(errors, c.validateWorker()...)
	errors = append(errors, c.validateSandbox()...)
	errors = append(errors, c.validateSnapshots()...)
	errors = append(errors, c.validateAgents()...)
	errors = append(errors, c.validateEdits()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Value:   c.Server.Port,
			Message: "must be between 1 and 65535",
		})
	}

	return errors
}

func (c *Config) validateProject() []ValidationError {
	var errors []ValidationError

	if c.Project.Root == "" {
		errors = append(errors, ValidationError{
			Field:   "project.root",
			Value:   c.Project.Root,
			Message: "must not be empty",
		})
	}

	return errors
}

func (c *Config) validateCompletion() []ValidationError {
	var errors []ValidationError

	if c.Completion.MaxTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "completion.max_tokens",
			Value:   c.Completion.MaxTokens,
			Message: "must be positive",
		})
	}
	if c.Completion.TimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "completion.timeout_seconds",
			Value:   c.Completion.TimeoutSeconds,
			Message: "must be positive",
		})
	}
	if c.Completion.TokenBudget < 1 {
		errors = append(errors, ValidationError{
			Field:   "completion.token_budget",
			Value:   c.Completion.TokenBudget,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateWorker() []ValidationError {
	var errors []ValidationError

	if c.Worker.MaxTurns < 1 {
		errors = append(errors, ValidationError{
			Field:   "worker.max_turns",
			Value:   c.Worker.MaxTurns,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateSandbox() []ValidationError {
	var errors []ValidationError

	if c.Sandbox.MaxReadBytes < 1 {
		errors = append(errors, ValidationError{
			Field:   "sandbox.max_read_bytes",
			Value:   c.Sandbox.MaxReadBytes,
			Message: "must be positive",
		})
	}
	if c.Sandbox.MaxWriteBytes < 1 {
		errors = append(errors, ValidationError{
			Field:   "sandbox.max_write_bytes",
			Value:   c.Sandbox.MaxWriteBytes,
			Message: "must be positive",
		})
	}
	if c.Sandbox.MaxWritesPerRun < 1 {
		errors = append(errors, ValidationError{
			Field:   "sandbox.max_writes_per_run",
			Value:   c.Sandbox.MaxWritesPerRun,
			Message: "must be positive",
		})
	}
	if c.Sandbox.MaxListEntries < 1 {
		errors = append(errors, ValidationError{
			Field:   "sandbox.max_list_entries",
			Value:   c.Sandbox.MaxListEntries,
			Message: "must be positive",
		})
	}
	if c.Sandbox.MaxSearchMatches < 1 {
		errors = append(errors, ValidationError{
			Field:   "sandbox.max_search_matches",
			Value:   c.Sandbox.MaxSearchMatches,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateSnapshots() []ValidationError {
	var errors []ValidationError

	if c.Snapshots.Keep < 1 {
		errors = append(errors, ValidationError{
			Field:   "snapshots.keep",
			Value:   c.Snapshots.Keep,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateAgents() []ValidationError {
	var errors []ValidationError

	if c.Agents.ConfigsDir == "" {
		errors = append(errors, ValidationError{
			Field:   "agents.configs_dir",
			Value:   c.Agents.ConfigsDir,
			Message: "must not be empty",
		})
	}
	if c.Agents.PromptsDir == "" {
		errors = append(errors, ValidationError{
			Field:   "agents.prompts_dir",
			Value:   c.Agents.PromptsDir,
			Message: "must not be empty",
		})
	}

	return errors
}

func (c *Config) validateEdits() []ValidationError {
	var errors []ValidationError

	if c.Edits.MaxEscalations < 1 {
		errors = append(errors, ValidationError{
			Field:   "edits.max_escalations",
			Value:   c.Edits.MaxEscalations,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
