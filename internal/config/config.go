package config

import (
	"github.com/spf13/viper"
)

// Config represents the complete agent service configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Project    ProjectConfig    `mapstructure:"project"`
	Completion CompletionConfig `mapstructure:"completion"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Sandbox    SandboxConfig    `mapstructure:"sandbox"`
	Snapshots  SnapshotsConfig  `mapstructure:"snapshots"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	Edits      EditsConfig      `mapstructure:"edits"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the HTTP control surface
type ServerConfig struct {
	// Host is the listen address
	Host string `mapstructure:"host"`
	// Port is the listen port
	Port int `mapstructure:"port"`
	// CORSOrigins restricts browser origins; empty allows all
	CORSOrigins []string `mapstructure:"cors_origins"`
	// Debug enables verbose request logging
	Debug bool `mapstructure:"debug"`
}

// ProjectConfig identifies the project the agents operate on
type ProjectConfig struct {
	// Root is the project directory all file operations are confined to
	Root string `mapstructure:"root"`
}

// CompletionConfig configures the completion service client
type CompletionConfig struct {
	// BaseURL overrides the completion endpoint; empty uses the default
	BaseURL string `mapstructure:"base_url"`
	// APIKeyEnv names the environment variable holding the API key
	APIKeyEnv string `mapstructure:"api_key_env"`
	// Model is the default model for agents that don't set one
	Model string `mapstructure:"model"`
	// MaxTokens is the default per-turn token ceiling
	MaxTokens int `mapstructure:"max_tokens"`
	// TimeoutSeconds bounds a single completion request
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// TokenBudget caps the formatted context passed to the planner
	TokenBudget int `mapstructure:"token_budget"`
}

// WorkerConfig controls per-worker execution
type WorkerConfig struct {
	// MaxTurns is the default turn ceiling for agents that don't set one
	MaxTurns int `mapstructure:"max_turns"`
}

// SandboxConfig caps the file tools available to workers
type SandboxConfig struct {
	// MaxReadBytes caps a single read_file result
	MaxReadBytes int64 `mapstructure:"max_read_bytes"`
	// MaxWriteBytes caps a single write_file payload
	MaxWriteBytes int64 `mapstructure:"max_write_bytes"`
	// MaxWritesPerRun caps successful writes per worker per run
	MaxWritesPerRun int `mapstructure:"max_writes_per_run"`
	// MaxListEntries caps list_directory output
	MaxListEntries int `mapstructure:"max_list_entries"`
	// MaxSearchMatches caps search_files output
	MaxSearchMatches int `mapstructure:"max_search_matches"`
}

// SnapshotsConfig controls pre-edit snapshot retention
type SnapshotsConfig struct {
	// Keep is the number of full snapshots retained before pruning
	Keep int `mapstructure:"keep"`
}

// AgentsConfig locates the agent definitions
type AgentsConfig struct {
	// ConfigsDir holds the *.json agent definitions
	ConfigsDir string `mapstructure:"configs_dir"`
	// PromptsDir holds the system prompt files the definitions reference
	PromptsDir string `mapstructure:"prompts_dir"`
}

// EditsConfig controls the deterministic source editor
type EditsConfig struct {
	// MaxEscalations caps failed deterministic changes routed to AI handling
	MaxEscalations int `mapstructure:"max_escalations"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	// Dir is where agent.log is written; empty logs to stderr
	Dir string `mapstructure:"dir"`
	// Level is one of: debug, info, warn, error
	Level string `mapstructure:"level"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8001,
			CORSOrigins: []string{
				"http://localhost:5173",
				"http://127.0.0.1:5173",
			},
		},
		Project: ProjectConfig{
			Root: ".",
		},
		Completion: CompletionConfig{
			APIKeyEnv:      "ANTHROPIC_API_KEY",
			Model:          "claude-sonnet-4-5-20250929",
			MaxTokens:      4096,
			TimeoutSeconds: 120,
			TokenBudget:    4000,
		},
		Worker: WorkerConfig{
			MaxTurns: 15,
		},
		Sandbox: SandboxConfig{
			MaxReadBytes:     1 << 20,
			MaxWriteBytes:    500 << 10,
			MaxWritesPerRun:  20,
			MaxListEntries:   200,
			MaxSearchMatches: 100,
		},
		Snapshots: SnapshotsConfig{
			Keep: 10,
		},
		Agents: AgentsConfig{
			ConfigsDir: "agents/configs",
			PromptsDir: "agents/prompts",
		},
		Edits: EditsConfig{
			MaxEscalations: 25,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// SetDefaults registers all default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("server.host", defaults.Server.Host)
	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("server.cors_origins", defaults.Server.CORSOrigins)
	viper.SetDefault("server.debug", defaults.Server.Debug)

	viper.SetDefault("project.root", defaults.Project.Root)

	viper.SetDefault("completion.base_url", defaults.Completion.BaseURL)
	viper.SetDefault("completion.api_key_env", defaults.Completion.APIKeyEnv)
	viper.SetDefault("completion.model", defaults.Completion.Model)
	viper.SetDefault("completion.max_tokens", defaults.Completion.MaxTokens)
	viper.SetDefault("completion.timeout_seconds", defaults.Completion.TimeoutSeconds)
	viper.SetDefault("completion.token_budget", defaults.Completion.TokenBudget)

	viper.SetDefault("worker.max_turns", defaults.Worker.MaxTurns)

	viper.SetDefault("sandbox.max_read_bytes", defaults.Sandbox.MaxReadBytes)
	viper.SetDefault("sandbox.max_write_bytes", defaults.Sandbox.MaxWriteBytes)
	viper.SetDefault("sandbox.max_writes_per_run", defaults.Sandbox.MaxWritesPerRun)
	viper.SetDefault("sandbox.max_list_entries", defaults.Sandbox.MaxListEntries)
	viper.SetDefault("sandbox.max_search_matches", defaults.Sandbox.MaxSearchMatches)

	viper.SetDefault("snapshots.keep", defaults.Snapshots.Keep)

	viper.SetDefault("agents.configs_dir", defaults.Agents.ConfigsDir)
	viper.SetDefault("agents.prompts_dir", defaults.Agents.PromptsDir)

	viper.SetDefault("edits.max_escalations", defaults.Edits.MaxEscalations)

	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.level", defaults.Logging.Level)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}
