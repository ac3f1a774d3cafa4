package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Breadsandwich/visual-context-interface-app/internal/agentcfg"
	"github.com/Breadsandwich/visual-context-interface-app/internal/config"
	"github.com/Breadsandwich/visual-context-interface-app/internal/filelock"
	"github.com/Breadsandwich/visual-context-interface-app/internal/llm"
	"github.com/Breadsandwich/visual-context-interface-app/internal/logging"
	"github.com/Breadsandwich/visual-context-interface-app/internal/orchestrator"
	"github.com/Breadsandwich/visual-context-interface-app/internal/runstate"
	"github.com/Breadsandwich/visual-context-interface-app/internal/sandbox"
	"github.com/Breadsandwich/visual-context-interface-app/internal/server"
	"github.com/Breadsandwich/visual-context-interface-app/internal/snapshot"
	"github.com/Breadsandwich/visual-context-interface-app/internal/sourceedit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent service",
	Long: `Serve starts the HTTP control surface and waits for context exports
from the inspector. Runs until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("project", "", "project directory the agents operate on (overrides project.root)")
	serveCmd.Flags().Int("port", 0, "listen port (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if project, _ := cmd.Flags().GetString("project"); project != "" {
		cfg.Project.Root = project
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}

	projectRoot, err := filepath.Abs(cfg.Project.Root)
	if err != nil {
		return fmt.Errorf("failed to resolve project root: %w", err)
	}
	if info, err := os.Stat(projectRoot); err != nil || !info.IsDir() {
		return fmt.Errorf("project root is not a directory: %s", projectRoot)
	}

	log, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	// Agent definitions ship with the service, not the target project:
	// relative paths resolve against the working directory.
	registry, err := agentcfg.Load(cfg.Agents.ConfigsDir, cfg.Agents.PromptsDir, log)
	if err != nil {
		return fmt.Errorf("failed to load agent definitions: %w", err)
	}
	log.Info("Agents loaded", "agents", len(registry.IDs()))

	apiKey := os.Getenv(cfg.Completion.APIKeyEnv)
	if apiKey == "" {
		log.Warn("Completion API key not set, runs will fail until configured",
			"env", cfg.Completion.APIKeyEnv)
	}
	client := llm.NewHTTPClient(llm.HTTPClientConfig{
		APIKey:  apiKey,
		BaseURL: cfg.Completion.BaseURL,
		Timeout: time.Duration(cfg.Completion.TimeoutSeconds) * time.Second,
	})

	tracker := runstate.NewTracker()
	locks := filelock.NewManager()
	store := snapshot.NewStore(projectRoot, cfg.Snapshots.Keep)

	orch := orchestrator.New(projectRoot, registry, tracker, locks, client, store,
		orchestrator.WithLogger(log),
		orchestrator.WithTokenBudget(cfg.Completion.TokenBudget),
		orchestrator.WithSandboxLimits(sandbox.Limits{
			MaxReadSize:      cfg.Sandbox.MaxReadBytes,
			MaxWriteSize:     cfg.Sandbox.MaxWriteBytes,
			MaxWritesPerRun:  cfg.Sandbox.MaxWritesPerRun,
			MaxListEntries:   cfg.Sandbox.MaxListEntries,
			MaxSearchMatches: cfg.Sandbox.MaxSearchMatches,
		}),
		orchestrator.WithAgentDefaults(cfg.Completion.Model, cfg.Worker.MaxTurns, cfg.Completion.MaxTokens),
	)

	edits := sourceedit.NewEngine(projectRoot, cfg.Edits.MaxEscalations)

	srv := server.New(projectRoot, orch, tracker, store, edits, log, server.Options{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		Debug:       cfg.Server.Debug,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
