package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	testOutputLimit = 16 << 10 // bytes of combined output returned to the model
	testTimeout     = 5 * time.Minute
)

// RunTests executes the configured test command inside the project root and
// returns its combined output. A named suite selects from the configured
// suite map; otherwise the default command runs, with an optional test path
// appended. The command string comes from operator configuration, never
// from the model.
func (e *Executor) RunTests(ctx context.Context, suite, testPath string) string {
	command := e.testCommand
	if suite != "" {
		suiteCmd, ok := e.testCommands[suite]
		if !ok {
			known := make([]string, 0, len(e.testCommands))
			for name := range e.testCommands {
				known = append(known, name)
			}
			return fmt.Sprintf("Error: Unknown test suite '%s' (configured: %s)", suite, strings.Join(known, ", "))
		}
		command = suiteCmd
	}
	if command == "" {
		return "Error: No test command configured for this agent"
	}

	if testPath != "" {
		if _, err := resolveSafePath(e.root, testPath); err != nil {
			return fmt.Sprintf("Error: %v", err)
		}
		command = command + " " + testPath
	}

	runCtx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = e.root
	output, err := cmd.CombinedOutput()

	result := string(output)
	if len(result) > testOutputLimit {
		result = result[:testOutputLimit] + "\n... (output truncated)"
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		return fmt.Sprintf("Error: Test command timed out after %s\n%s", testTimeout, result)
	case err != nil:
		return fmt.Sprintf("Tests failed (%v):\n%s", err, result)
	default:
		if result == "" {
			return "Tests passed (no output)"
		}
		return result
	}
}
