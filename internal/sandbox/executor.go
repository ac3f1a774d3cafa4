// Package sandbox executes the fixed tool surface agent workers run on:
// read, write, list, glob search, and the project's test command, all
// confined to one project root.
//
// Tool failures are reported as "Error: ..." result strings handed back to
// the model, never as Go errors: the model is expected to adapt, and one
// failed tool call does not fail the surrounding task.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Breadsandwich/visual-context-interface-app/internal/snapshot"
)

// Limits caps the executor's resource usage per worker run.
type Limits struct {
	MaxReadSize      int64
	MaxWriteSize     int64
	MaxWritesPerRun  int
	MaxListEntries   int
	MaxSearchMatches int
}

// DefaultLimits returns the standard caps.
func DefaultLimits() Limits {
	return Limits{
		MaxReadSize:      1 << 20,   // 1 MiB
		MaxWriteSize:     500 << 10, // 500 KiB
		MaxWritesPerRun:  20,
		MaxListEntries:   200,
		MaxSearchMatches: 100,
	}
}

// Filenames the agent must never write, regardless of path validity.
var blockedFilenames = map[string]bool{
	".env": true, ".env.local": true, ".env.production": true, ".env.development": true,
	".bashrc": true, ".zshrc": true, ".profile": true, ".bash_profile": true,
	".npmrc": true, ".yarnrc": true, ".gitconfig": true,
}

var blockedExtensions = map[string]bool{
	".sh": true, ".bash": true, ".zsh": true, ".exe": true, ".bat": true, ".cmd": true,
}

// Executor runs sandboxed tools for one worker within one run.
type Executor struct {
	root         string
	limits       Limits
	store        *snapshot.Store
	runID        string
	testCommands map[string]string
	testCommand  string

	mu         sync.Mutex
	writeCount int
}

// Option configures an Executor.
type Option func(*Executor)

// WithLimits overrides the default resource caps.
func WithLimits(l Limits) Option {
	return func(e *Executor) { e.limits = l }
}

// WithSnapshots arms pre-write capture: before an existing file is
// overwritten, its content is captured into the given run's snapshot.
func WithSnapshots(store *snapshot.Store, runID string) Option {
	return func(e *Executor) {
		e.store = store
		e.runID = runID
	}
}

// WithTestCommand sets the default command behind the run_tests tool.
func WithTestCommand(cmd string) Option {
	return func(e *Executor) { e.testCommand = cmd }
}

// WithTestSuites sets named suite commands for the run_tests tool.
func WithTestSuites(suites map[string]string) Option {
	return func(e *Executor) { e.testCommands = suites }
}

// NewExecutor creates an Executor confined to root.
func NewExecutor(root string, opts ...Option) *Executor {
	e := &Executor{
		root:   filepath.Clean(root),
		limits: DefaultLimits(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// toolInput covers every tool's parameters; unknown fields are ignored.
type toolInput struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Pattern  string `json:"pattern"`
	Suite    string `json:"suite"`
	TestPath string `json:"test_path"`
}

// Execute dispatches one tool call and returns its result string.
func (e *Executor) Execute(ctx context.Context, name string, input json.RawMessage) string {
	var in toolInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return fmt.Sprintf("Error: invalid tool input: %v", err)
		}
	}

	switch name {
	case ToolReadFile:
		return e.ReadFile(in.Path)
	case ToolWriteFile:
		return e.WriteFile(in.Path, in.Content)
	case ToolListDirectory:
		return e.ListDirectory(in.Path)
	case ToolSearchFiles:
		return e.SearchFiles(in.Pattern)
	case ToolRunTests:
		return e.RunTests(ctx, in.Suite, in.TestPath)
	default:
		return fmt.Sprintf("Error: Unknown tool '%s'", name)
	}
}

// IsToolError reports whether a tool result string is an error report.
func IsToolError(result string) bool {
	return strings.HasPrefix(result, "Error")
}

// ReadFile returns the UTF-8 content of path, capped at MaxReadSize.
func (e *Executor) ReadFile(path string) string {
	target, err := resolveSafePath(e.root, path)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	info, statErr := os.Stat(target)
	if statErr != nil || !info.Mode().IsRegular() {
		return fmt.Sprintf("Error: File not found: %s", path)
	}
	if info.Size() > e.limits.MaxReadSize {
		return fmt.Sprintf("Error: File too large (%d bytes, max %d)", info.Size(), e.limits.MaxReadSize)
	}

	data, readErr := os.ReadFile(target)
	if readErr != nil {
		return fmt.Sprintf("Error reading file: %v", readErr)
	}
	return string(data)
}

// WriteFile writes content to path, capturing a snapshot of any existing
// file first. Enforces the write budget, size cap, and filename denylist.
func (e *Executor) WriteFile(path, content string) string {
	e.mu.Lock()
	if e.writeCount >= e.limits.MaxWritesPerRun {
		e.mu.Unlock()
		return fmt.Sprintf("Error: Maximum write limit reached (%d files per run)", e.limits.MaxWritesPerRun)
	}
	e.mu.Unlock()

	base := strings.ToLower(filepath.Base(path))
	if blockedFilenames[base] {
		return fmt.Sprintf("Error: Writing to %s is not allowed", base)
	}
	if ext := strings.ToLower(filepath.Ext(path)); blockedExtensions[ext] {
		return fmt.Sprintf("Error: Writing files with %s extension is not allowed", ext)
	}

	target, err := resolveSafePath(e.root, path)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	if int64(len(content)) > e.limits.MaxWriteSize {
		return fmt.Sprintf("Error: Content too large (%d bytes, max %d)", len(content), e.limits.MaxWriteSize)
	}

	// Capture the pre-write content; new files are never snapshotted.
	if e.store != nil && e.runID != "" {
		if info, statErr := os.Stat(target); statErr == nil && info.Mode().IsRegular() {
			if _, capErr := e.store.Capture(e.runID, path); capErr != nil {
				return fmt.Sprintf("Error: snapshot capture failed: %v", capErr)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Sprintf("Error writing file: %v", err)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return fmt.Sprintf("Error writing file: %v", err)
	}

	e.mu.Lock()
	e.writeCount++
	e.mu.Unlock()

	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path)
}

// ListDirectory lists a directory's entries, directories suffixed with "/",
// capped at MaxListEntries.
func (e *Executor) ListDirectory(path string) string {
	target, err := resolveSafePath(e.root, path)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	entries, readErr := os.ReadDir(target)
	if readErr != nil {
		return fmt.Sprintf("Error: Directory not found: %s", path)
	}

	var lines []string
	for i, entry := range entries {
		if i >= e.limits.MaxListEntries {
			lines = append(lines, fmt.Sprintf("... and %d more entries", len(entries)-e.limits.MaxListEntries))
			break
		}
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		lines = append(lines, name)
	}
	if len(lines) == 0 {
		return "(empty directory)"
	}
	return strings.Join(lines, "\n")
}

// SearchFiles returns project-relative paths matching a glob pattern.
// Patterns must be relative and free of parent-directory segments;
// "**" matches any number of path segments. Hidden directories are skipped.
func (e *Executor) SearchFiles(pattern string) string {
	if strings.Contains(pattern, "..") {
		return "Error: Pattern must not contain '..'"
	}
	if filepath.IsAbs(pattern) {
		return "Error: Pattern must be a relative path"
	}

	var matches []string
	total := 0
	_ = filepath.WalkDir(e.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != e.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(e.root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if matchGlob(pattern, rel) {
			total++
			if len(matches) < e.limits.MaxSearchMatches {
				matches = append(matches, rel)
			}
		}
		return nil
	})

	if len(matches) == 0 {
		return "No files matched the pattern."
	}
	sort.Strings(matches)
	result := strings.Join(matches, "\n")
	if total > len(matches) {
		result += fmt.Sprintf("\n... and %d more matches", total-len(matches))
	}
	return result
}

// matchGlob matches a slash-separated relative path against a glob pattern
// where "**" spans zero or more path segments and the remaining segments
// use path.Match syntax.
func matchGlob(pattern, rel string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(rel, "/"))
}

func matchSegments(pat, parts []string) bool {
	if len(pat) == 0 {
		return len(parts) == 0
	}
	if pat[0] == "**" {
		for i := 0; i <= len(parts); i++ {
			if matchSegments(pat[1:], parts[i:]) {
				return true
			}
		}
		return false
	}
	if len(parts) == 0 {
		return false
	}
	ok, err := filepath.Match(pat[0], parts[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], parts[1:])
}
