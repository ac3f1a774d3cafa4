package sandbox

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Breadsandwich/visual-context-interface-app/internal/snapshot"
)

func newTestExecutor(t *testing.T, opts ...Option) (*Executor, string) {
	t.Helper()
	root := t.TempDir()
	return NewExecutor(root, opts...), root
}

func mustWrite(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestReadFile(t *testing.T) {
	e, root := newTestExecutor(t)
	mustWrite(t, root, "src/App.css", "body {}")

	tests := []struct {
		name      string
		path      string
		want      string
		wantError bool
	}{
		{"existing file", "src/App.css", "body {}", false},
		{"missing file", "src/Nope.css", "", true},
		{"parent traversal", "../../etc/passwd", "", true},
		{"absolute path", "/etc/passwd", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.ReadFile(tt.path)
			if tt.wantError {
				if !IsToolError(got) {
					t.Errorf("ReadFile(%q) = %q, want tool error", tt.path, got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ReadFile(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestReadFileSizeCap(t *testing.T) {
	e, root := newTestExecutor(t, WithLimits(Limits{
		MaxReadSize: 8, MaxWriteSize: 500 << 10, MaxWritesPerRun: 20,
		MaxListEntries: 200, MaxSearchMatches: 100,
	}))
	mustWrite(t, root, "big.txt", "this is more than eight bytes")

	if got := e.ReadFile("big.txt"); !strings.Contains(got, "too large") {
		t.Errorf("ReadFile = %q, want size error", got)
	}
}

func TestWriteFile(t *testing.T) {
	e, root := newTestExecutor(t)

	result := e.WriteFile("src/new/Button.css", ".btn { color: red }")
	if IsToolError(result) {
		t.Fatalf("WriteFile = %q", result)
	}

	data, err := os.ReadFile(filepath.Join(root, "src/new/Button.css"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != ".btn { color: red }" {
		t.Errorf("content = %q", data)
	}
}

func TestWriteFileDenylist(t *testing.T) {
	e, _ := newTestExecutor(t)

	tests := []struct {
		name string
		path string
	}{
		{"env file", ".env"},
		{"env file in subdir", "config/.env.production"},
		{"shell script", "run.sh"},
		{"exe", "tool.exe"},
		{"uppercase extension", "tool.EXE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.WriteFile(tt.path, "x"); !IsToolError(got) {
				t.Errorf("WriteFile(%q) = %q, want tool error", tt.path, got)
			}
		})
	}
}

func TestWriteFileOutsideRoot(t *testing.T) {
	e, root := newTestExecutor(t)

	if got := e.WriteFile("../../etc/passwd", "pwned"); !IsToolError(got) {
		t.Errorf("WriteFile escaped root: %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "..", "..", "etc", "passwd")); err == nil {
		t.Error("file was written outside root")
	}
}

func TestWriteFileSymlinkEscape(t *testing.T) {
	e, root := newTestExecutor(t)
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	if got := e.WriteFile("link/escape.txt", "x"); !IsToolError(got) {
		t.Errorf("WriteFile through escaping symlink = %q, want tool error", got)
	}
	if _, err := os.Stat(filepath.Join(outside, "escape.txt")); err == nil {
		t.Error("write escaped the sandbox via symlink")
	}
}

func TestWriteBudget(t *testing.T) {
	e, _ := newTestExecutor(t, WithLimits(Limits{
		MaxReadSize: 1 << 20, MaxWriteSize: 500 << 10, MaxWritesPerRun: 2,
		MaxListEntries: 200, MaxSearchMatches: 100,
	}))

	if got := e.WriteFile("a.txt", "1"); IsToolError(got) {
		t.Fatalf("first write: %q", got)
	}
	if got := e.WriteFile("b.txt", "2"); IsToolError(got) {
		t.Fatalf("second write: %q", got)
	}
	if got := e.WriteFile("c.txt", "3"); !strings.Contains(got, "Maximum write limit") {
		t.Errorf("third write = %q, want budget error", got)
	}

	if got := e.WriteFile("d.txt", "4"); !IsToolError(got) {
		t.Errorf("budget should stay exhausted, got %q", got)
	}
}

func TestWriteCapturesSnapshot(t *testing.T) {
	root := t.TempDir()
	store := snapshot.NewStore(root, 10)
	runID, err := store.Init()
	if err != nil {
		t.Fatalf("snapshot init: %v", err)
	}

	e := NewExecutor(root, WithSnapshots(store, runID))
	mustWrite(t, root, "src/App.css", "original")

	// Overwrite captures the pre-write content; a new file does not.
	if got := e.WriteFile("src/App.css", "changed"); IsToolError(got) {
		t.Fatalf("overwrite: %q", got)
	}
	if got := e.WriteFile("src/New.css", "new file"); IsToolError(got) {
		t.Fatalf("new file: %q", got)
	}

	captured := filepath.Join(root, ".vci", "snapshots", runID, "src/App.css")
	data, err := os.ReadFile(captured)
	if err != nil {
		t.Fatalf("captured copy missing: %v", err)
	}
	if string(data) != "original" {
		t.Errorf("captured = %q, want original", data)
	}

	if _, err := os.Stat(filepath.Join(root, ".vci", "snapshots", runID, "src/New.css")); err == nil {
		t.Error("new file was snapshotted")
	}
}

func TestListDirectory(t *testing.T) {
	e, root := newTestExecutor(t)
	mustWrite(t, root, "src/App.tsx", "")
	mustWrite(t, root, "src/components/Button.tsx", "")

	got := e.ListDirectory("src")
	if !strings.Contains(got, "App.tsx") || !strings.Contains(got, "components/") {
		t.Errorf("ListDirectory = %q", got)
	}

	if got := e.ListDirectory("missing"); !IsToolError(got) {
		t.Errorf("missing dir = %q, want tool error", got)
	}
	if got := e.ListDirectory("../.."); !IsToolError(got) {
		t.Errorf("traversal = %q, want tool error", got)
	}
}

func TestSearchFiles(t *testing.T) {
	e, root := newTestExecutor(t)
	mustWrite(t, root, "src/App.tsx", "")
	mustWrite(t, root, "src/App.css", "")
	mustWrite(t, root, "src/components/Button.tsx", "")
	mustWrite(t, root, "README.md", "")

	tests := []struct {
		name    string
		pattern string
		want    []string
		wantNot []string
	}{
		{
			name:    "recursive tsx",
			pattern: "src/**/*.tsx",
			want:    []string{"src/App.tsx", "src/components/Button.tsx"},
			wantNot: []string{"src/App.css"},
		},
		{
			name:    "top-level only",
			pattern: "*.md",
			want:    []string{"README.md"},
			wantNot: []string{"src/App.tsx"},
		},
		{
			name:    "all css anywhere",
			pattern: "**/*.css",
			want:    []string{"src/App.css"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.SearchFiles(tt.pattern)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("SearchFiles(%q) missing %q in %q", tt.pattern, w, got)
				}
			}
			for _, w := range tt.wantNot {
				if strings.Contains(got, w) {
					t.Errorf("SearchFiles(%q) unexpectedly matched %q", tt.pattern, w)
				}
			}
		})
	}

	if got := e.SearchFiles("../**"); !IsToolError(got) {
		t.Errorf("traversal pattern = %q, want tool error", got)
	}
	if got := e.SearchFiles("/etc/*"); !IsToolError(got) {
		t.Errorf("absolute pattern = %q, want tool error", got)
	}
	if got := e.SearchFiles("**/*.go"); got != "No files matched the pattern." {
		t.Errorf("no match = %q", got)
	}
}

func TestRunTests(t *testing.T) {
	e, _ := newTestExecutor(t, WithTestCommand("echo all tests passed"))

	got := e.RunTests(context.Background(), "", "")
	if !strings.Contains(got, "all tests passed") {
		t.Errorf("RunTests = %q", got)
	}
}

func TestRunTestsSuites(t *testing.T) {
	e, _ := newTestExecutor(t, WithTestSuites(map[string]string{
		"unit": "echo unit suite",
	}))

	if got := e.RunTests(context.Background(), "unit", ""); !strings.Contains(got, "unit suite") {
		t.Errorf("suite run = %q", got)
	}
	if got := e.RunTests(context.Background(), "integration", ""); !IsToolError(got) {
		t.Errorf("unknown suite = %q, want tool error", got)
	}
}

func TestRunTestsUnconfigured(t *testing.T) {
	e, _ := newTestExecutor(t)
	if got := e.RunTests(context.Background(), "", ""); !IsToolError(got) {
		t.Errorf("unconfigured = %q, want tool error", got)
	}
}

func TestExecuteDispatch(t *testing.T) {
	e, root := newTestExecutor(t)
	mustWrite(t, root, "a.txt", "hello")

	input, _ := json.Marshal(map[string]string{"path": "a.txt"})
	if got := e.Execute(context.Background(), ToolReadFile, input); got != "hello" {
		t.Errorf("dispatch read = %q", got)
	}
	if got := e.Execute(context.Background(), "format_disk", nil); !IsToolError(got) {
		t.Errorf("unknown tool = %q, want tool error", got)
	}
}
