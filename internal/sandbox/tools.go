package sandbox

import (
	"encoding/json"

	"github.com/Breadsandwich/visual-context-interface-app/internal/llm"
)

// Tool names understood by the executor.
const (
	ToolReadFile      = "read_file"
	ToolWriteFile     = "write_file"
	ToolListDirectory = "list_directory"
	ToolSearchFiles   = "search_files"
	ToolRunTests      = "run_tests"
	ToolAskUser       = "ask_user"
)

// ReadOnlyTools is the catalogue offered to the reviewer pass.
var ReadOnlyTools = []string{ToolReadFile, ToolListDirectory, ToolSearchFiles}

func schema(properties string, required ...string) json.RawMessage {
	req, _ := json.Marshal(required)
	return json.RawMessage(`{"type": "object", "properties": ` + properties + `, "required": ` + string(req) + `}`)
}

// toolDefinitions is the full catalogue. Workers receive a
// capability-filtered subset via Catalogue.
var toolDefinitions = []llm.ToolDefinition{
	{
		Name:        ToolReadFile,
		Description: "Read the contents of a file by relative path. Returns the file content as a string. Max 1MB.",
		InputSchema: schema(`{"path": {"type": "string", "description": "Relative path from the project root (e.g. 'src/App.tsx')"}}`, "path"),
	},
	{
		Name:        ToolWriteFile,
		Description: "Write content to a file. Creates parent directories if needed. Overwrites existing files. Max 500KB.",
		InputSchema: schema(`{"path": {"type": "string", "description": "Relative path from the project root"}, "content": {"type": "string", "description": "The full file content to write"}}`, "path", "content"),
	},
	{
		Name:        ToolListDirectory,
		Description: "List the contents of a directory. Returns file and subdirectory names.",
		InputSchema: schema(`{"path": {"type": "string", "description": "Relative directory path (e.g. 'src/components'). Use '.' for project root."}}`, "path"),
	},
	{
		Name:        ToolSearchFiles,
		Description: "Search for files matching a glob pattern. Returns matching file paths relative to the project root.",
		InputSchema: schema(`{"pattern": {"type": "string", "description": "Glob pattern (e.g. 'src/**/*.tsx', '**/*.css')"}}`, "pattern"),
	},
	{
		Name:        ToolRunTests,
		Description: "Run the project's test command and return its output.",
		InputSchema: schema(`{"suite": {"type": "string", "description": "Named test suite to run"}, "test_path": {"type": "string", "description": "Optional path argument appended to the test command"}}`),
	},
	{
		Name:        ToolAskUser,
		Description: "Ask the human operator a clarifying question and wait for their reply. Use only when the task is ambiguous.",
		InputSchema: schema(`{"question": {"type": "string", "description": "The question for the operator"}, "context": {"type": "string", "description": "Short context explaining why clarification is needed"}}`, "question"),
	},
}

// Catalogue returns the tool definitions whose names appear in names,
// preserving catalogue order.
func Catalogue(names []string) []llm.ToolDefinition {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	var out []llm.ToolDefinition
	for _, def := range toolDefinitions {
		if allowed[def.Name] {
			out = append(out, def)
		}
	}
	return out
}
