// Package contextfile handles the instruction payload exported by the
// page inspector: reading and validating .vci/context.json, exporting new
// payloads with timestamped history copies, and formatting a payload into
// the planning prompt.
package contextfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// MaxFileSize caps the context file read into memory.
	MaxFileSize = 10 << 20 // 10MB

	// MaxExportSize caps the payload accepted for export.
	MaxExportSize = 5 << 20 // 5MB

	// DefaultTokenBudget sizes the formatted planning prompt.
	DefaultTokenBudget = 4000

	charsPerToken = 4
	maxHTMLLength = 500
)

// Sentinel errors for payload handling.
var (
	ErrTooLarge   = errors.New("context payload too large")
	ErrNotObject  = errors.New("context payload must be a JSON object")
	ErrOutsideDir = errors.New("context path outside project directory")
)

// ElementContext describes one element the user selected on the page.
type ElementContext struct {
	TagName       string `json:"tagName,omitempty"`
	Selector      string `json:"selector,omitempty"`
	SourceFile    string `json:"sourceFile,omitempty"`
	SourceLine    int    `json:"sourceLine,omitempty"`
	ComponentName string `json:"componentName,omitempty"`
	ElementPrompt string `json:"elementPrompt,omitempty"`
	HTML          string `json:"html,omitempty"`
}

// Payload is the normalized view of an exported context. Fields the agent
// does not interpret are carried opaquely in Raw.
type Payload struct {
	Route    string           `json:"route,omitempty"`
	Prompt   string           `json:"prompt,omitempty"`
	Contexts []ElementContext `json:"contexts"`

	Raw json.RawMessage `json:"-"`
}

// Read loads and validates a context file. Files over MaxFileSize are
// rejected before being read into memory.
func Read(path string) (*Payload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("context file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, info.Size(), int64(MaxFileSize))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read context file: %w", err)
	}
	return Parse(data)
}

// Parse validates raw JSON as a context payload.
func Parse(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if p.Contexts == nil {
		p.Contexts = []ElementContext{}
	}
	p.Raw = append(json.RawMessage(nil), data...)
	return &p, nil
}

// Export writes a raw payload to {projectRoot}/.vci/context.json and a
// timestamped copy under .vci/history/, returning both paths. The payload
// must be a JSON object no larger than MaxExportSize.
func Export(projectRoot string, payload json.RawMessage) (contextPath, historyPath string, err error) {
	if len(payload) > MaxExportSize {
		return "", "", fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(payload), int64(MaxExportSize))
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return "", "", ErrNotObject
	}

	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return "", "", fmt.Errorf("resolve project root: %w", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return "", "", fmt.Errorf("project root is not a directory: %s", projectRoot)
	}

	vciDir := filepath.Join(root, ".vci")
	historyDir := filepath.Join(vciDir, "history")
	if err := os.MkdirAll(historyDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create context dirs: %w", err)
	}

	pretty, err := json.MarshalIndent(json.RawMessage(payload), "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode payload: %w", err)
	}

	contextPath = filepath.Join(vciDir, "context.json")
	if err := os.WriteFile(contextPath, pretty, 0o644); err != nil {
		return "", "", fmt.Errorf("write context file: %w", err)
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	historyPath = filepath.Join(historyDir, timestamp+".json")
	if err := os.WriteFile(historyPath, pretty, 0o644); err != nil {
		return "", "", fmt.Errorf("write history copy: %w", err)
	}

	return contextPath, historyPath, nil
}

// WithinRoot reports whether path resolves inside projectRoot. Used by the
// control surface before handing a context path to the orchestrator.
func WithinRoot(projectRoot, path string) bool {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Format renders the payload into the planning prompt, hard-truncated to
// the token budget. The user prompt, element selectors, and source file
// references are always preserved ahead of element HTML.
func Format(p *Payload, tokenBudget int) string {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	maxChars := tokenBudget * charsPerToken

	header := buildHeader(p)
	files := buildFilesToModify(p.Contexts)

	full := header + buildElements(p.Contexts, true) + files
	if len(full) <= maxChars {
		return full
	}

	lite := header + buildElements(p.Contexts, false) + files
	if len(lite) <= maxChars {
		return lite
	}

	const marker = "..."
	if maxChars <= len(marker) {
		return marker
	}
	return lite[:maxChars-len(marker)] + marker
}

func buildHeader(p *Payload) string {
	var b strings.Builder
	b.WriteString("## Visual Context\n\n")
	if p.Route != "" {
		fmt.Fprintf(&b, "The user is working on `%s`.\n\n", p.Route)
	}
	if p.Prompt != "" {
		fmt.Fprintf(&b, "> %s\n\n", p.Prompt)
	}
	return b.String()
}

func buildElements(contexts []ElementContext, includeHTML bool) string {
	if len(contexts) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("### Selected Elements\n\n")
	for i, ctx := range contexts {
		tag := ctx.TagName
		if tag == "" {
			tag = "unknown"
		}
		component := ""
		if ctx.ComponentName != "" {
			component = fmt.Sprintf(" (%s)", ctx.ComponentName)
		}
		if ref := sourceRef(ctx); ref != "" {
			fmt.Fprintf(&b, "%d. **`<%s>` in `%s`**%s\n", i+1, tag, ref, component)
		} else {
			fmt.Fprintf(&b, "%d. **`<%s>`**%s\n", i+1, tag, component)
		}
		fmt.Fprintf(&b, "   - Selector: `%s`\n", ctx.Selector)
		if ctx.ElementPrompt != "" {
			fmt.Fprintf(&b, "   - Instruction: %s\n", ctx.ElementPrompt)
		}
		if includeHTML && ctx.HTML != "" {
			html := ctx.HTML
			if len(html) > maxHTMLLength {
				html = html[:maxHTMLLength] + "..."
			}
			fmt.Fprintf(&b, "   - HTML: `%s`\n", html)
		}
	}
	b.WriteString("\n")
	return b.String()
}

func buildFilesToModify(contexts []ElementContext) string {
	seen := make(map[string]bool)
	var refs []string
	for _, ctx := range contexts {
		ref := sourceRef(ctx)
		if ref != "" && !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("### Files to Modify\n\n")
	for _, ref := range refs {
		fmt.Fprintf(&b, "- `%s`\n", ref)
	}
	b.WriteString("\n")
	return b.String()
}

func sourceRef(ctx ElementContext) string {
	if ctx.SourceFile == "" {
		return ""
	}
	if ctx.SourceLine > 0 {
		return fmt.Sprintf("%s:%d", ctx.SourceFile, ctx.SourceLine)
	}
	return ctx.SourceFile
}
