// Package sourceedit applies simple CSS property changes to source files
// deterministically, without a model call.
//
// Edits are partitioned: CSS properties with a source mapping are applied
// directly (inline style object first, associated CSS file as fallback);
// everything else escalates to AI-assisted handling. The escalation chain
// is capped by an explicit budget so a failing edit cannot bounce between
// engines indefinitely.
package sourceedit

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultMaxEscalations bounds how many failed deterministic changes may be
// routed onward to the AI-assisted engine per request.
const DefaultMaxEscalations = 25

// deterministicProperties are CSS properties safe to edit without a model.
var deterministicProperties = map[string]bool{
	"color": true, "backgroundColor": true, "background-color": true,
	"borderColor": true, "border-color": true,
	"fontSize": true, "font-size": true,
	"fontWeight": true, "font-weight": true,
	"fontFamily": true, "font-family": true,
	"lineHeight": true, "line-height": true,
	"letterSpacing": true, "letter-spacing": true,
	"marginTop": true, "margin-top": true,
	"marginRight": true, "margin-right": true,
	"marginBottom": true, "margin-bottom": true,
	"marginLeft": true, "margin-left": true,
	"paddingTop": true, "padding-top": true,
	"paddingRight": true, "padding-right": true,
	"paddingBottom": true, "padding-bottom": true,
	"paddingLeft": true, "padding-left": true,
	"display": true, "width": true, "height": true,
	"opacity": true, "gap": true,
	"flexDirection": true, "flex-direction": true,
	"alignItems": true, "align-items": true,
	"justifyContent": true, "justify-content": true,
}

// Change is one property change on an element.
type Change struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

// Edit targets one element, identified by its DOM selector and (when the
// inspector could map it) a source file and line.
type Edit struct {
	Selector   string   `json:"selector"`
	SourceFile string   `json:"sourceFile,omitempty"`
	SourceLine int      `json:"sourceLine,omitempty"`
	Changes    []Change `json:"changes"`
}

// Applied records one successfully applied change.
type Applied struct {
	Selector string `json:"selector"`
	Property string `json:"property"`
	Value    string `json:"value"`
}

// Result is the outcome of one Apply call.
type Result struct {
	Applied    []Applied `json:"applied"`
	AIAssisted []Edit    `json:"aiAssisted"`
}

// Engine applies deterministic edits within one project root.
type Engine struct {
	projectRoot    string
	maxEscalations int
}

// NewEngine creates an Engine over projectRoot. maxEscalations values
// below 1 fall back to DefaultMaxEscalations.
func NewEngine(projectRoot string, maxEscalations int) *Engine {
	if maxEscalations < 1 {
		maxEscalations = DefaultMaxEscalations
	}
	return &Engine{projectRoot: projectRoot, maxEscalations: maxEscalations}
}

// Partition splits edits into deterministic and AI-assisted groups. A
// change is deterministic only when its property is on the allowlist and
// the element carries a source mapping.
func Partition(edits []Edit) (deterministic, aiAssisted []Edit) {
	for _, edit := range edits {
		hasSource := edit.SourceFile != "" && edit.SourceLine > 0

		var det, ai []Change
		for _, change := range edit.Changes {
			if hasSource && deterministicProperties[change.Property] {
				det = append(det, change)
			} else {
				ai = append(ai, change)
			}
		}

		if len(det) > 0 {
			e := edit
			e.Changes = det
			deterministic = append(deterministic, e)
		}
		if len(ai) > 0 {
			e := edit
			e.Changes = ai
			aiAssisted = append(aiAssisted, e)
		}
	}
	return deterministic, aiAssisted
}

// Apply partitions the edits, applies the deterministic ones, and returns
// what was applied plus everything routed to the AI-assisted engine. A
// deterministic change whose file edits all fail escalates to AI-assisted,
// up to the escalation budget; past the budget it is dropped from the
// result rather than retried.
func (e *Engine) Apply(edits []Edit) (Result, error) {
	deterministic, aiAssisted := Partition(edits)

	result := Result{Applied: []Applied{}, AIAssisted: aiAssisted}
	escalations := 0

	for _, edit := range deterministic {
		var unapplied []Change
		for _, change := range edit.Changes {
			if e.applyChange(edit, change) {
				result.Applied = append(result.Applied, Applied{
					Selector: edit.Selector,
					Property: change.Property,
					Value:    change.Value,
				})
				continue
			}
			if escalations < e.maxEscalations {
				escalations++
				unapplied = append(unapplied, change)
			}
		}
		if len(unapplied) > 0 {
			ed := edit
			ed.Changes = unapplied
			result.AIAssisted = append(result.AIAssisted, ed)
		}
	}
	return result, nil
}

// applyChange tries the inline style edit, then the associated CSS file.
func (e *Engine) applyChange(edit Edit, change Change) bool {
	if ApplyInlineStyleEdit(e.projectRoot, edit.SourceFile, edit.SourceLine, change.Property, change.Value) {
		return true
	}
	cssPath := FindCSSFile(e.projectRoot, edit.SourceFile)
	if cssPath == "" {
		return false
	}
	classes := ExtractClassesFromSelector(edit.Selector)
	return ApplyCSSClassEdit(cssPath, classes, change.Property, change.Value)
}

var camelBoundary = regexp.MustCompile(`([A-Z])`)

// CamelToKebab converts a camelCase CSS property to kebab-case.
func CamelToKebab(name string) string {
	return strings.ToLower(camelBoundary.ReplaceAllString(name, "-$1"))
}

func isSafePath(projectRoot, path string) bool {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// FindCSSFile locates the stylesheet associated with a JSX/TSX source file
// by naming convention (Home.jsx -> Home.css, Home.module.css, ...).
// Returns "" when none exists.
func FindCSSFile(projectRoot, sourceFile string) string {
	full := filepath.Join(projectRoot, sourceFile)
	stem := strings.TrimSuffix(filepath.Base(full), filepath.Ext(full))
	dir := filepath.Dir(full)

	for _, ext := range []string{".css", ".scss", ".module.css", ".module.scss"} {
		cssPath := filepath.Join(dir, stem+ext)
		if info, err := os.Stat(cssPath); err == nil && info.Mode().IsRegular() && isSafePath(projectRoot, cssPath) {
			return cssPath
		}
	}
	return ""
}

var classPattern = regexp.MustCompile(`\.([a-zA-Z_][\w-]*)`)

// ExtractClassesFromSelector pulls class names out of a DOM selector path,
// most specific (right-most) first.
func ExtractClassesFromSelector(selector string) []string {
	matches := classPattern.FindAllStringSubmatch(selector, -1)
	classes := make([]string, 0, len(matches))
	for i := len(matches) - 1; i >= 0; i-- {
		classes = append(classes, matches[i][1])
	}
	return classes
}

// ApplyInlineStyleEdit rewrites a `property: 'value'` entry in an inline
// style object near the mapped source line. Reports whether an edit landed.
func ApplyInlineStyleEdit(projectRoot, sourceFile string, sourceLine int, property, newValue string) bool {
	if sourceFile == "" || sourceLine <= 0 {
		return false
	}
	path := filepath.Join(projectRoot, sourceFile)
	if !isSafePath(projectRoot, path) {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	lines := strings.Split(string(data), "\n")

	lineIdx := sourceLine - 1
	start := lineIdx - 5
	if start < 0 {
		start = 0
	}
	end := lineIdx + 15
	if end > len(lines) {
		end = len(lines)
	}

	pattern := regexp.MustCompile(`(` + regexp.QuoteMeta(property) + `\s*:\s*)(['"])([^'"]*)(['"])`)

	for i := start; i < end; i++ {
		loc := pattern.FindStringSubmatchIndex(lines[i])
		if loc == nil {
			continue
		}
		prefix := lines[i][loc[2]:loc[3]]
		lines[i] = lines[i][:loc[0]] + prefix + "'" + newValue + "'" + lines[i][loc[1]:]
		return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644) == nil
	}
	return false
}

// ApplyCSSClassEdit updates (or inserts) a property in the first rule
// matching one of the classes. Reports whether an edit landed.
func ApplyCSSClassEdit(cssPath string, classes []string, property, newValue string) bool {
	info, err := os.Stat(cssPath)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	data, err := os.ReadFile(cssPath)
	if err != nil {
		return false
	}
	content := string(data)
	kebab := CamelToKebab(property)

	for _, class := range classes {
		// .className { ... kebab-prop: value; ... }
		updatePattern := regexp.MustCompile(
			`(?s)(\.` + regexp.QuoteMeta(class) + `\s*\{[^}]*?)(` +
				regexp.QuoteMeta(kebab) + `\s*:\s*)([^;]+)(;[^}]*\})`)
		if loc := updatePattern.FindStringSubmatchIndex(content); loc != nil {
			newContent := content[:loc[0]] +
				content[loc[2]:loc[3]] +
				kebab + ": " + newValue +
				content[loc[8]:loc[9]] +
				content[loc[1]:]
			return os.WriteFile(cssPath, []byte(newContent), 0o644) == nil
		}

		// Rule exists but lacks the property: insert before the closing brace.
		addPattern := regexp.MustCompile(
			`(?s)(\.` + regexp.QuoteMeta(class) + `\s*\{[^}]*?)(\})`)
		if loc := addPattern.FindStringSubmatchIndex(content); loc != nil {
			block := strings.TrimRight(content[loc[2]:loc[3]], " \t\n")
			indent := detectIndent(block)
			newContent := content[:loc[0]] +
				block + "\n" +
				fmt.Sprintf("%s%s: %s;\n", indent, kebab, newValue) +
				content[loc[4]:loc[5]] +
				content[loc[1]:]
			return os.WriteFile(cssPath, []byte(newContent), 0o644) == nil
		}
	}
	return false
}

var leadingSpace = regexp.MustCompile(`^(\s+)`)

func detectIndent(block string) string {
	lines := strings.Split(block, "\n")
	if len(lines) > 1 {
		if m := leadingSpace.FindStringSubmatch(lines[len(lines)-1]); m != nil {
			return m[1]
		}
	}
	return "  "
}
