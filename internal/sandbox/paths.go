package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveSafePath resolves userPath against root and verifies the result
// stays inside root. Every existing path component is additionally checked
// for a symlink whose target escapes the root, so a link swapped in between
// validation and use cannot redirect a write outside the sandbox.
func resolveSafePath(root, userPath string) (string, error) {
	if userPath == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(userPath) {
		return "", fmt.Errorf("path outside project directory")
	}

	target := filepath.Join(root, filepath.Clean(userPath))
	if !within(root, target) {
		return "", fmt.Errorf("path outside project directory")
	}

	// Walk each component from root downward; any symlink among them must
	// itself resolve inside the root.
	current := root
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "" || part == "." {
			continue
		}
		current = filepath.Join(current, part)
		info, err := os.Lstat(current)
		if err != nil {
			break // rest of the path does not exist yet
		}
		if info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(current)
			if err != nil {
				return "", fmt.Errorf("invalid path: %w", err)
			}
			if !within(root, resolved) {
				return "", fmt.Errorf("symlink escapes project directory")
			}
		}
	}

	return target, nil
}

// within reports whether target is root or inside it.
func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}
