// Package snapshot makes every agent file write recoverable.
//
// Before a run's first write to a file, the pre-edit content is copied into
// a per-run directory under .vci/snapshots/<run_id>/, mirroring the project
// tree. A manifest.json records the run's status and captured paths, and a
// latest.json pointer names the most recent run. Only the N most recent
// runs keep their captured content; older runs are pruned down to a
// manifest marked "pruned" and can no longer be restored.
package snapshot

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const manifestName = "manifest.json"

// Store manages per-run file snapshots for one project root.
type Store struct {
	projectRoot string
	keep        int // full snapshots retained before pruning
}

// NewStore creates a Store over projectRoot, retaining keep full snapshots.
// Values of keep below 1 are clamped to 1.
func NewStore(projectRoot string, keep int) *Store {
	if keep < 1 {
		keep = 1
	}
	return &Store{projectRoot: projectRoot, keep: keep}
}

func (s *Store) snapshotsDir() string {
	return filepath.Join(s.projectRoot, ".vci", "snapshots")
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.snapshotsDir(), runID)
}

func newRunID() string {
	buf := make([]byte, 3)
	_, _ = rand.Read(buf)
	return time.Now().UTC().Format("2006-01-02T15-04-05") + "_" + hex.EncodeToString(buf)
}

// Init creates an empty in-progress manifest for a new run and returns its
// run id.
func (s *Store) Init() (string, error) {
	runID := newRunID()
	dir := s.runDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	m := Manifest{RunID: runID, Status: StatusInProgress, Files: []string{}}
	if err := writeManifest(filepath.Join(dir, manifestName), m); err != nil {
		return "", err
	}
	return runID, nil
}

// Capture copies the current on-disk content of relPath into the run's
// snapshot area. It is idempotent per path per run: only the first capture
// wins, so later writes cannot clobber the pre-run content. Missing files
// and paths that resolve outside the project root are skipped silently.
// Returns whether anything was captured.
func (s *Store) Capture(runID, relPath string) (bool, error) {
	if !ValidRunID(runID) {
		return false, ErrInvalidRunID
	}
	if !s.withinRoot(relPath) {
		return false, nil
	}

	source := filepath.Join(s.projectRoot, relPath)
	info, err := os.Stat(source)
	if err != nil || !info.Mode().IsRegular() {
		return false, nil
	}

	dest := filepath.Join(s.runDir(runID), relPath)
	if _, err := os.Stat(dest); err == nil {
		return false, nil // already captured
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, fmt.Errorf("create capture dir: %w", err)
	}
	if err := copyFile(source, dest); err != nil {
		return false, fmt.Errorf("capture %s: %w", relPath, err)
	}
	return true, nil
}

// Finalize records the run's outcome in its manifest, updates the latest
// pointer, and prunes captured content beyond the retention window.
// Statuses other than success are recorded as error.
func (s *Store) Finalize(runID string, files []string, summary, status string) error {
	if !ValidRunID(runID) {
		return ErrInvalidRunID
	}
	if status != StatusSuccess && status != StatusError {
		status = StatusError
	}

	manifestPath := filepath.Join(s.runDir(runID), manifestName)
	m, err := readManifest(manifestPath)
	if err != nil {
		return fmt.Errorf("finalize %s: %w", runID, err)
	}

	m.Status = status
	m.Files = append([]string{}, files...)
	sort.Strings(m.Files)
	m.ContextSummary = summary
	m.Timestamp = time.Now().UTC().Format(time.RFC3339)
	if err := writeManifest(manifestPath, m); err != nil {
		return err
	}

	latest := struct {
		RunID string `json:"run_id"`
	}{RunID: runID}
	data, _ := json.MarshalIndent(latest, "", "  ")
	if err := os.WriteFile(filepath.Join(s.snapshotsDir(), "latest.json"), data, 0o644); err != nil {
		return fmt.Errorf("write latest pointer: %w", err)
	}

	return s.prune()
}

// List returns all manifests, newest first. Unreadable manifests are
// skipped.
func (s *Store) List() ([]Manifest, error) {
	entries, err := os.ReadDir(s.snapshotsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []Manifest{}, nil
		}
		return nil, err
	}

	var manifests []Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := readManifest(filepath.Join(s.snapshotsDir(), e.Name(), manifestName))
		if err != nil {
			continue
		}
		manifests = append(manifests, m)
	}

	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].RunID > manifests[j].RunID
	})
	return manifests, nil
}

// Restore copies every captured file of runID back over the live tree and
// returns the restored paths. Pruned and unknown runs return
// ErrNotRestorable and leave the tree untouched. Individual paths that fail
// containment or are missing from the capture are skipped, never aborting
// the rest of the restore.
func (s *Store) Restore(runID string) ([]string, error) {
	if !ValidRunID(runID) {
		return nil, ErrInvalidRunID
	}

	m, err := readManifest(filepath.Join(s.runDir(runID), manifestName))
	if err != nil {
		return nil, ErrNotRestorable
	}
	if m.Status == StatusPruned {
		return nil, ErrNotRestorable
	}

	restored := []string{}
	for _, relPath := range m.Files {
		if !s.withinRoot(relPath) {
			continue
		}
		source := filepath.Join(s.runDir(runID), relPath)
		if info, err := os.Stat(source); err != nil || !info.Mode().IsRegular() {
			continue
		}
		dest := filepath.Join(s.projectRoot, relPath)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			continue
		}
		if err := copyFile(source, dest); err != nil {
			continue
		}
		restored = append(restored, relPath)
	}
	return restored, nil
}

// prune keeps captured content for the most recent retained runs and
// reduces older runs to a manifest-only record marked pruned.
func (s *Store) prune() error {
	manifests, err := s.List()
	if err != nil {
		return err
	}
	if len(manifests) <= s.keep {
		return nil
	}

	for _, m := range manifests[s.keep:] {
		if m.Status == StatusPruned {
			continue
		}
		dir := s.runDir(m.RunID)
		if err := removeCapturedContent(dir); err != nil {
			return fmt.Errorf("prune %s: %w", m.RunID, err)
		}
		m.Status = StatusPruned
		m.Files = []string{}
		if err := writeManifest(filepath.Join(dir, manifestName), m); err != nil {
			return err
		}
	}
	return nil
}

// withinRoot reports whether relPath stays inside the project root once
// resolved. Absolute paths and parent traversal are rejected.
func (s *Store) withinRoot(relPath string) bool {
	if filepath.IsAbs(relPath) {
		return false
	}
	clean := filepath.Clean(relPath)
	return clean != ".." && !strings.HasPrefix(clean, ".."+string(filepath.Separator))
}

func removeCapturedContent(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == manifestName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func readManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

func writeManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
