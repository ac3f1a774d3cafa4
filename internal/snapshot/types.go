package snapshot

import (
	"errors"
	"regexp"
)

// Manifest statuses.
const (
	StatusInProgress = "in_progress"
	StatusSuccess    = "success"
	StatusError      = "error"
	StatusPruned     = "pruned"
)

// Sentinel errors returned by store operations.
var (
	// ErrNotRestorable is returned when a restore targets a pruned or
	// unknown run.
	ErrNotRestorable = errors.New("snapshot is not restorable")

	// ErrInvalidRunID is returned for run ids that could escape the
	// snapshots directory or were never generated by this store.
	ErrInvalidRunID = errors.New("invalid snapshot run id")
)

// Manifest describes one run's snapshot: which files were captured and how
// the run ended. The manifest outlives pruning; captured content does not.
type Manifest struct {
	RunID          string   `json:"run_id"`
	Status         string   `json:"status"`
	Files          []string `json:"files"`
	ContextSummary string   `json:"context_summary,omitempty"`
	Timestamp      string   `json:"timestamp,omitempty"`
}

// runIDPattern matches ids produced by newRunID: a UTC timestamp plus a
// random hex suffix. Anything else is rejected before touching the disk.
var runIDPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}_[0-9a-f]{6}$`)

// ValidRunID reports whether id is a well-formed snapshot run id.
func ValidRunID(id string) bool {
	return runIDPattern.MatchString(id)
}
