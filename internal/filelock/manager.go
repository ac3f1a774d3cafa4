package filelock

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Manager maps file paths to the worker that owns them.
// The zero value is not usable; construct with NewManager.
type Manager struct {
	mu    sync.Mutex
	locks map[string]string // filePath -> workerID
}

// NewManager creates an empty lock table.
func NewManager() *Manager {
	return &Manager{
		locks: make(map[string]string),
	}
}

// Acquire locks every path in paths for workerID.
// The operation is all-or-nothing: if any path is held by a different worker,
// ErrLocked is returned (wrapped with the conflicting paths and their
// holders) and the table is left unchanged. Re-acquiring paths the worker
// already holds is a no-op.
func (m *Manager) Acquire(workerID string, paths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate the whole batch before mutating anything.
	var conflicts []string
	for _, p := range paths {
		if holder, ok := m.locks[p]; ok && holder != workerID {
			conflicts = append(conflicts, fmt.Sprintf("%s (locked by %s)", p, holder))
		}
	}
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return fmt.Errorf("%w: %s", ErrLocked, strings.Join(conflicts, ", "))
	}

	for _, p := range paths {
		m.locks[p] = workerID
	}
	return nil
}

// CanWrite reports whether workerID may write path: true when the path is
// unlocked or locked by this worker.
func (m *Manager) CanWrite(workerID, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	holder, ok := m.locks[path]
	return !ok || holder == workerID
}

// IsLockedBy reports whether workerID holds the lock on path.
func (m *Manager) IsLockedBy(workerID, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.locks[path] == workerID
}

// Release drops every lock held by workerID. Unknown workers are a no-op.
func (m *Manager) Release(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for p, holder := range m.locks {
		if holder == workerID {
			delete(m.locks, p)
		}
	}
}

// ReleaseAll clears the whole table regardless of ownership. Called in the
// orchestrator's cleanup path so a crashed run cannot leave stale locks for
// the next one.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.locks = make(map[string]string)
}

// Owner returns the worker holding path and true, or ("", false) when the
// path is unlocked.
func (m *Manager) Owner(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	holder, ok := m.locks[path]
	return holder, ok
}

// WorkerPaths returns the paths held by workerID, sorted for deterministic
// output.
func (m *Manager) WorkerPaths(workerID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var paths []string
	for p, holder := range m.locks {
		if holder == workerID {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}
