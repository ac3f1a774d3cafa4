// Package filelock provides advisory per-file write coordination for
// orchestrated agent workers.
//
// When multiple workers run in parallel against the same project tree, they
// may attempt to write the same file simultaneously. The Manager prevents
// this with an in-memory map of file path to owning worker ID. The
// orchestrator acquires each task's declared paths before the worker starts
// and clears the whole table unconditionally at run end.
//
// Locking is cooperative: there is no OS-level file locking, so the
// discipline only holds for writers that consult the manager before writing.
//
// # Basic Usage
//
//	mgr := filelock.NewManager()
//
//	// Acquire all paths for a task, or none at all
//	err := mgr.Acquire("worker-1", []string{"src/App.tsx", "src/App.css"})
//
//	// Gate a write
//	ok := mgr.CanWrite("worker-1", "src/App.tsx")
//
//	// Release one worker's locks
//	mgr.Release("worker-1")
//
//	// Unconditional clear at run end
//	mgr.ReleaseAll()
//
// # Thread Safety
//
// All Manager methods are safe for concurrent use via an internal sync.Mutex.
package filelock
