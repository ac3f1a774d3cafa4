package filelock

import "errors"

// Sentinel errors returned by manager operations.
var (
	// ErrLocked is returned when any file in an acquire batch is held by a
	// different worker. No lock in the batch is applied when this is returned.
	ErrLocked = errors.New("file already locked by another worker")
)
