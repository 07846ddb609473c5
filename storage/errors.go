package storage

import "errors"

// Validation and availability errors shared by all backends. Backends wrap
// operation failures with their own identity via fmt.Errorf; these sentinels
// stay matchable through errors.Is.
var (
	// ErrEmptyID rejects an empty session id before any I/O is attempted.
	ErrEmptyID = errors.New("storage: session id must not be empty")

	// ErrEmptyData rejects an empty session payload before any I/O is
	// attempted.
	ErrEmptyData = errors.New("storage: session data must not be empty")

	// ErrNotInitialized is returned by data operations on a backend whose
	// Initialize has not succeeded yet.
	ErrNotInitialized = errors.New("storage: backend not initialized")
)
