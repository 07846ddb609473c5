package storage

import (
	"context"
	"time"
)

// Session is the unit of storage: an opaque data blob plus the two
// timestamps the storage layer maintains on the caller's behalf.
type Session struct {
	ID        string
	Data      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionInfo is the listing summary returned by Backend.List.
type SessionInfo struct {
	ID        string
	UpdatedAt time.Time
}

// Backend is implemented by every storage backend. All methods are safe for
// use by a single goroutine per process; cross-process safety comes from the
// Lock/Unlock protocol, not from the data operations themselves.
type Backend interface {
	// Name identifies the backend in logs and wrapped errors.
	Name() string

	// Initialize prepares connections, paths or tables. It is idempotent
	// and safe to call multiple times. After a failed Initialize all other
	// operations report the backend as unavailable instead of panicking.
	Initialize(ctx context.Context) error

	// Get returns the session for id, or (nil, nil) if no session with
	// that id exists. A missing id is never an error.
	Get(ctx context.Context, id string) (*Session, error)

	// Put creates or updates the session for id in one logical write.
	// The first Put for an id sets CreatedAt; later Puts only advance
	// UpdatedAt and replace Data.
	Put(ctx context.Context, id string, data []byte) error

	// Delete removes the session for id. Deleting an id that does not
	// exist is a no-op, not an error.
	Delete(ctx context.Context, id string) error

	// Lock acquires the advisory per-id lock. It returns (false, nil)
	// when another holder currently has the lock; that is a busy
	// condition, not an error.
	Lock(ctx context.Context, id string) (bool, error)

	// Unlock releases the advisory per-id lock. It returns false when
	// this process did not hold the lock.
	Unlock(ctx context.Context, id string) (bool, error)

	// List returns summaries of sessions filtered by age. A non-negative
	// olderThan selects sessions updated at or before now-olderThan,
	// oldest first. A negative olderThan selects sessions updated after
	// now+olderThan. Backends without listing support return an empty
	// result and no error.
	List(ctx context.Context, olderThan time.Duration) ([]SessionInfo, error)

	// Close releases the backend's connections and any locks still held
	// by this process.
	Close() error
}

// ValidateID rejects empty session ids before any backend I/O happens.
func ValidateID(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	return nil
}

// ValidateData rejects empty session payloads before any backend I/O happens.
func ValidateData(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyData
	}
	return nil
}

// Cutoff resolves an age filter against now. The second return value is true
// when the filter selects sessions older than the cutoff (eviction) and
// false when it selects newer ones (stats).
func Cutoff(now time.Time, olderThan time.Duration) (time.Time, bool) {
	if olderThan >= 0 {
		return now.Add(-olderThan), true
	}
	return now.Add(olderThan), false
}
