// Package storage defines the contract shared by every game-session storage
// backend. A backend persists opaque session blobs keyed by a caller-assigned
// session id and layers a per-id advisory lock on top, so that overlapping
// handler processes for the same session never interleave writes.
//
// Outcomes
//
// The API distinguishes four outcomes and only one of them is an error:
//   - value:  Get returns a *Session
//   - empty:  Get returns (nil, nil) for an id that was never written
//   - busy:   Lock returns (false, nil) when another holder has the lock
//   - error:  anything else, wrapped with the backend's identity
//
// Callers must treat "empty" and "busy" as ordinary results, not failures.
//
// # Locking
//
// Lock and Unlock are advisory and non-blocking: a Lock that cannot be
// granted right now reports false immediately. Locks are bound to open file
// descriptors, so the operating system releases them when the holding process
// exits for any reason. There is no lease or heartbeat; a process that hangs
// without exiting keeps its locks.
//
// Backends that have no native locking primitive (relational, cache,
// document) use a side-channel lock file local to the host via the lockfile
// package. Exclusivity for those backends is therefore only guaranteed
// within a single host; see the lockfile package for details.
//
// Implementations
//
//	filestore  : one file per session on a local or shared filesystem
//	dbstore    : one table row per session (MySQL or PostgreSQL dialect)
//	redisstore : one cache entry per session (no age listing)
//	docstore   : one PostgREST document per session
package storage
