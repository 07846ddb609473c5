// Package sessions orchestrates safe mutation of game-session state on top
// of a storage.Backend. It provides the only two entry points external
// collaborators use:
//
//	Manager.Run  : per-event lock–execute–unlock flow around a caller handler
//	Reaper.Reap  : batch eviction of stale sessions under a time budget
//
// # Manager flow
//
// For each inbound event the Manager initializes the backend, takes the
// per-id advisory lock, loads the current session (which may not exist yet),
// hands it to the caller's handler, persists or deletes the state the
// handler returns, and releases the lock. The unlock runs in a defer so a
// failing handler or write can never leave a live process holding the lock.
//
// The lock protocol never blocks: when someone else holds the lock the
// Manager reports StatusBusy without reading or writing anything, and the
// caller answers the transport with a "try again shortly" message. Busy is
// an ordinary outcome, not an error.
//
// # Reaper flow
//
// The Reaper lists sessions older than a threshold (oldest first), then for
// each one optionally notifies the transport collaborator and deletes the
// session. It pauses briefly after every batch of notifications to respect
// the transport's throughput limits, and stops outright once its wall-clock
// budget elapses, reporting processed versus total. Individual notify or
// delete failures are logged and never abort the batch.
package sessions
