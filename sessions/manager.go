package sessions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jacklul/gamestore/internal/logctx"
	"github.com/jacklul/gamestore/storage"
)

// Status classifies the outcome of a Run so callers are forced to handle
// busy and unavailable as first-class conditions, not error strings.
type Status int

const (
	// StatusOK means the handler ran and its result was persisted.
	StatusOK Status = iota

	// StatusBusy means another holder has the session lock right now.
	// Nothing was read or written; the caller should ask the user to
	// retry shortly.
	StatusBusy

	// StatusUnavailable means the backend could not be initialized. The
	// caller should answer with a transient-failure message.
	StatusUnavailable

	// StatusError means a backend operation or the handler itself failed
	// after the lock was taken. The accompanying error carries detail.
	StatusError
)

// String returns a short label for logs.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusBusy:
		return "busy"
	case StatusUnavailable:
		return "unavailable"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Update is what a handler hands back: the next state blob, or the signal
// that the session ended and should be deleted.
type Update struct {
	// Data is the serialized next state. Required unless End is set.
	Data []byte

	// End deletes the session instead of persisting Data.
	End bool
}

// HandlerFunc is the external game-logic collaborator. It receives the
// current session, or nil when no session with this id exists yet, and
// returns the update to apply. The transport response it produces travels
// through the closure, not through this package.
type HandlerFunc func(ctx context.Context, current *storage.Session) (Update, error)

// Manager runs the per-event lock–execute–unlock flow over one backend.
type Manager struct {
	backend storage.Backend
	log     *slog.Logger
}

// NewManager creates a Manager over an already selected backend. A nil
// logger falls back to slog.Default.
func NewManager(backend storage.Backend, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{backend: backend, log: log}
}

// Run executes handler under the per-id lock and persists what it returns.
// The lock is released unconditionally, even when the handler or the write
// fails. Backend errors are never retried here.
func (m *Manager) Run(ctx context.Context, id string, handler HandlerFunc) (Status, error) {
	if err := storage.ValidateID(id); err != nil {
		return StatusError, err
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: id,
		Backend:   m.backend.Name(),
		RequestID: uuid.NewString(),
	})

	if err := m.backend.Initialize(ctx); err != nil {
		m.log.ErrorContext(ctx, "storage unavailable", slog.String("error", err.Error()))
		return StatusUnavailable, err
	}

	ok, err := m.backend.Lock(ctx, id)
	if err != nil {
		return StatusError, fmt.Errorf("sessions: lock: %w", err)
	}
	if !ok {
		m.log.DebugContext(ctx, "session lock busy")
		return StatusBusy, nil
	}
	defer func() {
		if _, err := m.backend.Unlock(ctx, id); err != nil {
			m.log.ErrorContext(ctx, "failed to release session lock", slog.String("error", err.Error()))
		}
	}()

	current, err := m.backend.Get(ctx, id)
	if err != nil {
		return StatusError, fmt.Errorf("sessions: load: %w", err)
	}

	update, err := handler(ctx, current)
	if err != nil {
		return StatusError, fmt.Errorf("sessions: handler: %w", err)
	}

	if update.End {
		if err := m.backend.Delete(ctx, id); err != nil {
			return StatusError, fmt.Errorf("sessions: delete: %w", err)
		}
		m.log.DebugContext(ctx, "session ended")
		return StatusOK, nil
	}

	if err := m.backend.Put(ctx, id, update.Data); err != nil {
		return StatusError, fmt.Errorf("sessions: persist: %w", err)
	}
	return StatusOK, nil
}
