package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jacklul/gamestore/storage"
	"github.com/jacklul/gamestore/storage/filestore"
)

// fakeBackend is a scriptable in-memory storage.Backend for orchestration
// tests.
type fakeBackend struct {
	mu       sync.Mutex
	sessions map[string]*storage.Session
	locked   map[string]bool

	initErr   error
	lockBusy  bool
	getErr    error
	putErr    error
	deleteErr error

	calls []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sessions: make(map[string]*storage.Session),
		locked:   make(map[string]bool),
	}
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Initialize(ctx context.Context) error {
	f.record("initialize")
	return f.initErr
}

func (f *fakeBackend) Get(ctx context.Context, id string) (*storage.Session, error) {
	f.record("get")
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id], nil
}

func (f *fakeBackend) Put(ctx context.Context, id string, data []byte) error {
	f.record("put")
	if f.putErr != nil {
		return f.putErr
	}
	if err := storage.ValidateData(data); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	created := now
	if existing, ok := f.sessions[id]; ok {
		created = existing.CreatedAt
	}
	f.sessions[id] = &storage.Session{ID: id, Data: data, CreatedAt: created, UpdatedAt: now}
	return nil
}

func (f *fakeBackend) Delete(ctx context.Context, id string) error {
	f.record("delete")
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func (f *fakeBackend) Lock(ctx context.Context, id string) (bool, error) {
	f.record("lock")
	if f.lockBusy {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked[id] {
		return false, nil
	}
	f.locked[id] = true
	return true, nil
}

func (f *fakeBackend) Unlock(ctx context.Context, id string) (bool, error) {
	f.record("unlock")
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.locked[id] {
		return false, nil
	}
	delete(f.locked, id)
	return true, nil
}

func (f *fakeBackend) List(ctx context.Context, olderThan time.Duration) ([]storage.SessionInfo, error) {
	f.record("list")
	return nil, nil
}

func (f *fakeBackend) Close() error { return nil }

var _ storage.Backend = (*fakeBackend)(nil)

func TestRunPersistsHandlerResult(t *testing.T) {
	fb := newFakeBackend()
	m := NewManager(fb, nil)

	status, err := m.Run(context.Background(), "game-1", func(ctx context.Context, current *storage.Session) (Update, error) {
		if current != nil {
			t.Fatal("handler received a session for a brand-new id")
		}
		return Update{Data: []byte(`{"turn":1}`)}, nil
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("Run() status = %v, want ok", status)
	}
	if sess := fb.sessions["game-1"]; sess == nil || string(sess.Data) != `{"turn":1}` {
		t.Fatalf("persisted session = %+v", fb.sessions["game-1"])
	}
	if fb.locked["game-1"] {
		t.Fatal("lock still held after Run()")
	}
}

func TestRunPassesCurrentState(t *testing.T) {
	fb := newFakeBackend()
	m := NewManager(fb, nil)
	ctx := context.Background()

	if _, err := m.Run(ctx, "game-1", func(ctx context.Context, _ *storage.Session) (Update, error) {
		return Update{Data: []byte("first")}, nil
	}); err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}

	_, err := m.Run(ctx, "game-1", func(ctx context.Context, current *storage.Session) (Update, error) {
		if current == nil || string(current.Data) != "first" {
			t.Fatalf("handler saw %+v, want the committed first state", current)
		}
		return Update{Data: []byte("second")}, nil
	})
	if err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}
}

func TestRunBusy(t *testing.T) {
	fb := newFakeBackend()
	fb.lockBusy = true
	m := NewManager(fb, nil)

	status, err := m.Run(context.Background(), "game-1", func(ctx context.Context, _ *storage.Session) (Update, error) {
		t.Fatal("handler ran while the lock was busy")
		return Update{}, nil
	})
	if err != nil {
		t.Fatalf("Run() on busy lock returned error: %v", err)
	}
	if status != StatusBusy {
		t.Fatalf("Run() status = %v, want busy", status)
	}
	for _, call := range fb.calls {
		if call == "get" || call == "put" || call == "delete" {
			t.Fatalf("busy Run() touched storage: calls = %v", fb.calls)
		}
	}
}

func TestRunUnavailable(t *testing.T) {
	fb := newFakeBackend()
	fb.initErr = errors.New("connection refused")
	m := NewManager(fb, nil)

	status, err := m.Run(context.Background(), "game-1", func(ctx context.Context, _ *storage.Session) (Update, error) {
		t.Fatal("handler ran while the backend was unavailable")
		return Update{}, nil
	})
	if status != StatusUnavailable {
		t.Fatalf("Run() status = %v, want unavailable", status)
	}
	if err == nil {
		t.Fatal("Run() on unavailable backend returned nil error")
	}
	for _, call := range fb.calls {
		if call == "lock" {
			t.Fatal("Run() attempted a lock after Initialize failed")
		}
	}
}

func TestRunUnlocksAfterHandlerError(t *testing.T) {
	fb := newFakeBackend()
	m := NewManager(fb, nil)

	status, err := m.Run(context.Background(), "game-1", func(ctx context.Context, _ *storage.Session) (Update, error) {
		return Update{}, fmt.Errorf("game logic exploded")
	})
	if status != StatusError {
		t.Fatalf("Run() status = %v, want error", status)
	}
	if err == nil {
		t.Fatal("Run() swallowed the handler error")
	}
	if fb.locked["game-1"] {
		t.Fatal("lock still held after handler error")
	}
}

func TestRunUnlocksAfterPutError(t *testing.T) {
	fb := newFakeBackend()
	fb.putErr = errors.New("disk full")
	m := NewManager(fb, nil)

	status, _ := m.Run(context.Background(), "game-1", func(ctx context.Context, _ *storage.Session) (Update, error) {
		return Update{Data: []byte("state")}, nil
	})
	if status != StatusError {
		t.Fatalf("Run() status = %v, want error", status)
	}
	if fb.locked["game-1"] {
		t.Fatal("lock still held after persist error")
	}
}

func TestRunEndDeletesSession(t *testing.T) {
	fb := newFakeBackend()
	m := NewManager(fb, nil)
	ctx := context.Background()

	if _, err := m.Run(ctx, "game-1", func(ctx context.Context, _ *storage.Session) (Update, error) {
		return Update{Data: []byte("state")}, nil
	}); err != nil {
		t.Fatalf("setup Run() failed: %v", err)
	}

	status, err := m.Run(ctx, "game-1", func(ctx context.Context, _ *storage.Session) (Update, error) {
		return Update{End: true}, nil
	})
	if err != nil || status != StatusOK {
		t.Fatalf("Run() = (%v, %v), want (ok, nil)", status, err)
	}
	if _, ok := fb.sessions["game-1"]; ok {
		t.Fatal("session still present after End")
	}
}

func TestRunEmptyID(t *testing.T) {
	m := NewManager(newFakeBackend(), nil)

	status, err := m.Run(context.Background(), "", func(ctx context.Context, _ *storage.Session) (Update, error) {
		return Update{Data: []byte("x")}, nil
	})
	if status != StatusError || !errors.Is(err, storage.ErrEmptyID) {
		t.Fatalf("Run(\"\") = (%v, %v), want (error, ErrEmptyID)", status, err)
	}
}

// TestConcurrentRunsSerialize exercises the real lock protocol: two managers
// over separate file backends sharing one directory, as two processes would.
// The second Run must observe the first's committed state, never a partial
// one, and a Run overlapping a held lock reports busy.
func TestConcurrentRunsSerialize(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	open := func() storage.Backend {
		b, err := filestore.New(filestore.Config{Dir: dir})
		if err != nil {
			t.Fatalf("filestore.New() failed: %v", err)
		}
		if err := b.Initialize(ctx); err != nil {
			t.Fatalf("Initialize() failed: %v", err)
		}
		return b
	}
	b1 := open()
	b2 := open()
	defer b1.Close()
	defer b2.Close()

	m1 := NewManager(b1, nil)
	m2 := NewManager(b2, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := m1.Run(ctx, "game-1", func(ctx context.Context, _ *storage.Session) (Update, error) {
			close(entered)
			<-release
			return Update{Data: []byte("committed-by-first")}, nil
		})
		done <- err
	}()

	<-entered

	// While the first holder is inside its handler, the second process
	// gets busy, not stale data.
	status, err := m2.Run(ctx, "game-1", func(ctx context.Context, _ *storage.Session) (Update, error) {
		return Update{Data: []byte("should-not-run")}, nil
	})
	if err != nil || status != StatusBusy {
		t.Fatalf("overlapping Run() = (%v, %v), want (busy, nil)", status, err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}

	// After the first unlock, the second process sees the committed state.
	status, err = m2.Run(ctx, "game-1", func(ctx context.Context, current *storage.Session) (Update, error) {
		if current == nil || string(current.Data) != "committed-by-first" {
			t.Fatalf("handler saw %+v, want the first Run's committed state", current)
		}
		return Update{Data: []byte("second")}, nil
	})
	if err != nil || status != StatusOK {
		t.Fatalf("Run() after release = (%v, %v), want (ok, nil)", status, err)
	}
}
