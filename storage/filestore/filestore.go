// Package filestore implements storage.Backend on a local or shared
// filesystem: one JSON file per session in a dedicated directory. The
// session file itself is the lock target, so no side-channel lock files are
// needed; Lock creates an empty placeholder when the session has never been
// written.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jacklul/gamestore/internal/flock"
	"github.com/jacklul/gamestore/storage"
)

const fileSuffix = ".json"

// Config contains configuration options for the file backend.
type Config struct {
	// Dir is the directory holding one file per session. Required.
	Dir string
}

// Backend implements storage.Backend using one file per session.
type Backend struct {
	dir string

	mu    sync.Mutex
	ready bool
	locks map[string]*os.File
}

// storedSession is the on-disk JSON shape.
type storedSession struct {
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a file backend rooted at cfg.Dir. The directory is created by
// Initialize, not here.
func New(cfg Config) (*Backend, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("filestore: data directory is required")
	}
	return &Backend{
		dir:   cfg.Dir,
		locks: make(map[string]*os.File),
	}, nil
}

// Name implements storage.Backend.
func (b *Backend) Name() string { return "file" }

// Initialize creates the data directory if absent. Safe to call repeatedly.
func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ready {
		return nil
	}
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("filestore: create %s: %w", b.dir, err)
	}
	b.ready = true
	return nil
}

// Get implements storage.Backend.
func (b *Backend) Get(ctx context.Context, id string) (*storage.Session, error) {
	if err := storage.ValidateID(id); err != nil {
		return nil, err
	}
	if err := b.requireReady(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(b.path(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read %q: %w", id, err)
	}
	// A zero-length file is a lock placeholder, not a session.
	if len(raw) == 0 {
		return nil, nil
	}

	var stored storedSession
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("filestore: decode %q: %w", id, err)
	}
	return &storage.Session{
		ID:        id,
		Data:      stored.Data,
		CreatedAt: stored.CreatedAt,
		UpdatedAt: stored.UpdatedAt,
	}, nil
}

// Put implements storage.Backend. The file is rewritten in place rather than
// renamed over, so a lock held on it stays attached to the live inode.
func (b *Backend) Put(ctx context.Context, id string, data []byte) error {
	if err := storage.ValidateID(id); err != nil {
		return err
	}
	if err := storage.ValidateData(data); err != nil {
		return err
	}
	if err := b.requireReady(); err != nil {
		return err
	}

	now := time.Now().UTC()
	stored := storedSession{Data: data, CreatedAt: now, UpdatedAt: now}

	if existing, err := b.Get(ctx, id); err != nil {
		return err
	} else if existing != nil {
		stored.CreatedAt = existing.CreatedAt
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("filestore: encode %q: %w", id, err)
	}
	if err := os.WriteFile(b.path(id), raw, 0o644); err != nil {
		return fmt.Errorf("filestore: write %q: %w", id, err)
	}
	return nil
}

// Delete implements storage.Backend.
func (b *Backend) Delete(ctx context.Context, id string) error {
	if err := storage.ValidateID(id); err != nil {
		return err
	}
	if err := b.requireReady(); err != nil {
		return err
	}

	if err := os.Remove(b.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filestore: delete %q: %w", id, err)
	}
	return nil
}

// Lock implements storage.Backend by taking a non-blocking OS advisory
// exclusive lock on the session file, creating an empty placeholder first
// when the session has never been written.
func (b *Backend) Lock(ctx context.Context, id string) (bool, error) {
	if err := storage.ValidateID(id); err != nil {
		return false, err
	}
	if err := b.requireReady(); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.locks[id]; ok {
		return false, nil
	}

	f, err := os.OpenFile(b.path(id), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, fmt.Errorf("filestore: open lock target %q: %w", id, err)
	}
	ok, err := flock.TryLock(f)
	if err != nil {
		f.Close()
		return false, fmt.Errorf("filestore: lock %q: %w", id, err)
	}
	if !ok {
		f.Close()
		return false, nil
	}
	b.locks[id] = f
	return true, nil
}

// Unlock implements storage.Backend.
func (b *Backend) Unlock(ctx context.Context, id string) (bool, error) {
	if err := storage.ValidateID(id); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.locks[id]
	if !ok {
		return false, nil
	}
	delete(b.locks, id)

	if err := flock.Unlock(f); err != nil {
		f.Close()
		return false, fmt.Errorf("filestore: unlock %q: %w", id, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("filestore: close lock target %q: %w", id, err)
	}
	return true, nil
}

// List implements storage.Backend by walking the data directory and
// filtering on file modification time.
func (b *Backend) List(ctx context.Context, olderThan time.Duration) ([]storage.SessionInfo, error) {
	if err := b.requireReady(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("filestore: scan %s: %w", b.dir, err)
	}

	cutoff, evict := storage.Cutoff(time.Now().UTC(), olderThan)

	var infos []storage.SessionInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		if fi.Size() == 0 {
			// Lock placeholder for a session that was never written.
			continue
		}
		mtime := fi.ModTime()
		if evict && mtime.After(cutoff) {
			continue
		}
		if !evict && !mtime.After(cutoff) {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(entry.Name(), fileSuffix))
		if err != nil {
			continue
		}
		infos = append(infos, storage.SessionInfo{ID: id, UpdatedAt: mtime})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.Before(infos[j].UpdatedAt)
	})
	return infos, nil
}

// Close releases any locks still held by this process.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for id, f := range b.locks {
		if err := flock.Unlock(f); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("filestore: unlock %q: %w", id, err)
		}
		f.Close()
		delete(b.locks, id)
	}
	return firstErr
}

func (b *Backend) requireReady() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return fmt.Errorf("filestore: %w", storage.ErrNotInitialized)
	}
	return nil
}

// path maps an opaque id onto a file name inside the data directory. Ids are
// path-escaped so separators and dots cannot leave the directory.
func (b *Backend) path(id string) string {
	return filepath.Join(b.dir, url.PathEscape(id)+fileSuffix)
}

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)
