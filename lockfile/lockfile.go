// Package lockfile provides per-key advisory locks backed by lock files in a
// single directory. It is the side-channel locking mechanism for backends
// whose native protocol has no locking primitive (relational, cache,
// document).
//
// Known limitation: lock files live on one host's filesystem. In a
// horizontally scaled deployment where several hosts share one backend, each
// host only checks its own files, so two hosts can both "acquire" the lock
// for the same key. Exclusivity is guaranteed within a single host only.
// This mirrors the behavior of the original system and is intentionally not
// papered over here; single-host deployments rely on it being cheap.
package lockfile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jacklul/gamestore/internal/flock"
	"github.com/jacklul/gamestore/storage"
)

// Provider hands out at most one lock per key per process. Cross-process
// exclusion on the same host comes from the OS advisory lock on the key's
// lock file; the lock is released automatically when the holding process
// exits, so a crashed holder never deadlocks the key.
type Provider struct {
	dir string

	mu   sync.Mutex
	held map[string]*os.File
}

// New creates a Provider that keeps its lock files in dir. An empty dir
// falls back to the OS temporary directory.
func New(dir string) *Provider {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Provider{
		dir:  dir,
		held: make(map[string]*os.File),
	}
}

// Acquire takes the lock for key. It returns (false, nil) when the lock is
// currently held, whether by another process on this host or by an earlier
// Acquire in this process.
func (p *Provider) Acquire(key string) (bool, error) {
	if err := storage.ValidateID(key); err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.held[key]; ok {
		return false, nil
	}

	path := filepath.Join(p.dir, lockName(key))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, fmt.Errorf("lockfile: open %s: %w", path, err)
	}

	ok, err := flock.TryLock(f)
	if err != nil {
		f.Close()
		return false, fmt.Errorf("lockfile: lock %s: %w", path, err)
	}
	if !ok {
		f.Close()
		return false, nil
	}

	p.held[key] = f
	return true, nil
}

// Release drops the lock for key. It returns (false, nil) when this process
// does not hold the lock.
func (p *Provider) Release(key string) (bool, error) {
	if err := storage.ValidateID(key); err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.held[key]
	if !ok {
		return false, nil
	}
	delete(p.held, key)

	unlockErr := flock.Unlock(f)
	closeErr := f.Close()
	if unlockErr != nil {
		return false, fmt.Errorf("lockfile: unlock %s: %w", f.Name(), unlockErr)
	}
	if closeErr != nil {
		return false, fmt.Errorf("lockfile: close %s: %w", f.Name(), closeErr)
	}
	return true, nil
}

// ReleaseAll drops every lock held by this process. Backends call it from
// Close so a clean shutdown never leaves locks to the descriptor reaper.
func (p *Provider) ReleaseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for key, f := range p.held {
		if err := flock.Unlock(f); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("lockfile: unlock %s: %w", f.Name(), err)
		}
		f.Close()
		delete(p.held, key)
	}
	return firstErr
}

// lockName maps an arbitrary key onto a flat file name with a bounded length
// and charset. Keys are opaque and may contain path separators.
func lockName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "gamestore-" + hex.EncodeToString(sum[:8]) + ".lock"
}
