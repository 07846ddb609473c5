// Package redisstore implements storage.Backend on a shared key-value cache
// using Redis. Sessions are stored as JSON-packed entries keyed by a hash of
// the session id, which bounds key length and charset regardless of what the
// caller uses as ids.
//
// The cache protocol has no locking primitive, so mutual exclusion comes
// from a side-channel lockfile.Provider local to this host. Age-based
// listing is not supported either: List always returns an empty result, and
// stale entries are left to the cache's own expiry when a TTL is configured.
package redisstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jacklul/gamestore/lockfile"
	"github.com/jacklul/gamestore/storage"
)

// Config contains configuration options for the cache backend.
type Config struct {
	// Client is the Redis client instance. Required.
	Client *redis.Client

	// KeyPrefix is the prefix for all cache keys.
	// Default: "gamestore:session:"
	KeyPrefix string

	// TTL, when positive, is applied on every write so the cache expires
	// sessions on its own. Zero means entries never expire.
	TTL time.Duration

	// Locks is the side-channel lock provider. Default: a provider over
	// the OS temporary directory.
	Locks *lockfile.Provider
}

// Backend implements storage.Backend using Redis.
type Backend struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	locks     *lockfile.Provider

	mu    sync.Mutex
	ready bool
}

// storedSession is the JSON shape packed into each cache entry.
type storedSession struct {
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a cache backend over an existing Redis client.
func New(cfg Config) (*Backend, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "gamestore:session:"
	}
	b := &Backend{
		client:    cfg.Client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
		locks:     cfg.Locks,
	}
	if b.locks == nil {
		b.locks = lockfile.New("")
	}
	return b, nil
}

// Name implements storage.Backend.
func (b *Backend) Name() string { return "redis" }

// Initialize pings the cache. Safe to call repeatedly.
func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ready {
		return nil
	}
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisstore: ping: %w", err)
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

	val, err := b.client.Get(ctx, b.key(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get %q: %w", id, err)
	}

	var stored storedSession
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		return nil, fmt.Errorf("redisstore: decode %q: %w", id, err)
	}
	return &storage.Session{
		ID:        id,
		Data:      stored.Data,
		CreatedAt: stored.CreatedAt,
		UpdatedAt: stored.UpdatedAt,
	}, nil
}

// Put implements storage.Backend. The existing entry is read first to carry
// created_at forward; the read-modify-write is safe because callers hold the
// per-id lock around the whole flow.
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
		return fmt.Errorf("redisstore: encode %q: %w", id, err)
	}
	if err := b.client.Set(ctx, b.key(id), raw, b.ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: put %q: %w", id, err)
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

	if err := b.client.Del(ctx, b.key(id)).Err(); err != nil {
		return fmt.Errorf("redisstore: delete %q: %w", id, err)
	}
	return nil
}

// Lock implements storage.Backend via the side-channel lock provider.
func (b *Backend) Lock(ctx context.Context, id string) (bool, error) {
	return b.locks.Acquire(id)
}

// Unlock implements storage.Backend via the side-channel lock provider.
func (b *Backend) Unlock(ctx context.Context, id string) (bool, error) {
	return b.locks.Release(id)
}

// List implements storage.Backend. The cache has no age index, so listing is
// unsupported and reports no sessions rather than an error; reaping this
// backend relies on TTL expiry instead.
func (b *Backend) List(ctx context.Context, olderThan time.Duration) ([]storage.SessionInfo, error) {
	return nil, nil
}

// Close releases held locks and closes the Redis client.
func (b *Backend) Close() error {
	lockErr := b.locks.ReleaseAll()
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("redisstore: close: %w", err)
	}
	return lockErr
}

func (b *Backend) requireReady() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return fmt.Errorf("redisstore: %w", storage.ErrNotInitialized)
	}
	return nil
}

// key hashes the opaque session id into a bounded, cache-safe key.
func (b *Backend) key(id string) string {
	sum := sha256.Sum256([]byte(id))
	return b.keyPrefix + hex.EncodeToString(sum[:])
}

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)
