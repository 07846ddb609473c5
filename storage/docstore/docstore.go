// Package docstore implements storage.Backend on a cloud document store
// reached over Supabase PostgREST: one document per session, keyed by the
// session id.
//
// Put is a lookup followed by an insert or an update — two round trips that
// are not themselves exclusive. Safety depends entirely on the per-id lock
// wrapping the whole get-modify-put flow, which here is a side-channel
// lockfile.Provider local to this host.
package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/jacklul/gamestore/lockfile"
	"github.com/jacklul/gamestore/storage"
)

// DefaultTable is the document collection used when Config.Table is empty.
const DefaultTable = "game_sessions"

// Config contains configuration options for the document backend.
type Config struct {
	// URL is the Supabase project URL. Required.
	URL string

	// APIKey is the Supabase service or anon key. Required.
	APIKey string

	// Table is the document collection name. Default: DefaultTable.
	Table string

	// Locks is the side-channel lock provider. Default: a provider over
	// the OS temporary directory.
	Locks *lockfile.Provider
}

// Backend implements storage.Backend using a PostgREST document table.
type Backend struct {
	client *supabase.Client
	table  string
	locks  *lockfile.Provider

	mu    sync.Mutex
	ready bool
}

// document is the wire shape of one stored session.
type document struct {
	ID        string    `json:"id"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a document backend for the given Supabase project.
func New(cfg Config) (*Backend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("docstore: supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("docstore: supabase API key is required")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("docstore: create client: %w", err)
	}

	b := &Backend{
		client: client,
		table:  cfg.Table,
		locks:  cfg.Locks,
	}
	if b.locks == nil {
		b.locks = lockfile.New("")
	}
	return b, nil
}

// Name implements storage.Backend.
func (b *Backend) Name() string { return "supabase" }

// Initialize probes the document table with a minimal query. Safe to call
// repeatedly.
func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ready {
		return nil
	}
	var probe []document
	if _, err := b.client.From(b.table).
		Select("id", "", false).
		Limit(1, "").
		ExecuteTo(&probe); err != nil {
		return fmt.Errorf("docstore: probe %s: %w", b.table, err)
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

	var docs []document
	if _, err := b.client.From(b.table).
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&docs); err != nil {
		return nil, fmt.Errorf("docstore: get %q: %w", id, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	doc := docs[0]
	return &storage.Session{
		ID:        doc.ID,
		Data:      []byte(doc.Data),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

// Put implements storage.Backend as lookup-then-insert-or-update. The two
// round trips are not exclusive on their own; callers hold the per-id lock.
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

	existing, err := b.Get(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if existing == nil {
		doc := document{ID: id, Data: string(data), CreatedAt: now, UpdatedAt: now}
		if _, _, err := b.client.From(b.table).
			Insert(doc, false, "", "", "").
			Execute(); err != nil {
			return fmt.Errorf("docstore: insert %q: %w", id, err)
		}
		return nil
	}

	patch := map[string]any{
		"data":       string(data),
		"updated_at": now,
	}
	if _, _, err := b.client.From(b.table).
		Update(patch, "", "").
		Eq("id", id).
		Execute(); err != nil {
		return fmt.Errorf("docstore: update %q: %w", id, err)
	}
	return nil
}

// Delete implements storage.Backend. Deleting an absent document matches
// zero rows on the server side, which PostgREST treats as success.
func (b *Backend) Delete(ctx context.Context, id string) error {
	if err := storage.ValidateID(id); err != nil {
		return err
	}
	if err := b.requireReady(); err != nil {
		return err
	}

	if _, _, err := b.client.From(b.table).
		Delete("", "").
		Eq("id", id).
		Execute(); err != nil {
		return fmt.Errorf("docstore: delete %q: %w", id, err)
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

// List implements storage.Backend as a range query on the stored update
// timestamp, ascending so the oldest sessions come first.
func (b *Backend) List(ctx context.Context, olderThan time.Duration) ([]storage.SessionInfo, error) {
	if err := b.requireReady(); err != nil {
		return nil, err
	}

	cutoff, evict := storage.Cutoff(time.Now().UTC(), olderThan)

	query := b.client.From(b.table).Select("id,updated_at", "", false)
	if evict {
		query = query.Lte("updated_at", cutoff.Format(time.RFC3339Nano))
	} else {
		query = query.Gt("updated_at", cutoff.Format(time.RFC3339Nano))
	}

	var docs []document
	if _, err := query.
		Order("updated_at", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&docs); err != nil {
		return nil, fmt.Errorf("docstore: list: %w", err)
	}

	infos := make([]storage.SessionInfo, 0, len(docs))
	for _, doc := range docs {
		infos = append(infos, storage.SessionInfo{ID: doc.ID, UpdatedAt: doc.UpdatedAt})
	}
	return infos, nil
}

// Close releases held locks. The PostgREST client itself is stateless.
func (b *Backend) Close() error {
	return b.locks.ReleaseAll()
}

func (b *Backend) requireReady() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return fmt.Errorf("docstore: %w", storage.ErrNotInitialized)
	}
	return nil
}

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)
