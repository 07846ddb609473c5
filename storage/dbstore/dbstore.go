// Package dbstore implements storage.Backend on a relational database: one
// table keyed by session id, with a single-statement atomic upsert. Two SQL
// dialects are supported (MySQL and PostgreSQL); they differ only in upsert
// syntax.
//
// The database itself is never used for locking. Mutual exclusion comes from
// a side-channel lockfile.Provider local to this host, which means
// exclusivity is host-local only; see the lockfile package.
package dbstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	// Register the drivers the two dialects resolve to.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/jacklul/gamestore/lockfile"
	"github.com/jacklul/gamestore/storage"
)

// DefaultTable is the session table name used when Config.Table is empty.
const DefaultTable = "game_sessions"

// Config contains configuration options for the relational backend.
type Config struct {
	// Dialect selects the SQL variant. Required.
	Dialect Dialect

	// DSN is the driver connection string. Ignored when DB is set.
	DSN string

	// DB is an optional connection already opened by the caller, for
	// deployments where the messaging transport owns the database handle.
	// The backend reuses it and never closes it. MySQL handles must have
	// been opened with parseTime enabled.
	DB *sql.DB

	// Table is the session table name. Default: DefaultTable.
	Table string

	// Locks is the side-channel lock provider. Default: a provider over
	// the OS temporary directory.
	Locks *lockfile.Provider
}

// Backend implements storage.Backend using database/sql.
type Backend struct {
	db      *sql.DB
	ownsDB  bool
	dialect Dialect
	queries queries
	locks   *lockfile.Provider

	mu    sync.Mutex
	ready bool
}

// New creates a relational backend. The connection is opened lazily; nothing
// hits the database until Initialize.
func New(cfg Config) (*Backend, error) {
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	q, err := buildQueries(cfg.Dialect, table)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		dialect: cfg.Dialect,
		queries: q,
		locks:   cfg.Locks,
	}
	if b.locks == nil {
		b.locks = lockfile.New("")
	}

	if cfg.DB != nil {
		b.db = cfg.DB
		return b, nil
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dbstore: either DSN or DB is required")
	}
	driver, err := cfg.Dialect.driverName()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("dbstore: open %s connection: %w", driver, err)
	}
	b.db = db
	b.ownsDB = true
	return b, nil
}

// Name implements storage.Backend.
func (b *Backend) Name() string { return string(b.dialect) }

// Initialize pings the database and creates the session table if absent.
// Safe to call repeatedly, including on a connection the transport already
// owns.
func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ready {
		return nil
	}
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("dbstore: ping: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, b.queries.schema); err != nil {
		return fmt.Errorf("dbstore: create table: %w", err)
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

	var (
		data      string
		createdAt time.Time
		updatedAt time.Time
	)
	err := b.db.QueryRowContext(ctx, b.queries.get, id).Scan(&data, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dbstore: get %q: %w", id, err)
	}
	return &storage.Session{
		ID:        id,
		Data:      []byte(data),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

// Put implements storage.Backend with a single-statement upsert that is
// atomic with respect to the primary key, independent of the lock protocol.
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
	if _, err := b.db.ExecContext(ctx, b.queries.upsert, id, string(data), now, now); err != nil {
		return fmt.Errorf("dbstore: put %q: %w", id, err)
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

	if _, err := b.db.ExecContext(ctx, b.queries.delete, id); err != nil {
		return fmt.Errorf("dbstore: delete %q: %w", id, err)
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

// List implements storage.Backend by comparing updated_at against a computed
// cutoff, ascending so the oldest sessions come first.
func (b *Backend) List(ctx context.Context, olderThan time.Duration) ([]storage.SessionInfo, error) {
	if err := b.requireReady(); err != nil {
		return nil, err
	}

	cutoff, evict := storage.Cutoff(time.Now().UTC(), olderThan)
	query := b.queries.listOlder
	if !evict {
		query = b.queries.listNewer
	}

	rows, err := b.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("dbstore: list: %w", err)
	}
	defer rows.Close()

	var infos []storage.SessionInfo
	for rows.Next() {
		var info storage.SessionInfo
		if err := rows.Scan(&info.ID, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("dbstore: list scan: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dbstore: list: %w", err)
	}
	return infos, nil
}

// Close releases held locks and, when this backend opened the connection
// itself, closes it. Transport-owned connections are left open.
func (b *Backend) Close() error {
	lockErr := b.locks.ReleaseAll()
	if b.ownsDB {
		if err := b.db.Close(); err != nil {
			return fmt.Errorf("dbstore: close: %w", err)
		}
	}
	return lockErr
}

func (b *Backend) requireReady() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return fmt.Errorf("dbstore: %w", storage.ErrNotInitialized)
	}
	return nil
}

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)
