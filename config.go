package gamestore

import (
	"database/sql"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config describes how to reach the storage backend. It is constructed once
// at process start — usually via FromEnv — and handed to Select.
type Config struct {
	// Driver forces a specific backend, bypassing URL detection. ENV: STORAGE_DRIVER
	Driver string `env:"STORAGE_DRIVER"`

	// DatabaseURL is a connection URL whose scheme picks the backend:
	// mysql, pgsql/postgres/postgresql, redis/rediss, supabase. ENV: DATABASE_URL
	DatabaseURL string `env:"DATABASE_URL"`

	// DataDir is the base directory for the file backend. ENV: STORAGE_DIR
	DataDir string `env:"STORAGE_DIR"`

	// LockDir holds the side-channel lock files for backends without
	// native locking. Empty means the OS temporary directory. ENV: STORAGE_LOCK_DIR
	LockDir string `env:"STORAGE_LOCK_DIR"`

	// SupabaseKey authenticates the document backend. ENV: SUPABASE_KEY
	SupabaseKey string `env:"SUPABASE_KEY"`

	// CacheTTL, when positive, lets the cache backend expire sessions on
	// its own. ENV: STORAGE_CACHE_TTL
	CacheTTL time.Duration `env:"STORAGE_CACHE_TTL"`

	// DB is a relational connection already opened by the messaging
	// transport, reused instead of opening a second one. Not settable
	// from the environment.
	DB *sql.DB
}

// FromEnv builds a Config from the process environment. Every field is
// optional at this stage; Select decides whether the combination resolves to
// a backend.
func FromEnv() Config {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return cfg
}
