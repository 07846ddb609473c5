// Package gamestore selects and wires the storage backend that persists
// game-session state. Exactly one backend is chosen per process; callers
// hold the returned storage.Backend for the process lifetime and inject it
// into sessions.Manager and sessions.Reaper, keeping the dependency explicit
// instead of hiding it in package-level state.
package gamestore

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"github.com/jacklul/gamestore/lockfile"
	"github.com/jacklul/gamestore/storage"
	"github.com/jacklul/gamestore/storage/dbstore"
	"github.com/jacklul/gamestore/storage/docstore"
	"github.com/jacklul/gamestore/storage/filestore"
	"github.com/jacklul/gamestore/storage/redisstore"
)

// Recognized driver names for Config.Driver and connection-URL schemes.
const (
	DriverFile     = "file"
	DriverMySQL    = "mysql"
	DriverPostgres = "pgsql"
	DriverRedis    = "redis"
	DriverSupabase = "supabase"
)

// ConfigError reports a fatal selection failure: nothing resolvable, or a
// connection URL with an unsupported scheme. It is never downgraded to a
// fallback backend; no session can be persisted without a valid selection.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "gamestore: " + e.Reason
}

// Select picks exactly one backend from cfg. Precedence:
//
//  1. cfg.Driver, the forced override (primarily for testing)
//  2. cfg.DB, a relational connection the transport already owns
//  3. cfg.DatabaseURL, backend chosen by its scheme
//  4. cfg.DataDir, the file backend
//
// Anything else is a *ConfigError, which callers must treat as fatal.
func Select(cfg Config) (storage.Backend, error) {
	driver := cfg.Driver
	if driver == "" {
		switch {
		case cfg.DB != nil:
			// The transport library in front of this storage core
			// speaks MySQL; a shared handle implies that dialect.
			driver = DriverMySQL
		case cfg.DatabaseURL != "":
			scheme, err := schemeDriver(cfg.DatabaseURL)
			if err != nil {
				return nil, err
			}
			driver = scheme
		case cfg.DataDir != "":
			driver = DriverFile
		default:
			return nil, &ConfigError{Reason: "no storage backend resolvable: set a driver, connection URL, or data directory"}
		}
	}

	locks := lockfile.New(cfg.LockDir)

	switch driver {
	case DriverFile:
		if cfg.DataDir == "" {
			return nil, &ConfigError{Reason: "file driver requires a data directory"}
		}
		return filestore.New(filestore.Config{Dir: cfg.DataDir})

	case DriverMySQL:
		if cfg.DB != nil {
			return dbstore.New(dbstore.Config{Dialect: dbstore.DialectMySQL, DB: cfg.DB, Locks: locks})
		}
		dsn, err := mysqlDSN(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return dbstore.New(dbstore.Config{Dialect: dbstore.DialectMySQL, DSN: dsn, Locks: locks})

	case DriverPostgres:
		dsn, err := postgresDSN(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return dbstore.New(dbstore.Config{Dialect: dbstore.DialectPostgres, DSN: dsn, Locks: locks})

	case DriverRedis:
		opts, err := redis.ParseURL(cfg.DatabaseURL)
		if err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("invalid redis URL: %v", err)}
		}
		return redisstore.New(redisstore.Config{
			Client: redis.NewClient(opts),
			TTL:    cfg.CacheTTL,
			Locks:  locks,
		})

	case DriverSupabase:
		projectURL, err := supabaseURL(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.SupabaseKey == "" {
			return nil, &ConfigError{Reason: "supabase driver requires an API key"}
		}
		return docstore.New(docstore.Config{URL: projectURL, APIKey: cfg.SupabaseKey, Locks: locks})

	default:
		return nil, &ConfigError{Reason: fmt.Sprintf("unsupported storage driver %q", driver)}
	}
}

// schemeDriver maps a connection-URL scheme onto a driver name.
func schemeDriver(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &ConfigError{Reason: fmt.Sprintf("invalid connection URL: %v", err)}
	}
	switch strings.ToLower(u.Scheme) {
	case "mysql":
		return DriverMySQL, nil
	case "pgsql", "postgres", "postgresql":
		return DriverPostgres, nil
	case "redis", "rediss":
		return DriverRedis, nil
	case "supabase":
		return DriverSupabase, nil
	default:
		return "", &ConfigError{Reason: fmt.Sprintf("unsupported connection URL scheme %q", u.Scheme)}
	}
}

// mysqlDSN rewrites a mysql:// URL into the driver's DSN form, with time
// parsing enabled so timestamp columns scan into time.Time.
func mysqlDSN(rawURL string) (string, error) {
	if rawURL == "" {
		return "", &ConfigError{Reason: "mysql driver requires a connection URL"}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &ConfigError{Reason: fmt.Sprintf("invalid mysql URL: %v", err)}
	}

	mc := mysql.NewConfig()
	mc.User = u.User.Username()
	mc.Passwd, _ = u.User.Password()
	mc.Net = "tcp"
	mc.Addr = u.Host
	mc.DBName = strings.TrimPrefix(u.Path, "/")
	mc.ParseTime = true
	return mc.FormatDSN(), nil
}

// postgresDSN normalizes the URL scheme variants lib/pq does not recognize.
func postgresDSN(rawURL string) (string, error) {
	if rawURL == "" {
		return "", &ConfigError{Reason: "pgsql driver requires a connection URL"}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &ConfigError{Reason: fmt.Sprintf("invalid postgres URL: %v", err)}
	}
	switch strings.ToLower(u.Scheme) {
	case "pgsql", "postgresql":
		u.Scheme = "postgres"
	}
	return u.String(), nil
}

// supabaseURL turns a supabase:// connection URL into the project's HTTPS
// endpoint; plain https URLs pass through.
func supabaseURL(rawURL string) (string, error) {
	if rawURL == "" {
		return "", &ConfigError{Reason: "supabase driver requires a connection URL"}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &ConfigError{Reason: fmt.Sprintf("invalid supabase URL: %v", err)}
	}
	if strings.EqualFold(u.Scheme, "supabase") {
		u.Scheme = "https"
	}
	return u.String(), nil
}
