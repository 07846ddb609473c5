package dbstore

import "fmt"

// Dialect selects the SQL variant. The two variants differ only in
// placeholder style and upsert syntax.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "pgsql"
)

// driverName maps a dialect onto its registered database/sql driver.
func (d Dialect) driverName() (string, error) {
	switch d {
	case DialectMySQL:
		return "mysql", nil
	case DialectPostgres:
		return "postgres", nil
	default:
		return "", fmt.Errorf("dbstore: unknown dialect %q", string(d))
	}
}

// queries holds the per-dialect SQL for one table.
type queries struct {
	schema    string
	upsert    string
	get       string
	delete    string
	listOlder string
	listNewer string
}

func buildQueries(d Dialect, table string) (queries, error) {
	switch d {
	case DialectMySQL:
		return queries{
			schema: fmt.Sprintf(
				`CREATE TABLE IF NOT EXISTS %s (
					id VARCHAR(191) NOT NULL,
					data MEDIUMTEXT NOT NULL,
					created_at TIMESTAMP NULL DEFAULT NULL,
					updated_at TIMESTAMP NULL DEFAULT NULL,
					PRIMARY KEY (id)
				)`, table),
			// Single-statement insert-or-update keyed on the primary
			// key; created_at is only written on first insert.
			upsert: fmt.Sprintf(
				`INSERT INTO %s (id, data, created_at, updated_at)
				VALUES (?, ?, ?, ?)
				ON DUPLICATE KEY UPDATE data = VALUES(data), updated_at = VALUES(updated_at)`, table),
			get:       fmt.Sprintf(`SELECT data, created_at, updated_at FROM %s WHERE id = ?`, table),
			delete:    fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table),
			listOlder: fmt.Sprintf(`SELECT id, updated_at FROM %s WHERE updated_at <= ? ORDER BY updated_at ASC`, table),
			listNewer: fmt.Sprintf(`SELECT id, updated_at FROM %s WHERE updated_at > ? ORDER BY updated_at ASC`, table),
		}, nil
	case DialectPostgres:
		return queries{
			schema: fmt.Sprintf(
				`CREATE TABLE IF NOT EXISTS %s (
					id VARCHAR(191) PRIMARY KEY,
					data TEXT NOT NULL,
					created_at TIMESTAMPTZ,
					updated_at TIMESTAMPTZ
				)`, table),
			upsert: fmt.Sprintf(
				`INSERT INTO %s (id, data, created_at, updated_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`, table),
			get:       fmt.Sprintf(`SELECT data, created_at, updated_at FROM %s WHERE id = $1`, table),
			delete:    fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table),
			listOlder: fmt.Sprintf(`SELECT id, updated_at FROM %s WHERE updated_at <= $1 ORDER BY updated_at ASC`, table),
			listNewer: fmt.Sprintf(`SELECT id, updated_at FROM %s WHERE updated_at > $1 ORDER BY updated_at ASC`, table),
		}, nil
	default:
		return queries{}, fmt.Errorf("dbstore: unknown dialect %q", string(d))
	}
}
