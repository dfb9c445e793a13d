// Package cache provides the SQLite-backed derived index over the plan
// log (§4.2 Ticket Cache).
package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SchemaVersion must bump whenever a migration changes the derived
// schema in a way that invalidates existing cache files (§4.2, §6.2).
const SchemaVersion = 1

// DefaultPath is the cache database's default location relative to repo
// root (§6.2). It is never tracked in git.
const DefaultPath = ".tix/cache.db"

// DB wraps the underlying SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates (if absent) and migrates the cache database at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cache: mkdir: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("cache: wal: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("cache: foreign_keys: %w", err)
	}

	d := &DB{conn: conn, path: path}
	if err := d.migrate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.conn.Close() }

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Exec, Query and QueryRow proxy to the underlying *sql.DB for callers in
// this package's sibling files.
func (d *DB) Exec(query string, args ...any) (sql.Result, error) { return d.conn.Exec(query, args...) }
func (d *DB) Query(query string, args ...any) (*sql.Rows, error) { return d.conn.Query(query, args...) }
func (d *DB) QueryRow(query string, args ...any) *sql.Row        { return d.conn.QueryRow(query, args...) }
func (d *DB) Begin() (*sql.Tx, error)                             { return d.conn.Begin() }

type migration struct {
	version int
	sql     string
}

// migrate applies every not-yet-applied migration in order, tracked via
// a schema_migrations table, following the reference engine's own
// numbered-migration-constant idiom.
func (d *DB) migrate() error {
	if _, err := d.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("cache: schema_migrations: %w", err)
	}

	var current int
	row := d.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("cache: read schema version: %w", err)
	}

	migrations := []migration{
		{1, migration1},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := d.conn.Exec(m.sql); err != nil {
			return fmt.Errorf("cache: migration %d: %w", m.version, err)
		}
		if _, err := d.conn.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("cache: record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// migration1 creates the full §6.2 table set in one pass — the cache
// has a single schema generation so far, unlike the reference engine's
// many incremental migrations, because it is a from-scratch derived
// index rather than an evolving product schema.
const migration1 = `
CREATE TABLE IF NOT EXISTS tickets (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	status INTEGER NOT NULL DEFAULT 0,
	name TEXT NOT NULL DEFAULT '',
	spec TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	accept TEXT NOT NULL DEFAULT '',
	priority INTEGER NOT NULL DEFAULT 0,
	parent TEXT NOT NULL DEFAULT '',
	created_from TEXT NOT NULL DEFAULT '',
	supersedes TEXT NOT NULL DEFAULT '',
	supersedes_reason TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	completed_at INTEGER NOT NULL DEFAULT 0,
	done_at TEXT NOT NULL DEFAULT '',
	branch TEXT NOT NULL DEFAULT '',
	kill_reason TEXT NOT NULL DEFAULT '',
	kill_log TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL DEFAULT 0,
	resolved_at INTEGER NOT NULL DEFAULT 0,
	compacted_at INTEGER NOT NULL DEFAULT 0,
	created_from_name TEXT NOT NULL DEFAULT '',
	supersedes_name TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
CREATE INDEX IF NOT EXISTS idx_tickets_type ON tickets(type);
CREATE INDEX IF NOT EXISTS idx_tickets_parent ON tickets(parent);

CREATE TABLE IF NOT EXISTS tombstones (
	id TEXT NOT NULL,
	done_at TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	is_accept INTEGER NOT NULL,
	timestamp INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (id, done_at)
);

CREATE TABLE IF NOT EXISTS ticket_deps (
	ticket_id TEXT NOT NULL,
	dep_id TEXT NOT NULL,
	ordinal INTEGER NOT NULL,
	PRIMARY KEY (ticket_id, dep_id)
);
CREATE INDEX IF NOT EXISTS idx_ticket_deps_ticket ON ticket_deps(ticket_id);

CREATE TABLE IF NOT EXISTS ticket_labels (
	ticket_id TEXT NOT NULL,
	label TEXT NOT NULL,
	ordinal INTEGER NOT NULL,
	PRIMARY KEY (ticket_id, label)
);
CREATE INDEX IF NOT EXISTS idx_ticket_labels_label ON ticket_labels(label);

CREATE TABLE IF NOT EXISTS ticket_meta (
	ticket_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value_num REAL,
	value_text TEXT,
	PRIMARY KEY (ticket_id, key)
);
CREATE INDEX IF NOT EXISTS idx_ticket_meta_key ON ticket_meta(key);

CREATE TABLE IF NOT EXISTS cache_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
