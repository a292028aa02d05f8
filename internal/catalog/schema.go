// Package catalog mirrors the run manifest into SQLite so run and file
// history can be queried without re-reading the JSON document.
package catalog

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	seq           INTEGER NOT NULL, -- position in the manifest's runs list
	started_at    TEXT NOT NULL,
	ended_at      TEXT,
	config_path   TEXT NOT NULL DEFAULT '',
	config_sha256 TEXT NOT NULL DEFAULT '',
	git_rev       TEXT,
	skip_auth     INTEGER NOT NULL DEFAULT 0,
	force         INTEGER NOT NULL DEFAULT 0,
	hash_files    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sources (
	run_id      TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	out_dir     TEXT NOT NULL DEFAULT '',
	file_count  INTEGER NOT NULL DEFAULT 0,
	params      TEXT NOT NULL DEFAULT '{}',
	recorded_at TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, name)
);

CREATE TABLE IF NOT EXISTS files (
	run_id       TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	source       TEXT NOT NULL,
	path         TEXT NOT NULL,
	bytes        INTEGER NOT NULL,
	modified_utc TEXT NOT NULL,
	sha256       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, source, path)
);

CREATE TABLE IF NOT EXISTS notes (
	run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	seq    INTEGER NOT NULL,
	at     TEXT NOT NULL,
	note   TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);
`

// DB wraps a sql.DB with catalog-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
