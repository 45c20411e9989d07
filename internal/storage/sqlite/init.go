package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	policy_id TEXT NOT NULL,
	work_dir TEXT,
	requested INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	stop_reason TEXT,
	attempted INTEGER NOT NULL DEFAULT 0,
	succeeded INTEGER NOT NULL DEFAULT 0,
	duplicates INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS runs_policy_started ON runs (policy_id, started_at);

CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs (id),
	asset_id TEXT NOT NULL,
	content_id TEXT,
	file_path TEXT,
	outcome TEXT NOT NULL,
	reason TEXT,
	bytes INTEGER NOT NULL DEFAULT 0,
	recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS records_run ON records (run_id);
`

// InitDB opens the ledger database at path and creates its tables if needed.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}

	// Workers append concurrently; a single connection serializes writers instead of
	// surfacing SQLITE_BUSY. It also keeps one shared database for ":memory:".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}

	return db, nil
}
