package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection
type DB struct {
	*sql.DB
}

// New creates a new SQLite database connection
func New(dataSourceName string) (*DB, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

// RunMigrations creates the schema. It is safe to run on every start.
func (db *DB) RunMigrations() error {
	migration := `
-- Activity log
CREATE TABLE IF NOT EXISTS activity_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    user_id TEXT,
    operation_id TEXT,
    activity_type TEXT NOT NULL,
    summary TEXT NOT NULL,
    details TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_session_activity ON activity_log(session_id);
CREATE INDEX IF NOT EXISTS idx_user_activity ON activity_log(user_id);
CREATE INDEX IF NOT EXISTS idx_created_at ON activity_log(created_at);

-- Latest export of each session, without its operation log
CREATE TABLE IF NOT EXISTS session_archives (
    session_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    active INTEGER NOT NULL,
    operations INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    last_activity TIMESTAMP NOT NULL,
    exported_at TIMESTAMP NOT NULL,
    document TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_owner_archives ON session_archives(owner_id);

-- Archived operation log, append-only per session
CREATE TABLE IF NOT EXISTS archived_operations (
    session_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    user_name TEXT NOT NULL,
    type TEXT NOT NULL,
    target_id TEXT NOT NULL,
    data TEXT NOT NULL,
    timestamp REAL NOT NULL,
    applied INTEGER NOT NULL,
    conflicts TEXT NOT NULL,
    PRIMARY KEY (session_id, seq),
    FOREIGN KEY (session_id) REFERENCES session_archives(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_archived_operation_target ON archived_operations(session_id, target_id);
`

	_, err := db.Exec(migration)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
