// Package store provides SQLite-backed persistence for Chorus.
// It holds the durable side of the orchestrator: registered agents,
// requests and their tasks, conversation history, and the business
// records produced by agent actions. Everything lives in a single
// database file under the state directory (.chorus/chorus.db).
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection with Chorus-specific operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the path to the database under the given state
// directory (typically .chorus in the working directory).
func DefaultDBPath(stateDir string) string {
	return filepath.Join(stateDir, "chorus.db")
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Agents},
		{2, migrationV2Requests},
		{3, migrationV3Records},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1Agents = `
CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	capabilities TEXT NOT NULL DEFAULT '[]',
	state TEXT NOT NULL DEFAULT 'inactive',
	config TEXT NOT NULL DEFAULT '{}',
	seq INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	last_activity DATETIME
);

CREATE INDEX IF NOT EXISTS idx_agents_type ON agents(type);
CREATE INDEX IF NOT EXISTS idx_agents_state ON agents(state);
`

const migrationV2Requests = `
CREATE TABLE IF NOT EXISTS requests (
	id TEXT PRIMARY KEY,
	goal TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT 'in_progress',
	context TEXT NOT NULL DEFAULT '{}',
	constraints TEXT NOT NULL DEFAULT '{}',
	task_ids TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	agent_id TEXT,
	capability TEXT NOT NULL,
	input TEXT NOT NULL DEFAULT '{}',
	output TEXT,
	state TEXT NOT NULL DEFAULT 'pending',
	depends_on TEXT NOT NULL DEFAULT '[]',
	retry_count INTEGER NOT NULL DEFAULT 0,
	err_kind TEXT,
	err_detail TEXT,
	created_at DATETIME NOT NULL,
	started_at DATETIME,
	finished_at DATETIME,
	FOREIGN KEY (request_id) REFERENCES requests(id)
);

CREATE INDEX IF NOT EXISTS idx_tasks_request_id ON tasks(request_id);
CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
CREATE INDEX IF NOT EXISTS idx_requests_state ON requests(state);
`

const migrationV3Records = `
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	data TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	user TEXT NOT NULL,
	request_id TEXT,
	message TEXT NOT NULL,
	reply TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// formatNullableTime formats a possibly-zero time for SQLite storage.
func formatNullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, _ := parseTime(s.String)
	return t
}

// marshalJSON encodes a value as JSON for a TEXT column. Nil maps and
// slices are stored as empty containers so columns never hold "null".
func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal json column: %w", err)
	}
	s := string(b)
	if s == "null" {
		s = "{}"
	}
	return s, nil
}

// marshalJSONList is marshalJSON for slice-valued columns.
func marshalJSONList(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal json column: %w", err)
	}
	s := string(b)
	if s == "null" {
		s = "[]"
	}
	return s, nil
}
