// Package db handles database operations for Roundup
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store manages database operations
type Store struct {
	DB *sql.DB
}

// Open opens a SQLite database at the given path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Set busy timeout to handle lock contention gracefully
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.DB.Close()
}

// InitSchema creates the database schema
func (s *Store) InitSchema() error {
	schema := `
	-- Projects mirror tracked board projects
	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_gid TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		workspace_ref TEXT,
		portfolio_ref TEXT,
		last_synced_at INTEGER NOT NULL DEFAULT 0
	);

	-- Tasks mirror board tasks plus swarm-local routing fields
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_gid TEXT NOT NULL,
		project_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		notes TEXT,
		completed INTEGER NOT NULL DEFAULT 0,
		assignee_ref TEXT,
		current_agent TEXT,
		current_section TEXT,
		session_id TEXT,
		accumulated_cost REAL NOT NULL DEFAULT 0,
		max_cost REAL NOT NULL DEFAULT 0,
		due_on INTEGER,
		user_priority TEXT NOT NULL DEFAULT '',
		blocked INTEGER NOT NULL DEFAULT 0,
		blocking INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (project_id, external_gid),
		FOREIGN KEY (project_id) REFERENCES projects(id)
	);

	-- Work queue binds agent types to target entities
	CREATE TABLE IF NOT EXISTS work_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		assigned_to_agent_id TEXT,
		assigned_at INTEGER,
		completed_at INTEGER,
		payload TEXT,
		created_at INTEGER NOT NULL
	);

	-- One row per live worker process
	CREATE TABLE IF NOT EXISTS agents (
		agent_id TEXT PRIMARY KEY,
		agent_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'idle',
		current_work_item_id INTEGER,
		last_heartbeat_at INTEGER NOT NULL,
		started_at INTEGER NOT NULL
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
	CREATE INDEX IF NOT EXISTS idx_queue_status ON work_queue(status);
	CREATE INDEX IF NOT EXISTS idx_queue_priority ON work_queue(priority DESC, created_at ASC);
	CREATE INDEX IF NOT EXISTS idx_queue_resource ON work_queue(resource_id, agent_type);
	CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);
	`

	_, err := s.DB.Exec(schema)
	return err
}
