// Package sqlite provides the SQLite-backed chat repository.
package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agentstudio/studio/internal/chat/repository"
	commonsqlite "github.com/agentstudio/studio/internal/common/sqlite"
)

// Repository provides SQLite-based chat storage operations.
type Repository struct {
	db *sqlx.DB
}

var _ repository.Repository = (*Repository)(nil)

// New opens (creating if needed) the database at dbPath and initializes
// the schema.
func New(dbPath string) (*Repository, error) {
	normalized := normalizePath(dbPath)
	if err := ensureDir(normalized); err != nil {
		return nil, fmt.Errorf("failed to prepare database path: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_mode=rwc", normalized)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &Repository{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

func normalizePath(dbPath string) string {
	if dbPath == "" || dbPath == ":memory:" {
		return dbPath
	}
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return dbPath
	}
	return abs
}

func ensureDir(dbPath string) error {
	if dbPath == "" || dbPath == ":memory:" {
		return nil
	}
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// initSchema creates the database tables if they don't exist.
func (r *Repository) initSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		content TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS agent_sessions (
		id TEXT PRIMARY KEY,
		reply_id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'starting',
		pid INTEGER DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		error_message TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS coordinator_plans (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL UNIQUE,
		objective TEXT NOT NULL DEFAULT '',
		plan TEXT NOT NULL DEFAULT '{}',
		active_phase INTEGER,
		completed_phases TEXT NOT NULL DEFAULT '[]',
		phase_outputs TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'running',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON conversations(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_agent_sessions_conversation_id ON agent_sessions(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_agent_sessions_status ON agent_sessions(status);
	`)
	if err != nil {
		return err
	}
	return r.migrate()
}

// migrate applies additive schema changes for databases created by
// earlier builds.
func (r *Repository) migrate() error {
	return commonsqlite.EnsureColumn(r.db.DB, "agent_sessions", "exit_code", "INTEGER")
}
