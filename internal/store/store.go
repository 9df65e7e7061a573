// ABOUTME: SQLite-backed activity store using modernc.org/sqlite
// ABOUTME: Persists exchange records with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store persists the activity log in a SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) the activity database at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func New(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("activity store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS exchanges (
			task_id      TEXT NOT NULL,
			kind         TEXT NOT NULL,
			chat_id      INTEGER,
			prompt_chars INTEGER NOT NULL,
			reply_chars  INTEGER NOT NULL,
			outcome      TEXT NOT NULL,
			error        TEXT,
			elapsed_ms   INTEGER NOT NULL,
			created_at   TEXT NOT NULL,

			CHECK (kind IN ('chat-reply', 'heartbeat')),
			CHECK (outcome IN ('ok', 'error', 'timeout', 'busy'))
		);

		CREATE INDEX IF NOT EXISTS idx_exchanges_created ON exchanges(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_exchanges_kind ON exchanges(kind);
		CREATE INDEX IF NOT EXISTS idx_exchanges_task ON exchanges(task_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
