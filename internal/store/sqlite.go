package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// Store is the SQLite-backed lookup history.
type Store struct {
	db *sql.DB
}

// NewStore creates a new SQLite store instance
func NewStore(dbPath string) (*Store, error) {
	// Ensure target directory exists (e.g., ./data)
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open(sqliteDriver, dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; also keeps a :memory: database on a single connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS batches (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			event_id TEXT,
			base_url TEXT NOT NULL,
			observable_count INTEGER NOT NULL,
			hits INTEGER NOT NULL DEFAULT 0,
			misses INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			errors INTEGER NOT NULL DEFAULT 0,
			failure_kind TEXT,
			failure_detail TEXT,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS batch_results (
			batch_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			kind TEXT NOT NULL,
			value TEXT NOT NULL,
			outcome TEXT NOT NULL,
			detail TEXT,
			PRIMARY KEY (batch_id, position),
			FOREIGN KEY (batch_id) REFERENCES batches(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_batches_started_at ON batches(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_source ON batches(source)`,
		`CREATE INDEX IF NOT EXISTS idx_batch_results_value ON batch_results(value)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}
