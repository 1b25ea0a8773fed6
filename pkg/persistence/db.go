// Package persistence provides SQLite-backed storage for workflow runs,
// stage transitions, gate results, and escalations.
package persistence

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"conductor/pkg/logx"
)

// Store wraps the run database and exposes typed operations on it.
// It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	path   string
	logger *logx.Logger
}

// Open opens (or creates) the run database at dbPath and applies any
// pending schema migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", dbPath, err)
	}

	// SQLite allows one writer at a time. A single pooled connection keeps
	// concurrent stage updates from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logx.Infof("📦 Run database initialized: %s", dbPath)

	return &Store{
		db:     db,
		path:   dbPath,
		logger: logx.NewLogger("persistence"),
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Debug("Closing run database: %s", s.path)
	return s.db.Close()
}

// Path returns the database file the store was opened with.
func (s *Store) Path() string {
	return s.path
}
