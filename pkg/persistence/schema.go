package persistence

import (
	"database/sql"
	"errors"
	"fmt"

	"conductor/pkg/workflow"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 1

// initializeSchemaWithMigrations ensures the database schema is at the current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	// A fresh database gets the full schema at the current version.
	if currentVersion == 0 {
		return createSchema(db)
	}

	if currentVersion == CurrentSchemaVersion {
		return nil
	}

	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

// runMigrations applies database migrations from current version to target version.
func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}

		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

// runMigration applies a specific version migration. Schema changes after
// version 1 add their upgrade steps here.
func runMigration(_ *sql.DB, version int) error {
	switch version {
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// statusCheckClause renders the run status CHECK constraint from the
// canonical status list so the schema cannot drift from the state machine.
func statusCheckClause() string {
	clause := ""
	for i, status := range workflow.ValidStatuses() {
		if i > 0 {
			clause += ","
		}
		clause += "'" + string(status) + "'"
	}
	return clause
}

// createSchema creates all required tables and indices.
func createSchema(db *sql.DB) error {
	// Enable WAL mode and foreign keys
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	tables := []string{
		// Schema version tracking
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// One row per workflow run, upserted on every status change.
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN (` + statusCheckClause() + `)),
			stage TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Append-only status transition history.
		`CREATE TABLE IF NOT EXISTS stage_transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			stage TEXT,
			reason TEXT,
			gate TEXT,
			category TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// One row per gate attempt, cached replays included.
		`CREATE TABLE IF NOT EXISTS gate_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
			stage TEXT NOT NULL,
			gate TEXT NOT NULL,
			category TEXT,
			strategy TEXT,
			passed INTEGER NOT NULL CHECK (passed IN (0, 1)),
			cached INTEGER NOT NULL CHECK (cached IN (0, 1)),
			diagnostics TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Escalations awaiting (or acknowledged by) an operator.
		`CREATE TABLE IF NOT EXISTS escalations (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
			workflow TEXT NOT NULL,
			stage TEXT NOT NULL,
			gate TEXT,
			category TEXT,
			reason TEXT,
			acknowledged INTEGER NOT NULL DEFAULT 0 CHECK (acknowledged IN (0, 1)),
			acknowledged_by TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			acknowledged_at DATETIME
		)`,
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_runs_workflow ON workflow_runs(workflow)",
		"CREATE INDEX IF NOT EXISTS idx_runs_status ON workflow_runs(status)",
		"CREATE INDEX IF NOT EXISTS idx_transitions_run ON stage_transitions(run_id)",
		"CREATE INDEX IF NOT EXISTS idx_gate_results_run ON gate_results(run_id)",
		"CREATE INDEX IF NOT EXISTS idx_gate_results_gate ON gate_results(gate)",
		"CREATE INDEX IF NOT EXISTS idx_escalations_run ON escalations(run_id)",
		"CREATE INDEX IF NOT EXISTS idx_escalations_pending ON escalations(acknowledged)",
	}

	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, ddl := range indices {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := setSchemaVersion(db, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	return nil
}

// setSchemaVersion records the current schema version.
func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO schema_version (version) VALUES (?)
	`, version)
	if err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	// First ensure the schema_version table exists
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil // No version set yet
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}
