package store

import (
	"fmt"
)

// migrate runs all pending migrations
func (s *Store) migrate() error {
	// Create migrations table if it doesn't exist
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get the current schema version
	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	s.logger.Debug("Current schema version", "version", currentVersion)

	// Define all migrations
	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE update_runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					changeset_name TEXT,
					initial_build TEXT,
					final_build TEXT,
					game_directory TEXT NOT NULL,
					update_directory TEXT,
					start_time DATETIME NOT NULL,
					end_time DATETIME,
					files_copied INTEGER DEFAULT 0,
					files_removed INTEGER DEFAULT 0,
					files_backed_up INTEGER DEFAULT 0,
					files_failed INTEGER DEFAULT 0,
					bytes_copied INTEGER DEFAULT 0,
					status TEXT DEFAULT 'running',
					error_message TEXT
				);

				CREATE TABLE file_actions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id INTEGER NOT NULL,
					path TEXT NOT NULL,
					op TEXT NOT NULL,
					backup_path TEXT,
					bytes INTEGER DEFAULT 0,
					error TEXT,
					created_at DATETIME NOT NULL,
					FOREIGN KEY(run_id) REFERENCES update_runs(id)
				);

				CREATE INDEX idx_file_actions_run ON file_actions(run_id);
			`,
		},
		{
			version: 2,
			sql: `
				CREATE TABLE verification_runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id INTEGER,
					scope TEXT NOT NULL,
					directory TEXT NOT NULL,
					total INTEGER DEFAULT 0,
					matched INTEGER DEFAULT 0,
					mismatched INTEGER DEFAULT 0,
					missing INTEGER DEFAULT 0,
					bad_files TEXT,
					duration_ms INTEGER DEFAULT 0,
					created_at DATETIME NOT NULL
				);
			`,
		},
	}

	// Run pending migrations
	for _, mig := range migrations {
		if mig.version > currentVersion {
			s.logger.Info("Running migration", "version", mig.version)

			if err := s.runMigration(mig.version, mig.sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
			}

			s.logger.Info("Migration completed", "version", mig.version)
		}
	}

	return nil
}

// runMigration executes a migration and records it
func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Execute the migration SQL
	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	// Record the migration
	insertSQL := "INSERT INTO migrations (version) VALUES (?)"
	if _, err := tx.Exec(insertSQL, version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}
