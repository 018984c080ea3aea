package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store provides SQLite-backed update history
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Store initialized successfully", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// UpdateRun Operations
// ============================================================================

const updateRunColumns = `
	id, changeset_name, initial_build, final_build, game_directory, update_directory,
	start_time, end_time, files_copied, files_removed, files_backed_up, files_failed,
	bytes_copied, status, error_message
`

// CreateUpdateRun inserts a new UpdateRun and sets its ID
func (s *Store) CreateUpdateRun(run *UpdateRun) error {
	const query = `
		INSERT INTO update_runs (
			changeset_name, initial_build, final_build, game_directory, update_directory,
			start_time, end_time, files_copied, files_removed, files_backed_up, files_failed,
			bytes_copied, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		run.ChangeSetName, run.InitialBuild, run.FinalBuild, run.GameDirectory,
		run.UpdateDirectory, run.StartTime, run.EndTime, run.FilesCopied,
		run.FilesRemoved, run.FilesBackedUp, run.FilesFailed, run.BytesCopied,
		run.Status, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert update run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// UpdateUpdateRun updates an existing UpdateRun by ID
func (s *Store) UpdateUpdateRun(run *UpdateRun) error {
	const query = `
		UPDATE update_runs SET
			changeset_name = ?, initial_build = ?, final_build = ?, game_directory = ?,
			update_directory = ?, start_time = ?, end_time = ?, files_copied = ?,
			files_removed = ?, files_backed_up = ?, files_failed = ?, bytes_copied = ?,
			status = ?, error_message = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		run.ChangeSetName, run.InitialBuild, run.FinalBuild, run.GameDirectory,
		run.UpdateDirectory, run.StartTime, run.EndTime, run.FilesCopied,
		run.FilesRemoved, run.FilesBackedUp, run.FilesFailed, run.BytesCopied,
		run.Status, run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update update run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("update run %d: %w", run.ID, ErrNotFound)
	}

	return nil
}

// GetUpdateRun retrieves an UpdateRun by ID
func (s *Store) GetUpdateRun(id int64) (*UpdateRun, error) {
	query := "SELECT " + updateRunColumns + " FROM update_runs WHERE id = ?"

	run, err := scanUpdateRun(s.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("update run %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query update run: %w", err)
	}

	return run, nil
}

// ListUpdateRuns retrieves UpdateRuns, newest first
func (s *Store) ListUpdateRuns(limit int) ([]UpdateRun, error) {
	query := "SELECT " + updateRunColumns + " FROM update_runs ORDER BY start_time DESC, id DESC"
	var args []interface{}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query update runs: %w", err)
	}
	defer rows.Close()

	var runs []UpdateRun
	for rows.Next() {
		run, err := scanUpdateRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan update run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating update runs: %w", err)
	}

	return runs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUpdateRun(row rowScanner) (*UpdateRun, error) {
	run := &UpdateRun{}
	err := row.Scan(
		&run.ID, &run.ChangeSetName, &run.InitialBuild, &run.FinalBuild,
		&run.GameDirectory, &run.UpdateDirectory, &run.StartTime, &run.EndTime,
		&run.FilesCopied, &run.FilesRemoved, &run.FilesBackedUp, &run.FilesFailed,
		&run.BytesCopied, &run.Status, &run.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ============================================================================
// FileAction Operations
// ============================================================================

// RecordFileAction inserts a FileAction and sets its ID
func (s *Store) RecordFileAction(a *FileAction) error {
	const query = `
		INSERT INTO file_actions (run_id, path, op, backup_path, bytes, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	result, err := s.db.Exec(query, a.RunID, a.Path, a.Op, a.BackupPath, a.Bytes, a.Error, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert file action: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	a.ID = id
	return nil
}

// ListFileActions retrieves the actions of one run in the order they happened
func (s *Store) ListFileActions(runID int64) ([]FileAction, error) {
	const query = `
		SELECT id, run_id, path, op, backup_path, bytes, error, created_at
		FROM file_actions WHERE run_id = ? ORDER BY id
	`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query file actions: %w", err)
	}
	defer rows.Close()

	var actions []FileAction
	for rows.Next() {
		a := FileAction{}
		err := rows.Scan(&a.ID, &a.RunID, &a.Path, &a.Op, &a.BackupPath, &a.Bytes, &a.Error, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file action: %w", err)
		}
		actions = append(actions, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file actions: %w", err)
	}

	return actions, nil
}

// ============================================================================
// VerificationRun Operations
// ============================================================================

// RecordVerification inserts a VerificationRun and sets its ID
func (s *Store) RecordVerification(v *VerificationRun) error {
	const query = `
		INSERT INTO verification_runs (
			run_id, scope, directory, total, matched, mismatched, missing,
			bad_files, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	badFiles := v.BadFiles
	if badFiles == nil {
		badFiles = []string{}
	}
	badJSON, err := json.Marshal(badFiles)
	if err != nil {
		return fmt.Errorf("failed to encode bad files: %w", err)
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}

	result, err := s.db.Exec(
		query,
		v.RunID, v.Scope, v.Directory, v.Total, v.Matched, v.Mismatched, v.Missing,
		string(badJSON), v.Duration.Milliseconds(), v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert verification run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	v.ID = id
	return nil
}

// ListVerifications retrieves VerificationRuns, newest first
func (s *Store) ListVerifications(limit int) ([]VerificationRun, error) {
	query := `
		SELECT id, run_id, scope, directory, total, matched, mismatched, missing,
		       bad_files, duration_ms, created_at
		FROM verification_runs ORDER BY created_at DESC, id DESC
	`
	var args []interface{}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query verification runs: %w", err)
	}
	defer rows.Close()

	var runs []VerificationRun
	for rows.Next() {
		v := VerificationRun{}
		var badJSON string
		var durationMS int64
		err := rows.Scan(
			&v.ID, &v.RunID, &v.Scope, &v.Directory, &v.Total, &v.Matched,
			&v.Mismatched, &v.Missing, &badJSON, &durationMS, &v.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verification run: %w", err)
		}
		if err := json.Unmarshal([]byte(badJSON), &v.BadFiles); err != nil {
			return nil, fmt.Errorf("failed to decode bad files for verification %d: %w", v.ID, err)
		}
		v.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating verification runs: %w", err)
	}

	return runs, nil
}
