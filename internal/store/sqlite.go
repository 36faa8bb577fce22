// Package store keeps the operation history and the failed-file dead letter
// queue in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store provides SQLite-backed persistence
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
	// A single connection keeps ":memory:" databases coherent and serializes writers.
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

	logger.Debug("store initialized", "path", dbPath)
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
// OperationRun Operations
// ============================================================================

const runColumns = `id, operation, install_dir, session_tag, from_version, manifest_version,
		start_time, end_time, files_total, files_downloaded, files_skipped, files_failed,
		bytes_transferred, status, error_message`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*OperationRun, error) {
	run := &OperationRun{}
	var endTime sql.NullTime
	err := row.Scan(
		&run.ID, &run.Operation, &run.InstallDir, &run.SessionTag, &run.FromVersion,
		&run.ManifestVersion, &run.StartTime, &endTime, &run.FilesTotal,
		&run.FilesDownloaded, &run.FilesSkipped, &run.FilesFailed,
		&run.BytesTransferred, &run.Status, &run.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		run.EndTime = endTime.Time
	}
	return run, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// CreateRun inserts a new OperationRun and sets its ID
func (s *Store) CreateRun(run *OperationRun) error {
	if run.Status == "" {
		run.Status = StatusRunning
	}

	const query = `
		INSERT INTO operation_runs (
			operation, install_dir, session_tag, from_version, manifest_version,
			start_time, end_time, files_total, files_downloaded, files_skipped,
			files_failed, bytes_transferred, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		run.Operation, run.InstallDir, run.SessionTag, run.FromVersion, run.ManifestVersion,
		run.StartTime, nullTime(run.EndTime), run.FilesTotal, run.FilesDownloaded,
		run.FilesSkipped, run.FilesFailed, run.BytesTransferred, run.Status, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert operation run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// UpdateRun updates an existing OperationRun by ID
func (s *Store) UpdateRun(run *OperationRun) error {
	const query = `
		UPDATE operation_runs SET
			operation = ?, manifest_version = ?, end_time = ?, files_total = ?, files_downloaded = ?,
			files_skipped = ?, files_failed = ?, bytes_transferred = ?, status = ?,
			error_message = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		run.Operation, run.ManifestVersion, nullTime(run.EndTime), run.FilesTotal, run.FilesDownloaded,
		run.FilesSkipped, run.FilesFailed, run.BytesTransferred, run.Status,
		run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update operation run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("operation run %d: %w", run.ID, ErrNotFound)
	}

	return nil
}

// GetRun retrieves an OperationRun by ID
func (s *Store) GetRun(id int64) (*OperationRun, error) {
	row := s.db.QueryRow("SELECT "+runColumns+" FROM operation_runs WHERE id = ?", id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("operation run %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query operation run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by install directory.
func (s *Store) ListRuns(installDir string, limit int) ([]OperationRun, error) {
	query := "SELECT " + runColumns + " FROM operation_runs"
	var args []any

	if installDir != "" {
		query += " WHERE install_dir = ?"
		args = append(args, installDir)
	}

	query += " ORDER BY start_time DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation runs: %w", err)
	}
	defer rows.Close()

	var runs []OperationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operation runs: %w", err)
	}

	return runs, nil
}

// LastSuccessfulRun returns the newest run with status success, or ErrNotFound.
func (s *Store) LastSuccessfulRun(installDir string) (*OperationRun, error) {
	row := s.db.QueryRow(
		"SELECT "+runColumns+" FROM operation_runs WHERE install_dir = ? AND status = ? ORDER BY start_time DESC, id DESC LIMIT 1",
		installDir, StatusSuccess,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no successful run for %s: %w", installDir, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query operation run: %w", err)
	}
	return run, nil
}

// ============================================================================
// Failed File (Dead Letter Queue) Operations
// ============================================================================

// AddFailedFile records a failure, bumping the retry count of an existing
// unresolved record for the same install directory and path.
func (s *Store) AddFailedFile(rec *FailedFileRecord) error {
	if rec.FirstFailure.IsZero() {
		rec.FirstFailure = time.Now()
	}
	if rec.LastFailure.IsZero() {
		rec.LastFailure = rec.FirstFailure
	}

	const updateQuery = `
		UPDATE failed_files
		SET error = ?, retry_count = retry_count + 1, last_failure = ?, run_id = ?,
		    url = COALESCE(NULLIF(?, ''), url),
		    expected_md5 = COALESCE(NULLIF(?, ''), expected_md5),
		    expected_size = CASE WHEN ? > 0 THEN ? ELSE expected_size END
		WHERE install_dir = ? AND file_path = ? AND resolved = 0
	`

	result, err := s.db.Exec(
		updateQuery,
		rec.Error, rec.LastFailure, rec.RunID,
		rec.URL, rec.ExpectedMD5,
		rec.ExpectedSize, rec.ExpectedSize,
		rec.InstallDir, rec.FilePath,
	)
	if err != nil {
		return fmt.Errorf("failed to update failed file record: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		return nil
	}

	const insertQuery = `
		INSERT INTO failed_files (
			install_dir, file_path, url, expected_md5, expected_size, error,
			retry_count, run_id, first_failure, last_failure, resolved
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err = s.db.Exec(
		insertQuery,
		rec.InstallDir, rec.FilePath, rec.URL, rec.ExpectedMD5, rec.ExpectedSize,
		rec.Error, rec.RetryCount, rec.RunID, rec.FirstFailure, rec.LastFailure,
		rec.Resolved,
	)
	if err != nil {
		return fmt.Errorf("failed to add failed file record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rec.ID = id
	return nil
}

// ListFailedFiles returns unresolved failures for an install directory, newest first.
func (s *Store) ListFailedFiles(installDir string) ([]FailedFileRecord, error) {
	const query = `
		SELECT id, install_dir, file_path, url, expected_md5, expected_size, error,
		       retry_count, COALESCE(run_id, 0), first_failure, last_failure, resolved
		FROM failed_files WHERE install_dir = ? AND resolved = 0
		ORDER BY last_failure DESC, id DESC
	`

	rows, err := s.db.Query(query, installDir)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed files: %w", err)
	}
	defer rows.Close()

	var records []FailedFileRecord
	for rows.Next() {
		rec := FailedFileRecord{}
		err := rows.Scan(
			&rec.ID, &rec.InstallDir, &rec.FilePath, &rec.URL, &rec.ExpectedMD5,
			&rec.ExpectedSize, &rec.Error, &rec.RetryCount, &rec.RunID,
			&rec.FirstFailure, &rec.LastFailure, &rec.Resolved,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan failed file record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failed file records: %w", err)
	}

	return records, nil
}

// ResolveFailedPath marks the open failure for a path as resolved, if any.
// It reports whether a record was resolved.
func (s *Store) ResolveFailedPath(installDir, filePath string) (bool, error) {
	result, err := s.db.Exec(
		"UPDATE failed_files SET resolved = 1 WHERE install_dir = ? AND file_path = ? AND resolved = 0",
		installDir, filePath,
	)
	if err != nil {
		return false, fmt.Errorf("failed to resolve failed file: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// CountFailedFiles returns the number of unresolved failures for an install directory.
func (s *Store) CountFailedFiles(installDir string) (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM failed_files WHERE install_dir = ? AND resolved = 0",
		installDir,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed files: %w", err)
	}
	return n, nil
}
