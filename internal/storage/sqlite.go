package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/models"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at dbPath and brings its
// schema up to date
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers; every operation is one statement.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, pragma := range []string{`PRAGMA journal_mode=WAL;`, `PRAGMA busy_timeout=5000;`} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	storage := &SQLiteStorage{db: db}

	if err := storage.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// InsertRun inserts a new run row
func (s *SQLiteStorage) InsertRun(ctx context.Context, run *models.Run) error {
	query := `INSERT INTO runs (id, trace_id, status, started_at, finished_at, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.TraceID, run.Status, toUnix(run.StartedAt), toNullUnix(run.FinishedAt), toUnix(run.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// UpdateRunStatus sets the status and finish time of a run
func (s *SQLiteStorage) UpdateRunStatus(ctx context.Context, runID, status string, finishedAt time.Time) error {
	query := `UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, status, toUnix(finishedAt), runID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

const runColumns = `id, trace_id, status, started_at, finished_at, created_at`

// GetRun retrieves a run by ID
func (s *SQLiteStorage) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves all runs, newest started first
func (s *SQLiteStorage) ListRuns(ctx context.Context) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// FailRunningRuns marks every run still in the running state as error and
// returns the runs it changed
func (s *SQLiteStorage) FailRunningRuns(ctx context.Context, finishedAt time.Time) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE status = ? ORDER BY rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, models.RunStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list running runs: %w", err)
	}

	var stale []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		stale = append(stale, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, run := range stale {
		_, err := s.db.ExecContext(ctx,
			`UPDATE runs SET status = ?, finished_at = ? WHERE id = ? AND status = ?`,
			models.RunStatusError, toUnix(finishedAt), run.ID, models.RunStatusRunning,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to fail run %s: %w", run.ID, err)
		}
		finished := finishedAt
		run.Status = models.RunStatusError
		run.FinishedAt = &finished
	}

	return stale, nil
}

// InsertLog appends a log entry and sets its generated ID
func (s *SQLiteStorage) InsertLog(ctx context.Context, entry *models.LogEntry) error {
	query := `INSERT INTO logs (run_id, trace_id, level, message, created_at) VALUES (?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		entry.RunID, entry.TraceID, entry.Level, entry.Message, toUnix(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	entry.ID = id
	return nil
}

// ListLogs retrieves a run's log entries in append order
func (s *SQLiteStorage) ListLogs(ctx context.Context, runID string) ([]*models.LogEntry, error) {
	query := `SELECT id, run_id, trace_id, level, message, created_at
	          FROM logs WHERE run_id = ? ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.LogEntry
	for rows.Next() {
		entry := &models.LogEntry{}
		var createdAt int64
		if err := rows.Scan(&entry.ID, &entry.RunID, &entry.TraceID, &entry.Level, &entry.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		entry.CreatedAt = fromUnix(createdAt)
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// InsertArtifact records an artifact's provenance
func (s *SQLiteStorage) InsertArtifact(ctx context.Context, artifact *models.Artifact) error {
	query := `INSERT INTO artifacts (id, run_id, trace_id, path, job_key, input_hash, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		artifact.ID, artifact.RunID, artifact.TraceID, artifact.Path,
		artifact.JobKey, artifact.InputHash, toUnix(artifact.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert artifact: %w", err)
	}
	return nil
}

// ListArtifacts retrieves a run's artifacts in write order
func (s *SQLiteStorage) ListArtifacts(ctx context.Context, runID string) ([]*models.Artifact, error) {
	query := `SELECT id, run_id, trace_id, path, job_key, input_hash, created_at
	          FROM artifacts WHERE run_id = ? ORDER BY rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*models.Artifact
	for rows.Next() {
		artifact := &models.Artifact{}
		var createdAt int64
		if err := rows.Scan(&artifact.ID, &artifact.RunID, &artifact.TraceID, &artifact.Path,
			&artifact.JobKey, &artifact.InputHash, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifact.CreatedAt = fromUnix(createdAt)
		artifacts = append(artifacts, artifact)
	}

	return artifacts, rows.Err()
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	run := &models.Run{}
	var startedAt, createdAt int64
	var finishedAt sql.NullInt64
	if err := row.Scan(&run.ID, &run.TraceID, &run.Status, &startedAt, &finishedAt, &createdAt); err != nil {
		return nil, err
	}
	run.StartedAt = fromUnix(startedAt)
	run.CreatedAt = fromUnix(createdAt)
	if finishedAt.Valid {
		t := fromUnix(finishedAt.Int64)
		run.FinishedAt = &t
	}
	return run, nil
}

// Timestamps are stored as unix nanoseconds so ordering never depends on
// string formatting.
func toUnix(t time.Time) int64 {
	return t.UnixNano()
}

func toNullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
