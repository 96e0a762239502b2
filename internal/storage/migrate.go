package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// baseSchema is the oldest layout the ledger has shipped. Everything newer is
// an additive column in migrations below.
const baseSchema = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'running',
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		path TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`

type columnDef struct {
	name string
	ddl  string
}

var migrations = map[string][]columnDef{
	"runs": {
		{name: "trace_id", ddl: "ALTER TABLE runs ADD COLUMN trace_id TEXT NOT NULL DEFAULT ''"},
	},
	"logs": {
		{name: "trace_id", ddl: "ALTER TABLE logs ADD COLUMN trace_id TEXT NOT NULL DEFAULT ''"},
	},
	"artifacts": {
		{name: "trace_id", ddl: "ALTER TABLE artifacts ADD COLUMN trace_id TEXT NOT NULL DEFAULT ''"},
		{name: "job_key", ddl: "ALTER TABLE artifacts ADD COLUMN job_key TEXT NOT NULL DEFAULT ''"},
		{name: "input_hash", ddl: "ALTER TABLE artifacts ADD COLUMN input_hash TEXT NOT NULL DEFAULT ''"},
	},
}

// migrationOrder keeps column additions deterministic across opens.
var migrationOrder = []string{"runs", "logs", "artifacts"}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_trace_id ON runs(trace_id)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_run_id ON logs(run_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_artifacts_run_id ON artifacts(run_id)`,
	`CREATE INDEX IF NOT EXISTS idx_artifacts_input_hash ON artifacts(job_key, input_hash)`,
}

// migrate creates missing tables, adds missing columns and indexes. It is
// safe to run on every open.
func (s *SQLiteStorage) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, baseSchema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	for _, table := range migrationOrder {
		if err := s.ensureColumns(ctx, table, migrations[table]); err != nil {
			return err
		}
	}

	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) ensureColumns(ctx context.Context, table string, need []columnDef) error {
	columns, err := s.tableColumns(ctx, table)
	if err != nil {
		return err
	}

	for _, col := range need {
		if _, ok := columns[col.name]; ok {
			continue
		}
		if _, err := s.db.ExecContext(ctx, col.ddl); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", table, col.name, err)
		}
	}
	return nil
}

// tableColumns returns the set of column names currently present on table.
func (s *SQLiteStorage) tableColumns(ctx context.Context, table string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	columns := map[string]struct{}{}
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var defaultValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, err
		}
		columns[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return columns, nil
}
