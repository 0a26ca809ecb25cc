// Package sqlite provides SQLite-backed implementations of the domain's
// storage ports, grounded on the teacher's workflow/repository/sqlite.go
// idiom (sqlx, Rebind, ExecContext/QueryRowContext, sql.ErrNoRows).
package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the SQLite database at path and creates every table
// named in SPEC_FULL.md §6 if it does not already exist.
func Open(path string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite3", path+"?mode=rwc&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return db, nil
}

func initSchema(db *sqlx.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			model_name TEXT NOT NULL,
			prompt TEXT NOT NULL,
			status TEXT NOT NULL,
			start_time TIMESTAMP NOT NULL,
			end_time TIMESTAMP,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS log_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			message_type TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_log_entries_session ON log_entries(session_id, id)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_steps (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			model TEXT NOT NULL,
			prompt TEXT NOT NULL,
			spec_path TEXT,
			status TEXT NOT NULL,
			session_id TEXT,
			position_x REAL NOT NULL DEFAULT 0,
			position_y REAL NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			pass_context INTEGER NOT NULL DEFAULT 0,
			result_output TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_steps_workflow ON workflow_steps(workflow_id)`,
		`CREATE TABLE IF NOT EXISTS workflow_edges (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			source_step_id TEXT NOT NULL,
			target_step_id TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_edges_workflow ON workflow_edges(workflow_id)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: %s", err, stmt)
		}
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
