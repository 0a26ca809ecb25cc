package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kdlbs/agentsupervisor/internal/domain"
)

// LogWriter implements logbuffer.Writer over SQLite: each drained batch
// is written under a fresh connection-scoped transaction (SPEC_FULL.md
// §4.4 — no cross-batch transactions required).
type LogWriter struct {
	db *sqlx.DB
}

// NewLogWriter wraps an already-open database handle.
func NewLogWriter(db *sqlx.DB) *LogWriter {
	return &LogWriter{db: db}
}

// WriteBatch inserts entries inside a single transaction. Entries carry
// no id; SQLite assigns one via AUTOINCREMENT.
func (w *LogWriter) WriteBatch(ctx context.Context, entries []domain.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin log batch tx: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.Rebind(`INSERT INTO log_entries (session_id, message_type, content, timestamp) VALUES (?, ?, ?, ?)`)
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, stmt, e.SessionID, string(e.MessageType), e.Content, e.Timestamp); err != nil {
			return fmt.Errorf("insert log entry: %w", err)
		}
	}

	return tx.Commit()
}

type logEntryRow struct {
	ID          int64     `db:"id"`
	SessionID   string    `db:"session_id"`
	MessageType string    `db:"message_type"`
	Content     string    `db:"content"`
	Timestamp   time.Time `db:"timestamp"`
}

// QueryLogs returns entries in ascending id order (= arrival order).
func (w *LogWriter) QueryLogs(ctx context.Context, sessionID string, offset, limit int) ([]domain.LogEntry, error) {
	var rows []logEntryRow
	err := w.db.SelectContext(ctx, &rows, w.db.Rebind(`
		SELECT id, session_id, message_type, content, timestamp FROM log_entries
		WHERE session_id = ? ORDER BY id ASC LIMIT ? OFFSET ?
	`), sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}

	out := make([]domain.LogEntry, len(rows))
	for i, r := range rows {
		out[i] = domain.LogEntry{
			ID:          r.ID,
			SessionID:   r.SessionID,
			MessageType: domain.MessageType(r.MessageType),
			Content:     r.Content,
			Timestamp:   r.Timestamp,
		}
	}
	return out, nil
}

// CountLogs returns the total entry count for a session.
func (w *LogWriter) CountLogs(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := w.db.GetContext(ctx, &count, w.db.Rebind(`SELECT COUNT(*) FROM log_entries WHERE session_id = ?`), sessionID)
	if err != nil {
		return 0, fmt.Errorf("count logs: %w", err)
	}
	return count, nil
}
