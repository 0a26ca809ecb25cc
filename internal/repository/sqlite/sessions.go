package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kdlbs/agentsupervisor/internal/common/apperr"
	"github.com/kdlbs/agentsupervisor/internal/domain"
)

// SessionRepository implements domain.SessionRepository over SQLite.
type SessionRepository struct {
	db *sqlx.DB
}

var _ domain.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository wraps an already-open database handle.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

type sessionRow struct {
	ID           string         `db:"id"`
	AgentName    string         `db:"agent_name"`
	ModelName    string         `db:"model_name"`
	Prompt       string         `db:"prompt"`
	Status       string         `db:"status"`
	StartTime    time.Time      `db:"start_time"`
	EndTime      sql.NullTime   `db:"end_time"`
	InputTokens  int64          `db:"input_tokens"`
	OutputTokens int64          `db:"output_tokens"`
	CostUSD      float64        `db:"cost_usd"`
}

func (r sessionRow) toDomain() domain.Session {
	s := domain.Session{
		ID:           r.ID,
		AgentName:    r.AgentName,
		ModelName:    r.ModelName,
		Prompt:       r.Prompt,
		Status:       domain.SessionStatus(r.Status),
		StartTime:    r.StartTime,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		CostUSD:      r.CostUSD,
	}
	if r.EndTime.Valid {
		t := r.EndTime.Time
		s.EndTime = &t
	}
	return s
}

func (r *SessionRepository) Save(ctx context.Context, session domain.Session) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO sessions (id, agent_name, model_name, prompt, status, start_time, end_time, input_tokens, output_tokens, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_name = excluded.agent_name, model_name = excluded.model_name,
			prompt = excluded.prompt, status = excluded.status,
			start_time = excluded.start_time, end_time = excluded.end_time,
			input_tokens = excluded.input_tokens, output_tokens = excluded.output_tokens,
			cost_usd = excluded.cost_usd
	`), session.ID, session.AgentName, session.ModelName, session.Prompt, string(session.Status),
		session.StartTime, session.EndTime, session.InputTokens, session.OutputTokens, session.CostUSD)
	if err != nil {
		return apperr.Database("failed to save session", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, sessionID string) (domain.Session, bool, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT * FROM sessions WHERE id = ?`), sessionID)
	if err == sql.ErrNoRows {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, apperr.Database("failed to load session", err)
	}
	return row.toDomain(), true, nil
}

func (r *SessionRepository) List(ctx context.Context) ([]domain.Session, error) {
	var rows []sessionRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM sessions ORDER BY start_time DESC`); err != nil {
		return nil, apperr.Database("failed to list sessions", err)
	}
	out := make([]domain.Session, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (r *SessionRepository) UpdateStatus(ctx context.Context, sessionID string, status domain.SessionStatus, endedAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE sessions SET status = ?, end_time = ? WHERE id = ?`),
		string(status), endedAt, sessionID)
	if err != nil {
		return apperr.Database("failed to update session status", err)
	}
	return nil
}

func (r *SessionRepository) UpdateUsage(ctx context.Context, sessionID string, inputDelta, outputDelta int64) (int64, int64, error) {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE sessions SET input_tokens = input_tokens + ?, output_tokens = output_tokens + ? WHERE id = ?
	`), inputDelta, outputDelta, sessionID)
	if err != nil {
		return 0, 0, apperr.Database("failed to update session usage", err)
	}

	var row struct {
		InputTokens  int64 `db:"input_tokens"`
		OutputTokens int64 `db:"output_tokens"`
	}
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT input_tokens, output_tokens FROM sessions WHERE id = ?`), sessionID); err != nil {
		return 0, 0, apperr.Database("failed to read back session usage", err)
	}
	return row.InputTokens, row.OutputTokens, nil
}

func (r *SessionRepository) UpdateCost(ctx context.Context, sessionID string, costUSD float64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE sessions SET cost_usd = ? WHERE id = ?`), costUSD, sessionID)
	if err != nil {
		return apperr.Database("failed to update session cost", err)
	}
	return nil
}
