package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kdlbs/agentsupervisor/internal/common/apperr"
	"github.com/kdlbs/agentsupervisor/internal/domain"
)

// WorkflowRepository implements domain.WorkflowRepository over SQLite.
type WorkflowRepository struct {
	db *sqlx.DB
}

var _ domain.WorkflowRepository = (*WorkflowRepository)(nil)

// NewWorkflowRepository wraps an already-open database handle.
func NewWorkflowRepository(db *sqlx.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

type workflowRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description sql.NullString `db:"description"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r workflowRow) toDomain() domain.Workflow {
	return domain.Workflow{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description.String,
		Status:      domain.WorkflowStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func (r *WorkflowRepository) SaveWorkflow(ctx context.Context, wf domain.Workflow) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO workflows (id, name, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, description = excluded.description,
			status = excluded.status, updated_at = excluded.updated_at
	`), wf.ID, wf.Name, wf.Description, string(wf.Status), wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		return apperr.Database("failed to save workflow", err)
	}
	return nil
}

func (r *WorkflowRepository) GetWorkflow(ctx context.Context, id string) (domain.Workflow, bool, error) {
	var row workflowRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT * FROM workflows WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return domain.Workflow{}, false, nil
	}
	if err != nil {
		return domain.Workflow{}, false, apperr.Database("failed to load workflow", err)
	}
	return row.toDomain(), true, nil
}

func (r *WorkflowRepository) ListWorkflows(ctx context.Context) ([]domain.Workflow, error) {
	var rows []workflowRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM workflows ORDER BY created_at DESC`); err != nil {
		return nil, apperr.Database("failed to list workflows", err)
	}
	out := make([]domain.Workflow, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (r *WorkflowRepository) UpdateWorkflowStatus(ctx context.Context, id string, status domain.WorkflowStatus) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE workflows SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), time.Now(), id)
	if err != nil {
		return apperr.Database("failed to update workflow status", err)
	}
	return nil
}

func (r *WorkflowRepository) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM workflows WHERE id = ?`), id)
	if err != nil {
		return apperr.Database("failed to delete workflow", err)
	}
	return nil
}

type workflowStepRow struct {
	ID           string         `db:"id"`
	WorkflowID   string         `db:"workflow_id"`
	AgentName    string         `db:"agent_name"`
	Model        string         `db:"model"`
	Prompt       string         `db:"prompt"`
	SpecPath     sql.NullString `db:"spec_path"`
	Status       string         `db:"status"`
	SessionID    sql.NullString `db:"session_id"`
	PositionX    float64        `db:"position_x"`
	PositionY    float64        `db:"position_y"`
	CreatedAt    time.Time      `db:"created_at"`
	PassContext  int            `db:"pass_context"`
	ResultOutput sql.NullString `db:"result_output"`
}

func (r workflowStepRow) toDomain() domain.WorkflowStep {
	return domain.WorkflowStep{
		ID:           r.ID,
		WorkflowID:   r.WorkflowID,
		AgentName:    r.AgentName,
		Model:        r.Model,
		Prompt:       r.Prompt,
		SpecPath:     r.SpecPath.String,
		Status:       domain.StepStatus(r.Status),
		SessionID:    r.SessionID.String,
		PositionX:    r.PositionX,
		PositionY:    r.PositionY,
		CreatedAt:    r.CreatedAt,
		PassContext:  r.PassContext == 1,
		ResultOutput: r.ResultOutput.String,
	}
}

func (r *WorkflowRepository) SaveStep(ctx context.Context, step domain.WorkflowStep) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO workflow_steps (
			id, workflow_id, agent_name, model, prompt, spec_path, status, session_id,
			position_x, position_y, created_at, pass_context, result_output
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_name = excluded.agent_name, model = excluded.model, prompt = excluded.prompt,
			spec_path = excluded.spec_path, status = excluded.status, session_id = excluded.session_id,
			position_x = excluded.position_x, position_y = excluded.position_y,
			pass_context = excluded.pass_context, result_output = excluded.result_output
	`), step.ID, step.WorkflowID, step.AgentName, step.Model, step.Prompt, step.SpecPath,
		string(step.Status), nullableString(step.SessionID), step.PositionX, step.PositionY,
		step.CreatedAt, boolToInt(step.PassContext), nullableString(step.ResultOutput))
	if err != nil {
		return apperr.Database("failed to save workflow step", err)
	}
	return nil
}

func (r *WorkflowRepository) GetStep(ctx context.Context, id string) (domain.WorkflowStep, bool, error) {
	var row workflowStepRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT * FROM workflow_steps WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return domain.WorkflowStep{}, false, nil
	}
	if err != nil {
		return domain.WorkflowStep{}, false, apperr.Database("failed to load workflow step", err)
	}
	return row.toDomain(), true, nil
}

func (r *WorkflowRepository) UpdateStepStatus(ctx context.Context, id string, status domain.StepStatus, sessionID *string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE workflow_steps SET status = ?, session_id = COALESCE(?, session_id) WHERE id = ?`),
		string(status), sessionID, id)
	if err != nil {
		return apperr.Database("failed to update step status", err)
	}
	return nil
}

func (r *WorkflowRepository) GetSteps(ctx context.Context, workflowID string) ([]domain.WorkflowStep, error) {
	var rows []workflowStepRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`SELECT * FROM workflow_steps WHERE workflow_id = ?`), workflowID)
	if err != nil {
		return nil, apperr.Database("failed to list workflow steps", err)
	}
	out := make([]domain.WorkflowStep, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (r *WorkflowRepository) UpdateStepResult(ctx context.Context, id string, resultOutput string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE workflow_steps SET result_output = ? WHERE id = ?`), resultOutput, id)
	if err != nil {
		return apperr.Database("failed to update step result", err)
	}
	return nil
}

func (r *WorkflowRepository) DeleteStep(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM workflow_steps WHERE id = ?`), id)
	if err != nil {
		return apperr.Database("failed to delete workflow step", err)
	}
	return nil
}

type workflowEdgeRow struct {
	ID           string `db:"id"`
	WorkflowID   string `db:"workflow_id"`
	SourceStepID string `db:"source_step_id"`
	TargetStepID string `db:"target_step_id"`
}

func (r *WorkflowRepository) SaveEdge(ctx context.Context, edge domain.WorkflowEdge) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO workflow_edges (id, workflow_id, source_step_id, target_step_id) VALUES (?, ?, ?, ?)
	`), edge.ID, edge.WorkflowID, edge.SourceStepID, edge.TargetStepID)
	if err != nil {
		return apperr.Database("failed to save workflow edge", err)
	}
	return nil
}

func (r *WorkflowRepository) GetEdges(ctx context.Context, workflowID string) ([]domain.WorkflowEdge, error) {
	var rows []workflowEdgeRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`SELECT * FROM workflow_edges WHERE workflow_id = ?`), workflowID)
	if err != nil {
		return nil, apperr.Database("failed to list workflow edges", err)
	}
	out := make([]domain.WorkflowEdge, len(rows))
	for i, row := range rows {
		out[i] = domain.WorkflowEdge{
			ID:           row.ID,
			WorkflowID:   row.WorkflowID,
			SourceStepID: row.SourceStepID,
			TargetStepID: row.TargetStepID,
		}
	}
	return out, nil
}

func (r *WorkflowRepository) DeleteEdge(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM workflow_edges WHERE id = ?`), id)
	if err != nil {
		return apperr.Database("failed to delete workflow edge", err)
	}
	return nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
