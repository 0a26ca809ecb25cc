package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdlbs/agentsupervisor/internal/domain"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSessionRepository_SaveGetUpdate(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewSessionRepository(db)

	sess := domain.Session{
		ID: "s1", AgentName: "writer", ModelName: "sonnet", Prompt: "go",
		Status: domain.SessionRunning, StartTime: time.Now(),
	}
	require.NoError(t, repo.Save(ctx, sess))

	got, ok, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.SessionRunning, got.Status)
	assert.Equal(t, "writer", got.AgentName)

	in, out, err := repo.UpdateUsage(ctx, "s1", 10, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(10), in)
	assert.Equal(t, int64(20), out)

	require.NoError(t, repo.UpdateCost(ctx, "s1", 0.5))

	ended := time.Now()
	require.NoError(t, repo.UpdateStatus(ctx, "s1", domain.SessionCompleted, &ended))

	got, _, err = repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, got.Status)
	assert.Equal(t, 0.5, got.CostUSD)
	require.NotNil(t, got.EndTime)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSessionRepository_GetMissingReturnsNotOK(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSessionRepository(db)

	_, ok, err := repo.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionRepository_SaveUpsertsOnConflict(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewSessionRepository(db)

	sess := domain.Session{ID: "s1", AgentName: "writer", ModelName: "sonnet", Prompt: "v1", Status: domain.SessionStarting, StartTime: time.Now()}
	require.NoError(t, repo.Save(ctx, sess))

	sess.Prompt = "v2"
	sess.Status = domain.SessionRunning
	require.NoError(t, repo.Save(ctx, sess))

	got, _, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Prompt)
	assert.Equal(t, domain.SessionRunning, got.Status)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1, "upsert must not duplicate the row")
}

func TestLogWriter_WriteBatchAndQuery(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	w := NewLogWriter(db)

	require.NoError(t, w.WriteBatch(ctx, []domain.LogEntry{
		{SessionID: "s1", MessageType: domain.MessageSystem, Content: "a", Timestamp: time.Now()},
		{SessionID: "s1", MessageType: domain.MessageAssistant, Content: "b", Timestamp: time.Now()},
	}))

	entries, err := w.QueryLogs(ctx, "s1", 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Less(t, entries[0].ID, entries[1].ID)
	assert.Equal(t, "a", entries[0].Content)

	count, err := w.CountLogs(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestLogWriter_WriteBatchEmptyIsNoOp(t *testing.T) {
	db := setupTestDB(t)
	w := NewLogWriter(db)

	require.NoError(t, w.WriteBatch(context.Background(), nil))

	count, err := w.CountLogs(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestLogWriter_QueryLogs_NegativeLimitIsUnbounded(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	w := NewLogWriter(db)

	for i := 0; i < 5; i++ {
		require.NoError(t, w.WriteBatch(ctx, []domain.LogEntry{{SessionID: "s1", Content: "x", Timestamp: time.Now()}}))
	}

	entries, err := w.QueryLogs(ctx, "s1", 0, -1)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestWorkflowRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewWorkflowRepository(db)

	now := time.Now()
	wf := domain.Workflow{ID: "wf1", Name: "w", Status: domain.WorkflowDraft, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.SaveWorkflow(ctx, wf))

	got, ok, err := repo.GetWorkflow(ctx, "wf1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "w", got.Name)

	require.NoError(t, repo.UpdateWorkflowStatus(ctx, "wf1", domain.WorkflowRunning))
	got, _, _ = repo.GetWorkflow(ctx, "wf1")
	assert.Equal(t, domain.WorkflowRunning, got.Status)

	step := domain.WorkflowStep{ID: "st1", WorkflowID: "wf1", AgentName: "writer", Model: "sonnet", Prompt: "go", Status: domain.StepPending, CreatedAt: now}
	require.NoError(t, repo.SaveStep(ctx, step))

	sessionID := "sess-1"
	require.NoError(t, repo.UpdateStepStatus(ctx, "st1", domain.StepRunning, &sessionID))

	gotStep, ok, err := repo.GetStep(ctx, "st1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StepRunning, gotStep.Status)
	assert.Equal(t, "sess-1", gotStep.SessionID)

	require.NoError(t, repo.UpdateStepResult(ctx, "st1", "done"))
	gotStep, _, _ = repo.GetStep(ctx, "st1")
	assert.Equal(t, "done", gotStep.ResultOutput)

	steps, err := repo.GetSteps(ctx, "wf1")
	require.NoError(t, err)
	assert.Len(t, steps, 1)

	edge := domain.WorkflowEdge{ID: "e1", WorkflowID: "wf1", SourceStepID: "st1", TargetStepID: "st1"}
	require.NoError(t, repo.SaveEdge(ctx, edge))

	edges, err := repo.GetEdges(ctx, "wf1")
	require.NoError(t, err)
	assert.Len(t, edges, 1)

	require.NoError(t, repo.DeleteEdge(ctx, "e1"))
	edges, _ = repo.GetEdges(ctx, "wf1")
	assert.Len(t, edges, 0)

	require.NoError(t, repo.DeleteStep(ctx, "st1"))
	_, ok, _ = repo.GetStep(ctx, "st1")
	assert.False(t, ok)

	require.NoError(t, repo.DeleteWorkflow(ctx, "wf1"))
	_, ok, _ = repo.GetWorkflow(ctx, "wf1")
	assert.False(t, ok)
}

func TestWorkflowRepository_UpdateStepStatusPreservesSessionIDWhenNil(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewWorkflowRepository(db)

	now := time.Now()
	require.NoError(t, repo.SaveWorkflow(ctx, domain.Workflow{ID: "wf1", Name: "w", CreatedAt: now, UpdatedAt: now}))
	sessionID := "sess-1"
	step := domain.WorkflowStep{ID: "st1", WorkflowID: "wf1", Status: domain.StepPending, CreatedAt: now}
	require.NoError(t, repo.SaveStep(ctx, step))
	require.NoError(t, repo.UpdateStepStatus(ctx, "st1", domain.StepRunning, &sessionID))

	require.NoError(t, repo.UpdateStepStatus(ctx, "st1", domain.StepCompleted, nil))

	got, _, err := repo.GetStep(ctx, "st1")
	require.NoError(t, err)
	assert.Equal(t, domain.StepCompleted, got.Status)
	assert.Equal(t, "sess-1", got.SessionID, "a nil sessionID on status update must not clobber the existing one")
}
