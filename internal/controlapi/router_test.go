package controlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdlbs/agentsupervisor/internal/common/apperr"
	"github.com/kdlbs/agentsupervisor/internal/common/logger"
	"github.com/kdlbs/agentsupervisor/internal/domain"
	"github.com/kdlbs/agentsupervisor/internal/events"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger(t *testing.T) *logger.Logger {
	log, err := logger.New(logger.Config{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

type fakeSessionService struct {
	startErr error
	sessions map[string]domain.Session
}

func (f *fakeSessionService) StartAgent(ctx context.Context, agentName, model, prompt string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	return "sess-1", nil
}

func (f *fakeSessionService) ResumeAgent(ctx context.Context, sessionID, prompt string) (string, error) {
	return sessionID, nil
}

func (f *fakeSessionService) StopAgent(ctx context.Context, sessionID string) error {
	return nil
}

func (f *fakeSessionService) ListSessions(ctx context.Context) ([]domain.Session, error) {
	var out []domain.Session
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeSessionService) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	s, ok := f.sessions[sessionID]
	if !ok {
		return domain.Session{}, apperr.SessionNotFound(sessionID)
	}
	return s, nil
}

type fakeWorkflowService struct {
	validateErr error
}

func (f *fakeWorkflowService) Validate(ctx context.Context, workflowID string) error {
	return f.validateErr
}

func (f *fakeWorkflowService) Start(ctx context.Context, workflowID string) error {
	return nil
}

func (f *fakeWorkflowService) Stop(ctx context.Context, workflowID string) error {
	return nil
}

type fakeWorkflowStore struct {
	workflows map[string]domain.Workflow
	steps     map[string][]domain.WorkflowStep
	edges     map[string][]domain.WorkflowEdge
}

func newFakeWorkflowStore() *fakeWorkflowStore {
	return &fakeWorkflowStore{
		workflows: make(map[string]domain.Workflow),
		steps:     make(map[string][]domain.WorkflowStep),
		edges:     make(map[string][]domain.WorkflowEdge),
	}
}

func (f *fakeWorkflowStore) GetWorkflow(ctx context.Context, id string) (domain.Workflow, bool, error) {
	wf, ok := f.workflows[id]
	return wf, ok, nil
}

func (f *fakeWorkflowStore) ListWorkflows(ctx context.Context) ([]domain.Workflow, error) {
	var out []domain.Workflow
	for _, wf := range f.workflows {
		out = append(out, wf)
	}
	return out, nil
}

func (f *fakeWorkflowStore) GetSteps(ctx context.Context, workflowID string) ([]domain.WorkflowStep, error) {
	return f.steps[workflowID], nil
}

func (f *fakeWorkflowStore) GetEdges(ctx context.Context, workflowID string) ([]domain.WorkflowEdge, error) {
	return f.edges[workflowID], nil
}

func (f *fakeWorkflowStore) SaveWorkflow(ctx context.Context, wf domain.Workflow) error {
	f.workflows[wf.ID] = wf
	return nil
}

func (f *fakeWorkflowStore) SaveStep(ctx context.Context, step domain.WorkflowStep) error {
	f.steps[step.WorkflowID] = append(f.steps[step.WorkflowID], step)
	return nil
}

func (f *fakeWorkflowStore) SaveEdge(ctx context.Context, edge domain.WorkflowEdge) error {
	f.edges[edge.WorkflowID] = append(f.edges[edge.WorkflowID], edge)
	return nil
}

func newTestRouter(t *testing.T, sessions *fakeSessionService, workflows *fakeWorkflowService, store *fakeWorkflowStore) *gin.Engine {
	bus := events.NewMemoryBus(testLogger(t))
	h := NewHandlers(sessions, workflows, store, store, bus, testLogger(t))
	router := gin.New()
	RegisterRoutes(router, h)
	return router
}

func TestStartSession_ReturnsSessionID(t *testing.T) {
	router := newTestRouter(t, &fakeSessionService{}, &fakeWorkflowService{}, newFakeWorkflowStore())

	body := bytes.NewBufferString(`{"agent_name":"writer","model":"sonnet","prompt":"go"}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess-1", resp["session_id"])
}

func TestStartSession_RejectsMissingFields(t *testing.T) {
	router := newTestRouter(t, &fakeSessionService{}, &fakeWorkflowService{}, newFakeWorkflowStore())

	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString(`{"agent_name":"writer"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSession_NotFoundMapsToAppErrStatus(t *testing.T) {
	router := newTestRouter(t, &fakeSessionService{sessions: map[string]domain.Session{}}, &fakeWorkflowService{}, newFakeWorkflowStore())

	req := httptest.NewRequest(http.MethodGet, "/sessions/missing", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(apperr.KindSessionNotFound), resp["kind"])
}

func TestValidateWorkflow_PropagatesEngineError(t *testing.T) {
	router := newTestRouter(t, &fakeSessionService{}, &fakeWorkflowService{validateErr: apperr.Process("bad dag", nil)}, newFakeWorkflowStore())

	req := httptest.NewRequest(http.MethodPost, "/workflows/wf1/validate", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestGetWorkflow_NotFoundReturns404(t *testing.T) {
	router := newTestRouter(t, &fakeSessionService{}, &fakeWorkflowService{}, newFakeWorkflowStore())

	req := httptest.NewRequest(http.MethodGet, "/workflows/missing", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportThenImportWorkflow_RoundTrips(t *testing.T) {
	store := newFakeWorkflowStore()
	router := newTestRouter(t, &fakeSessionService{}, &fakeWorkflowService{}, store)

	store.workflows["wf1"] = domain.Workflow{ID: "wf1", Name: "demo", Status: domain.WorkflowDraft}
	store.steps["wf1"] = []domain.WorkflowStep{
		{ID: "st1", WorkflowID: "wf1", AgentName: "writer", Model: "sonnet", Prompt: "draft"},
	}

	req := httptest.NewRequest(http.MethodGet, "/workflows/wf1/export", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	exported := rec.Body.Bytes()
	assert.Contains(t, string(exported), "demo")

	importReq := httptest.NewRequest(http.MethodPost, "/workflows/import", bytes.NewReader(exported))
	importRec := httptest.NewRecorder()
	router.ServeHTTP(importRec, importReq)

	require.Equal(t, http.StatusOK, importRec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(importRec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["workflow_id"])
	assert.NotEqual(t, "wf1", resp["workflow_id"], "import must mint a fresh workflow id")
}

func TestImportWorkflow_RejectsMalformedBody(t *testing.T) {
	router := newTestRouter(t, &fakeSessionService{}, &fakeWorkflowService{}, newFakeWorkflowStore())

	req := httptest.NewRequest(http.MethodPost, "/workflows/import", bytes.NewBufferString("not: [valid"))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
