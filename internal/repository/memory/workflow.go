package memory

import (
	"context"
	"sync"

	"github.com/kdlbs/agentsupervisor/internal/domain"
)

// WorkflowRepository stores workflows, steps, and edges in guarded maps.
type WorkflowRepository struct {
	mu        sync.RWMutex
	workflows map[string]domain.Workflow
	steps     map[string]domain.WorkflowStep
	edges     map[string]domain.WorkflowEdge
}

var _ domain.WorkflowRepository = (*WorkflowRepository)(nil)

// NewWorkflowRepository constructs an empty WorkflowRepository.
func NewWorkflowRepository() *WorkflowRepository {
	return &WorkflowRepository{
		workflows: make(map[string]domain.Workflow),
		steps:     make(map[string]domain.WorkflowStep),
		edges:     make(map[string]domain.WorkflowEdge),
	}
}

func (r *WorkflowRepository) SaveWorkflow(ctx context.Context, wf domain.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[wf.ID] = wf
	return nil
}

func (r *WorkflowRepository) GetWorkflow(ctx context.Context, id string) (domain.Workflow, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[id]
	return wf, ok, nil
}

func (r *WorkflowRepository) ListWorkflows(ctx context.Context) ([]domain.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Workflow, 0, len(r.workflows))
	for _, wf := range r.workflows {
		out = append(out, wf)
	}
	return out, nil
}

func (r *WorkflowRepository) UpdateWorkflowStatus(ctx context.Context, id string, status domain.WorkflowStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	wf, ok := r.workflows[id]
	if !ok {
		return nil
	}
	wf.Status = status
	r.workflows[id] = wf
	return nil
}

func (r *WorkflowRepository) DeleteWorkflow(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workflows, id)
	return nil
}

func (r *WorkflowRepository) SaveStep(ctx context.Context, step domain.WorkflowStep) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[step.ID] = step
	return nil
}

func (r *WorkflowRepository) GetStep(ctx context.Context, id string) (domain.WorkflowStep, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.steps[id]
	return s, ok, nil
}

func (r *WorkflowRepository) UpdateStepStatus(ctx context.Context, id string, status domain.StepStatus, sessionID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.steps[id]
	if !ok {
		return nil
	}
	s.Status = status
	if sessionID != nil {
		s.SessionID = *sessionID
	}
	r.steps[id] = s
	return nil
}

func (r *WorkflowRepository) GetSteps(ctx context.Context, workflowID string) ([]domain.WorkflowStep, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.WorkflowStep
	for _, s := range r.steps {
		if s.WorkflowID == workflowID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *WorkflowRepository) UpdateStepResult(ctx context.Context, id string, resultOutput string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.steps[id]
	if !ok {
		return nil
	}
	s.ResultOutput = resultOutput
	r.steps[id] = s
	return nil
}

func (r *WorkflowRepository) DeleteStep(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.steps, id)
	return nil
}

func (r *WorkflowRepository) SaveEdge(ctx context.Context, edge domain.WorkflowEdge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges[edge.ID] = edge
	return nil
}

func (r *WorkflowRepository) GetEdges(ctx context.Context, workflowID string) ([]domain.WorkflowEdge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.WorkflowEdge
	for _, e := range r.edges {
		if e.WorkflowID == workflowID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *WorkflowRepository) DeleteEdge(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.edges, id)
	return nil
}
