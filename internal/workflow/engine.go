// Package workflow implements the DAG scheduling algorithm: validating a
// step graph, starting a workflow, and advancing it as steps complete.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kdlbs/agentsupervisor/internal/common/apperr"
	"github.com/kdlbs/agentsupervisor/internal/common/logger"
	"github.com/kdlbs/agentsupervisor/internal/domain"
	"github.com/kdlbs/agentsupervisor/internal/events"
	"github.com/kdlbs/agentsupervisor/internal/workflow/resulttext"
)

// SessionStarter is the narrow slice of the Session Manager the engine
// needs: starting a step's agent and stopping it when the workflow is
// stopped. Reading a completed step's logs goes through LogReader.
type SessionStarter interface {
	StartAgent(ctx context.Context, agentName, model, prompt string) (string, error)
	StopAgent(ctx context.Context, sessionID string) error
}

// LogReader lets the engine pull a completed step's transcript for
// result-text extraction without depending on the log buffer's concrete
// writer.
type LogReader interface {
	Flush(ctx context.Context)
	QueryLogs(ctx context.Context, sessionID string, offset, limit int) ([]domain.LogEntry, error)
}

// Engine owns workflow validation, execution, and advancement.
type Engine struct {
	repo    domain.WorkflowRepository
	session SessionStarter
	logs    LogReader
	log     *logger.Logger

	advanceMu sync.Mutex
	advanceLocks map[string]*sync.Mutex // workflow id -> serialization lock

	mu          sync.Mutex
	sessionStep map[string]string // session id -> step id, for running steps
}

// New constructs an Engine and subscribes it to status-changed events so
// step completion/failure drives advancement (SPEC_FULL.md §4.3, and §9
// "Listener-driven workflow advancement").
func New(repo domain.WorkflowRepository, session SessionStarter, logs LogReader, emitter *events.Emitter, log *logger.Logger) (*Engine, error) {
	e := &Engine{
		repo:         repo,
		session:      session,
		logs:         logs,
		log:          log.WithFields(),
		sessionStep:  make(map[string]string),
		advanceLocks: make(map[string]*sync.Mutex),
	}
	if _, err := emitter.SubscribeStatusChanged(e.onStatusChanged); err != nil {
		return nil, fmt.Errorf("subscribe workflow engine to status changes: %w", err)
	}
	return e, nil
}

// Validate loads a workflow's steps and edges and runs Kahn's algorithm.
// An empty step list or a cycle is a fatal validation error.
func (e *Engine) Validate(ctx context.Context, workflowID string) error {
	steps, edges, err := e.loadGraph(ctx, workflowID)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return apperr.Process("workflow has no steps", nil)
	}
	if _, err := topoSort(steps, edges); err != nil {
		return err
	}
	return nil
}

// Start validates, marks the workflow Running, then kicks off the first
// advance.
func (e *Engine) Start(ctx context.Context, workflowID string) error {
	if err := e.Validate(ctx, workflowID); err != nil {
		return err
	}
	if err := e.repo.UpdateWorkflowStatus(ctx, workflowID, domain.WorkflowRunning); err != nil {
		return apperr.Database("failed to mark workflow running", err)
	}
	return e.Advance(ctx, workflowID)
}

// Advance is the idempotent scheduling step: it starts every unblocked
// pending step and marks the workflow Completed once nothing remains to
// run. Concurrent calls for the same workflow id serialize on a
// per-workflow lock rather than collapsing: two sibling steps completing
// near-simultaneously (scenario: A->B, A->C) must each re-evaluate the
// graph against the other's committed status, not just the first
// caller's — singleflight would drop the second evaluation and could
// leave the workflow stuck short of Completed.
func (e *Engine) Advance(ctx context.Context, workflowID string) error {
	lock := e.lockFor(workflowID)
	lock.Lock()
	defer lock.Unlock()
	return e.advance(ctx, workflowID)
}

func (e *Engine) lockFor(workflowID string) *sync.Mutex {
	e.advanceMu.Lock()
	defer e.advanceMu.Unlock()
	lock, ok := e.advanceLocks[workflowID]
	if !ok {
		lock = &sync.Mutex{}
		e.advanceLocks[workflowID] = lock
	}
	return lock
}

func (e *Engine) advance(ctx context.Context, workflowID string) error {
	steps, edges, err := e.loadGraph(ctx, workflowID)
	if err != nil {
		return err
	}

	byID := make(map[string]domain.WorkflowStep, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}

	completed := make(map[string]bool)
	for _, s := range steps {
		if s.Status == domain.StepCompleted {
			completed[s.ID] = true
		}
	}

	inEdges := make(map[string][]domain.WorkflowEdge)
	for _, ed := range edges {
		inEdges[ed.TargetStepID] = append(inEdges[ed.TargetStepID], ed)
	}

	startedAny := false
	allCompleted := true

	for _, step := range steps {
		if step.Status != domain.StepCompleted {
			allCompleted = false
		}
		if step.Status != domain.StepPending {
			continue
		}

		unblocked := true
		for _, ed := range inEdges[step.ID] {
			if !completed[ed.SourceStepID] {
				unblocked = false
				break
			}
		}
		if !unblocked {
			allCompleted = false
			continue
		}

		prompt := effectivePrompt(step, inEdges[step.ID], byID)

		sessionID, err := e.session.StartAgent(ctx, step.AgentName, step.Model, prompt)
		if err != nil {
			e.log.WithError(err).Error("step spawn failed")
			_ = e.repo.UpdateStepStatus(ctx, step.ID, domain.StepFailed, nil)
			_ = e.repo.UpdateWorkflowStatus(ctx, workflowID, domain.WorkflowFailed)
			return nil
		}

		if err := e.repo.UpdateStepStatus(ctx, step.ID, domain.StepRunning, &sessionID); err != nil {
			e.log.WithError(err).Error("failed to mark step running")
		}
		e.bindSession(sessionID, step.ID)
		startedAny = true
		allCompleted = false
	}

	if !startedAny && allCompleted {
		if err := e.repo.UpdateWorkflowStatus(ctx, workflowID, domain.WorkflowCompleted); err != nil {
			return apperr.Database("failed to mark workflow completed", err)
		}
	}

	return nil
}

// effectivePrompt builds a step's launch prompt per SPEC_FULL.md §4.3:
// the raw prompt when pass_context is false, otherwise the raw prompt
// wrapped with parents' result_output, falling back to the raw prompt if
// no parent produced output.
func effectivePrompt(step domain.WorkflowStep, inEdges []domain.WorkflowEdge, byID map[string]domain.WorkflowStep) string {
	if !step.PassContext {
		return step.Prompt
	}

	var sections []string
	for _, ed := range inEdges {
		parent, ok := byID[ed.SourceStepID]
		if !ok || parent.ResultOutput == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("=== Output from '%s' ===\n%s", parent.AgentName, parent.ResultOutput))
	}
	if len(sections) == 0 {
		return step.Prompt
	}

	return fmt.Sprintf("Context from previous workflow steps:\n\n%s\n\n---\n\nYour task:\n%s",
		strings.Join(sections, "\n\n"), step.Prompt)
}

// onStatusChanged is the Session Manager's status-changed callback. Only
// Completed/Error transitions for sessions bound to a tracked workflow
// step matter to the engine.
func (e *Engine) onStatusChanged(ctx context.Context, event domain.StatusChangedEvent) {
	stepID, ok := e.lookupSession(event.SessionID)
	if !ok {
		return
	}

	switch event.Status {
	case domain.SessionCompleted:
		e.completeStep(ctx, stepID, event.SessionID)
	case domain.SessionError:
		e.failStep(ctx, stepID)
	default:
		return
	}

	e.forgetSession(event.SessionID)
}

func (e *Engine) completeStep(ctx context.Context, stepID, sessionID string) {
	step, ok, err := e.repo.GetStep(ctx, stepID)
	if err != nil || !ok {
		e.log.WithError(err).Error("failed to load step on completion")
		return
	}

	if err := e.repo.UpdateStepStatus(ctx, stepID, domain.StepCompleted, nil); err != nil {
		e.log.WithError(err).Error("failed to mark step completed")
		return
	}

	e.logs.Flush(ctx)
	// limit -1 asks the SQLite-backed reader for every entry (SQLite
	// treats a negative LIMIT as unbounded); the in-memory reader must
	// honor the same convention.
	entries, err := e.logs.QueryLogs(ctx, sessionID, 0, -1)
	if err != nil {
		e.log.WithError(err).Warn("failed to load session logs for result extraction")
	} else if result := resulttext.Extract(entries); result != "" {
		if err := e.repo.UpdateStepResult(ctx, stepID, result); err != nil {
			e.log.WithError(err).Error("failed to store step result output")
		}
	}

	if err := e.Advance(ctx, step.WorkflowID); err != nil {
		e.log.WithError(err).Error("advance after step completion failed")
	}
}

func (e *Engine) failStep(ctx context.Context, stepID string) {
	step, ok, err := e.repo.GetStep(ctx, stepID)
	if err != nil || !ok {
		e.log.WithError(err).Error("failed to load step on failure")
		return
	}
	if err := e.repo.UpdateStepStatus(ctx, stepID, domain.StepFailed, nil); err != nil {
		e.log.WithError(err).Error("failed to mark step failed")
	}
	if err := e.repo.UpdateWorkflowStatus(ctx, step.WorkflowID, domain.WorkflowFailed); err != nil {
		e.log.WithError(err).Error("failed to mark workflow failed")
	}
	// Sibling running steps are not cancelled here — they finish naturally,
	// per SPEC_FULL.md §9's resolved open question.
}

// Stop cancels every running step's session, marks pending steps Skipped,
// and marks the workflow Cancelled. Steps already Completed or Failed are
// left untouched.
func (e *Engine) Stop(ctx context.Context, workflowID string) error {
	steps, err := e.repo.GetSteps(ctx, workflowID)
	if err != nil {
		return apperr.Database("failed to load workflow steps", err)
	}

	for _, step := range steps {
		switch step.Status {
		case domain.StepRunning:
			if step.SessionID != "" {
				if err := e.session.StopAgent(ctx, step.SessionID); err != nil {
					e.log.WithError(err).Warn("failed to stop step session")
				}
				e.forgetSession(step.SessionID)
			}
			if err := e.repo.UpdateStepStatus(ctx, step.ID, domain.StepSkipped, nil); err != nil {
				e.log.WithError(err).Error("failed to mark running step skipped")
			}
		case domain.StepPending:
			if err := e.repo.UpdateStepStatus(ctx, step.ID, domain.StepSkipped, nil); err != nil {
				e.log.WithError(err).Error("failed to mark pending step skipped")
			}
		}
	}

	if err := e.repo.UpdateWorkflowStatus(ctx, workflowID, domain.WorkflowCancelled); err != nil {
		return apperr.Database("failed to mark workflow cancelled", err)
	}
	return nil
}

func (e *Engine) loadGraph(ctx context.Context, workflowID string) ([]domain.WorkflowStep, []domain.WorkflowEdge, error) {
	steps, err := e.repo.GetSteps(ctx, workflowID)
	if err != nil {
		return nil, nil, apperr.Database("failed to load workflow steps", err)
	}
	edges, err := e.repo.GetEdges(ctx, workflowID)
	if err != nil {
		return nil, nil, apperr.Database("failed to load workflow edges", err)
	}
	return steps, edges, nil
}

func (e *Engine) bindSession(sessionID, stepID string) {
	e.mu.Lock()
	e.sessionStep[sessionID] = stepID
	e.mu.Unlock()
}

func (e *Engine) lookupSession(sessionID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	stepID, ok := e.sessionStep[sessionID]
	return stepID, ok
}

func (e *Engine) forgetSession(sessionID string) {
	e.mu.Lock()
	delete(e.sessionStep, sessionID)
	e.mu.Unlock()
}

// topoSort runs Kahn's algorithm over the step/edge graph. Duplicate
// edges don't change reachability and are tolerated; a cycle or
// unreachable remainder after the sort is a validation error.
func topoSort(steps []domain.WorkflowStep, edges []domain.WorkflowEdge) ([]string, error) {
	inDegree := make(map[string]int, len(steps))
	adj := make(map[string]map[string]bool, len(steps))
	for _, s := range steps {
		inDegree[s.ID] = 0
		adj[s.ID] = make(map[string]bool)
	}

	for _, ed := range edges {
		if ed.SourceStepID == ed.TargetStepID {
			return nil, apperr.Process("Workflow contains a cycle", nil)
		}
		if adj[ed.SourceStepID][ed.TargetStepID] {
			continue // duplicate edge, ignored
		}
		adj[ed.SourceStepID][ed.TargetStepID] = true
		inDegree[ed.TargetStepID]++
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for target := range adj[id] {
			inDegree[target]--
			if inDegree[target] == 0 {
				queue = append(queue, target)
			}
		}
	}

	if len(order) != len(steps) {
		return nil, apperr.Process("Workflow contains a cycle", nil)
	}
	return order, nil
}
