package domain

import (
	"context"
	"time"
)

// SpawnConfig carries everything AgentRunner needs to start a new agent.
type SpawnConfig struct {
	SessionID  string
	AgentName  string
	Model      string
	Prompt     string
	ProjectDir string
}

// ResumeConfig carries everything AgentRunner needs to resume a session.
type ResumeConfig struct {
	SessionID  string
	Prompt     string
	ProjectDir string
}

// AgentRunner spawns, resumes, and kills external agent processes. It does
// not own session state — it reports into SessionCallbacks as it observes
// the child's stream.
type AgentRunner interface {
	Spawn(ctx context.Context, cfg SpawnConfig) error
	Resume(ctx context.Context, cfg ResumeConfig) error
	Kill(ctx context.Context, sessionID string) error
	KillAll(ctx context.Context)
}

// SessionCallbacks is the narrow interface AgentRunner invokes as it parses
// a child's stream. It exists separately from the full Session Manager type
// so the Runner can be constructed against an interface rather than a
// concrete circular reference (see SPEC_FULL.md §9).
type SessionCallbacks interface {
	OnAgentRunning(sessionID string)
	OnAgentMessage(sessionID string, msgType MessageType, redactedContent string, timestamp time.Time)
	OnAgentUsage(sessionID string, inputDelta, outputDelta int64)
	OnAgentCost(sessionID string, costUSD float64)
	OnRateLimited(sessionID string, resetAt *time.Time, rawText string)
	OnAgentFinished(sessionID string, finalStatus SessionStatus)
}

// EventEmitter pushes domain events to external subscribers. Emission
// failures are non-fatal by policy (SPEC_FULL.md §7): implementations log
// and swallow, never propagate a hard failure to the domain caller.
type EventEmitter interface {
	EmitStatusChanged(ctx context.Context, event StatusChangedEvent) error
	EmitMessage(ctx context.Context, event MessageEvent) error
	EmitUsageUpdate(ctx context.Context, event UsageUpdateEvent) error
	EmitRateLimited(ctx context.Context, event RateLimitedEvent) error
}

// LogRepository buffers and durably persists LogEntries, and serves
// paginated queries over them.
type LogRepository interface {
	Append(ctx context.Context, sessionID string, msgType MessageType, content string, timestamp time.Time)
	Flush(ctx context.Context)
	QueryLogs(ctx context.Context, sessionID string, offset, limit int) ([]LogEntry, error)
	CountLogs(ctx context.Context, sessionID string) (int64, error)
}

// SessionRepository holds authoritative session state.
type SessionRepository interface {
	Save(ctx context.Context, session Session) error
	Get(ctx context.Context, sessionID string) (Session, bool, error)
	List(ctx context.Context) ([]Session, error)
	UpdateStatus(ctx context.Context, sessionID string, status SessionStatus, endedAt *time.Time) error
	// UpdateUsage atomically increments the session's cumulative counters
	// and returns the new totals.
	UpdateUsage(ctx context.Context, sessionID string, inputDelta, outputDelta int64) (int64, int64, error)
	UpdateCost(ctx context.Context, sessionID string, costUSD float64) error
}

// WorkflowRepository is durable storage for workflows, steps, and edges.
type WorkflowRepository interface {
	SaveWorkflow(ctx context.Context, wf Workflow) error
	GetWorkflow(ctx context.Context, id string) (Workflow, bool, error)
	ListWorkflows(ctx context.Context) ([]Workflow, error)
	UpdateWorkflowStatus(ctx context.Context, id string, status WorkflowStatus) error
	DeleteWorkflow(ctx context.Context, id string) error

	SaveStep(ctx context.Context, step WorkflowStep) error
	GetStep(ctx context.Context, id string) (WorkflowStep, bool, error)
	UpdateStepStatus(ctx context.Context, id string, status StepStatus, sessionID *string) error
	GetSteps(ctx context.Context, workflowID string) ([]WorkflowStep, error)
	UpdateStepResult(ctx context.Context, id string, resultOutput string) error
	DeleteStep(ctx context.Context, id string) error

	SaveEdge(ctx context.Context, edge WorkflowEdge) error
	GetEdges(ctx context.Context, workflowID string) ([]WorkflowEdge, error)
	DeleteEdge(ctx context.Context, id string) error
}
