// Package session implements the domain logic for starting, stopping, and
// resuming agent sessions, and for processing the callbacks an AgentRunner
// reports as it observes a child process.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kdlbs/agentsupervisor/internal/common/apperr"
	"github.com/kdlbs/agentsupervisor/internal/common/logger"
	"github.com/kdlbs/agentsupervisor/internal/domain"
)

// Manager is the Session Manager domain service. It holds no I/O
// primitives directly — all persistence and transport go through the
// injected ports.
type Manager struct {
	emitter domain.EventEmitter
	logs    domain.LogRepository
	repo    domain.SessionRepository
	log     *logger.Logger

	mu         sync.RWMutex
	runner     domain.AgentRunner
	projectDir string
}

// New constructs a Manager with no runner wired. Call SetRunner before
// any call to StartAgent or ResumeAgent.
func New(emitter domain.EventEmitter, logs domain.LogRepository, repo domain.SessionRepository, log *logger.Logger) *Manager {
	return &Manager{
		emitter: emitter,
		logs:    logs,
		repo:    repo,
		log:     log.WithFields(),
	}
}

// SetRunner closes the circular dependency between the Manager and the
// AgentRunner: the Runner is constructed with a reference to the Manager
// as a SessionCallbacks, so the Manager itself must be built first with
// no runner, then wired up here.
func (m *Manager) SetRunner(runner domain.AgentRunner) {
	m.mu.Lock()
	m.runner = runner
	m.mu.Unlock()
}

// SetProjectDir sets the working directory new agent processes spawn
// into. An unset project dir defaults to ".".
func (m *Manager) SetProjectDir(dir string) {
	m.mu.Lock()
	m.projectDir = dir
	m.mu.Unlock()
}

func (m *Manager) getRunner() (domain.AgentRunner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.runner == nil {
		return nil, apperr.Process("agent runner not initialized", nil)
	}
	return m.runner, nil
}

func (m *Manager) getProjectDir() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.projectDir == "" {
		return "."
	}
	return m.projectDir
}

// StartAgent creates a new session in Starting status, persists it,
// emits StatusChanged, then asks the runner to spawn the process.
func (m *Manager) StartAgent(ctx context.Context, agentName, model, prompt string) (string, error) {
	runner, err := m.getRunner()
	if err != nil {
		return "", err
	}

	sessionID := uuid.NewString()
	now := time.Now()

	sess := domain.Session{
		ID:        sessionID,
		AgentName: agentName,
		ModelName: model,
		Prompt:    prompt,
		Status:    domain.SessionStarting,
		StartTime: now,
	}
	if err := m.repo.Save(ctx, sess); err != nil {
		return "", apperr.Database("failed to persist session", err)
	}

	m.emitStatusChanged(ctx, sess, nil)

	if err := runner.Spawn(ctx, domain.SpawnConfig{
		SessionID:  sessionID,
		AgentName:  agentName,
		Model:      model,
		Prompt:     prompt,
		ProjectDir: m.getProjectDir(),
	}); err != nil {
		return "", err
	}

	return sessionID, nil
}

// ResumeAgent transitions an existing session to Running and asks the
// runner to resume it with the same session id.
func (m *Manager) ResumeAgent(ctx context.Context, sessionID, prompt string) (string, error) {
	runner, err := m.getRunner()
	if err != nil {
		return "", err
	}

	sess, ok, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return "", apperr.Database("failed to load session", err)
	}
	if !ok {
		return "", apperr.SessionNotFound(sessionID)
	}

	if err := m.repo.UpdateStatus(ctx, sessionID, domain.SessionRunning, nil); err != nil {
		return "", apperr.Database("failed to update session status", err)
	}
	sess.Status = domain.SessionRunning
	sess.Prompt = prompt
	m.emitStatusChanged(ctx, sess, nil)

	if err := runner.Resume(ctx, domain.ResumeConfig{
		SessionID:  sessionID,
		Prompt:     prompt,
		ProjectDir: m.getProjectDir(),
	}); err != nil {
		return "", err
	}

	return sessionID, nil
}

// StopAgent asks the runner to kill the session's process and marks it
// Stopped. Per kill semantics, the runner's on_agent_finished need not
// fire for a killed session, so this method finalizes status itself.
func (m *Manager) StopAgent(ctx context.Context, sessionID string) error {
	runner, err := m.getRunner()
	if err != nil {
		return err
	}

	sess, ok, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return apperr.Database("failed to load session", err)
	}
	if !ok {
		return apperr.SessionNotFound(sessionID)
	}
	if sess.Status.Terminal() {
		return nil
	}

	if err := runner.Kill(ctx, sessionID); err != nil {
		return err
	}

	ended := time.Now()
	if err := m.repo.UpdateStatus(ctx, sessionID, domain.SessionStopped, &ended); err != nil {
		return apperr.Database("failed to update session status", err)
	}
	sess.Status = domain.SessionStopped
	sess.EndTime = &ended
	m.emitStatusChanged(ctx, sess, &ended)

	return nil
}

// ListSessions reads through to the repository.
func (m *Manager) ListSessions(ctx context.Context) ([]domain.Session, error) {
	sessions, err := m.repo.List(ctx)
	if err != nil {
		return nil, apperr.Database("failed to list sessions", err)
	}
	return sessions, nil
}

// GetSession reads through to the repository.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	sess, ok, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return domain.Session{}, apperr.Database("failed to load session", err)
	}
	if !ok {
		return domain.Session{}, apperr.SessionNotFound(sessionID)
	}
	return sess, nil
}

// ShutdownAll kills every live process, marks in-flight sessions Stopped,
// and flushes the log buffer. Called during graceful shutdown.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.RLock()
	runner := m.runner
	m.mu.RUnlock()

	if runner != nil {
		runner.KillAll(ctx)
	}

	sessions, err := m.repo.List(ctx)
	if err != nil {
		m.log.Error("failed to list sessions during shutdown")
		return
	}

	now := time.Now()
	for _, sess := range sessions {
		if sess.Status == domain.SessionStarting || sess.Status == domain.SessionRunning {
			_ = m.repo.UpdateStatus(ctx, sess.ID, domain.SessionStopped, &now)
		}
	}

	m.logs.Flush(ctx)
}

func (m *Manager) emitStatusChanged(ctx context.Context, sess domain.Session, endedAt *time.Time) {
	if err := m.emitter.EmitStatusChanged(ctx, domain.StatusChangedEvent{
		SessionID: sess.ID,
		AgentName: sess.AgentName,
		Status:    sess.Status,
		Model:     sess.ModelName,
		Prompt:    sess.Prompt,
		EndedAt:   endedAt,
	}); err != nil {
		m.log.WithError(err).Warn("failed to emit status changed event")
	}
}

// ---------------------------------------------------------------------
// domain.SessionCallbacks — invoked by the AgentRunner adapter.
// ---------------------------------------------------------------------

var _ domain.SessionCallbacks = (*Manager)(nil)

// OnAgentRunning transitions the session to Running. It is the reader
// task's first action (runner.go's readTask), fired before the task has
// any chance to observe a cancellation — so a session already terminal
// (e.g. StopAgent raced ahead of it) must not be revived.
func (m *Manager) OnAgentRunning(sessionID string) {
	ctx := context.Background()

	sess, ok, err := m.repo.Get(ctx, sessionID)
	if err != nil || !ok {
		return
	}
	if sess.Status.Terminal() {
		return
	}

	if err := m.repo.UpdateStatus(ctx, sessionID, domain.SessionRunning, nil); err != nil {
		m.log.WithError(err).Error("failed to update session status to running")
		return
	}
	sess.Status = domain.SessionRunning
	m.emitStatusChanged(ctx, sess, nil)
}

// OnAgentMessage emits a MessageEvent and appends the entry to the log
// repository.
func (m *Manager) OnAgentMessage(sessionID string, msgType domain.MessageType, redactedContent string, timestamp time.Time) {
	ctx := context.Background()
	if err := m.emitter.EmitMessage(ctx, domain.MessageEvent{
		SessionID:   sessionID,
		MessageType: msgType,
		Content:     redactedContent,
		Timestamp:   timestamp,
	}); err != nil {
		m.log.WithError(err).Warn("failed to emit message event")
	}
	m.logs.Append(ctx, sessionID, msgType, redactedContent, timestamp)
}

// OnAgentUsage atomically increments the session's cumulative token
// counters and emits UsageUpdate with the new totals.
func (m *Manager) OnAgentUsage(sessionID string, inputDelta, outputDelta int64) {
	ctx := context.Background()
	totalIn, totalOut, err := m.repo.UpdateUsage(ctx, sessionID, inputDelta, outputDelta)
	if err != nil {
		m.log.WithError(err).Error("failed to update session usage")
		return
	}
	sess, ok, err := m.repo.Get(ctx, sessionID)
	if err != nil || !ok {
		return
	}
	if err := m.emitter.EmitUsageUpdate(ctx, domain.UsageUpdateEvent{
		SessionID:    sessionID,
		InputTokens:  totalIn,
		OutputTokens: totalOut,
		CostUSD:      sess.CostUSD,
	}); err != nil {
		m.log.WithError(err).Warn("failed to emit usage update event")
	}
}

// OnAgentCost sets the session's cost, authoritatively overwriting any
// prior value.
func (m *Manager) OnAgentCost(sessionID string, costUSD float64) {
	ctx := context.Background()
	if err := m.repo.UpdateCost(ctx, sessionID, costUSD); err != nil {
		m.log.WithError(err).Error("failed to update session cost")
	}
}

// OnRateLimited emits a RateLimited event. It does not change session
// status on its own.
func (m *Manager) OnRateLimited(sessionID string, resetAt *time.Time, rawText string) {
	ctx := context.Background()
	if err := m.emitter.EmitRateLimited(ctx, domain.RateLimitedEvent{
		SessionID:  sessionID,
		ResetAt:    resetAt,
		RawMessage: rawText,
	}); err != nil {
		m.log.WithError(err).Warn("failed to emit rate limited event")
	}
}

// OnAgentFinished sets the session's terminal status, flushes the log
// buffer, and emits the final StatusChanged. A session already in a
// terminal status (e.g. because StopAgent raced this callback) is left
// untouched — whichever writer arrives first wins.
func (m *Manager) OnAgentFinished(sessionID string, finalStatus domain.SessionStatus) {
	ctx := context.Background()

	sess, ok, err := m.repo.Get(ctx, sessionID)
	if err != nil || !ok {
		return
	}
	if sess.Status.Terminal() {
		return
	}

	ended := time.Now()
	if err := m.repo.UpdateStatus(ctx, sessionID, finalStatus, &ended); err != nil {
		m.log.WithError(err).Error("failed to update session status on finish")
		return
	}
	m.logs.Flush(ctx)

	sess.Status = finalStatus
	sess.EndTime = &ended
	m.emitStatusChanged(ctx, sess, &ended)
}
