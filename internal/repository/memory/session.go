// Package memory holds in-memory port implementations, used for tests and
// for lightweight runs that don't need durable storage.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kdlbs/agentsupervisor/internal/domain"
)

// SessionRepository stores sessions in a guarded map. Grounded on the
// original implementation's InMemorySessionRepository (HashMap<String,
// AgentSession> behind a single lock).
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
}

var _ domain.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository constructs an empty SessionRepository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]domain.Session)}
}

func (r *SessionRepository) Save(ctx context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, sessionID string) (domain.Session, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok, nil
}

func (r *SessionRepository) List(ctx context.Context) ([]domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (r *SessionRepository) UpdateStatus(ctx context.Context, sessionID string, status domain.SessionStatus, endedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	s.Status = status
	s.EndTime = endedAt
	r.sessions[sessionID] = s
	return nil
}

func (r *SessionRepository) UpdateUsage(ctx context.Context, sessionID string, inputDelta, outputDelta int64) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return 0, 0, nil
	}
	s.InputTokens += inputDelta
	s.OutputTokens += outputDelta
	r.sessions[sessionID] = s
	return s.InputTokens, s.OutputTokens, nil
}

func (r *SessionRepository) UpdateCost(ctx context.Context, sessionID string, costUSD float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	s.CostUSD = costUSD
	r.sessions[sessionID] = s
	return nil
}
