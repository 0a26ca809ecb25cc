package memory

import (
	"context"
	"sync"

	"github.com/kdlbs/agentsupervisor/internal/domain"
)

// LogWriter implements logbuffer.Writer with an in-memory, per-session
// append-only slice. Used for tests and lightweight runs that skip
// SQLite entirely.
type LogWriter struct {
	mu      sync.RWMutex
	entries map[string][]domain.LogEntry
	nextID  int64
}

// NewLogWriter constructs an empty LogWriter.
func NewLogWriter() *LogWriter {
	return &LogWriter{entries: make(map[string][]domain.LogEntry)}
}

func (w *LogWriter) WriteBatch(ctx context.Context, entries []domain.LogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range entries {
		w.nextID++
		e.ID = w.nextID
		w.entries[e.SessionID] = append(w.entries[e.SessionID], e)
	}
	return nil
}

// QueryLogs returns entries in arrival order. A negative limit returns
// every entry from offset onward, matching the SQLite writer's
// negative-LIMIT-is-unbounded convention.
func (w *LogWriter) QueryLogs(ctx context.Context, sessionID string, offset, limit int) ([]domain.LogEntry, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	all := w.entries[sessionID]
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]

	if limit < 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]domain.LogEntry, limit)
	copy(out, all[:limit])
	return out, nil
}

func (w *LogWriter) CountLogs(ctx context.Context, sessionID string) (int64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return int64(len(w.entries[sessionID])), nil
}
