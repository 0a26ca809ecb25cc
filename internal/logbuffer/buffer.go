// Package logbuffer implements write-behind persistence for LogEntries:
// a size-triggered drain at 100 entries and a 500ms ticker-triggered
// flush, coordinated so Stop waits for both to settle.
package logbuffer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kdlbs/agentsupervisor/internal/common/logger"
	"github.com/kdlbs/agentsupervisor/internal/domain"
)

// batchThreshold is the entry count that triggers an immediate drain.
const batchThreshold = 100

// flushInterval is how often the ticker drains the buffer regardless of
// fill level.
const flushInterval = 500 * time.Millisecond

type pendingEntry struct {
	sessionID string
	msgType   domain.MessageType
	content   string
	timestamp time.Time
}

// Writer is the durable sink the Buffer drains batches into. A single
// entry point (WriteBatch) keeps the buffer decoupled from any specific
// SQL dialect.
type Writer interface {
	WriteBatch(ctx context.Context, entries []domain.LogEntry) error
	QueryLogs(ctx context.Context, sessionID string, offset, limit int) ([]domain.LogEntry, error)
	CountLogs(ctx context.Context, sessionID string) (int64, error)
}

// Buffer implements domain.LogRepository with write-behind batching.
type Buffer struct {
	writer Writer
	log    *logger.Logger

	mu      sync.Mutex
	pending []pendingEntry

	stopCh chan struct{}
	group  errgroup.Group
}

var _ domain.LogRepository = (*Buffer)(nil)

// New constructs a Buffer and starts its periodic flush ticker.
func New(writer Writer, log *logger.Logger) *Buffer {
	b := &Buffer{
		writer: writer,
		log:    log.WithFields(zap.String("component", "logbuffer")),
		stopCh: make(chan struct{}),
	}
	b.group.Go(b.tickerLoop)
	return b
}

// Append buffers the entry; it never blocks on I/O. Reaching the batch
// threshold triggers a detached drain.
func (b *Buffer) Append(ctx context.Context, sessionID string, msgType domain.MessageType, content string, timestamp time.Time) {
	b.mu.Lock()
	b.pending = append(b.pending, pendingEntry{sessionID, msgType, content, timestamp})
	shouldDrain := len(b.pending) >= batchThreshold
	b.mu.Unlock()

	if shouldDrain {
		b.group.Go(func() error {
			b.drain(context.Background())
			return nil
		})
	}
}

// Flush drains whatever is currently buffered. Safe to call from session
// termination and graceful shutdown as well as from the ticker.
func (b *Buffer) Flush(ctx context.Context) {
	b.drain(ctx)
}

func (b *Buffer) drain(ctx context.Context) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	entries := make([]domain.LogEntry, len(batch))
	for i, p := range batch {
		entries[i] = domain.LogEntry{
			SessionID:   p.sessionID,
			MessageType: p.msgType,
			Content:     p.content,
			Timestamp:   p.timestamp,
		}
	}

	// Durability policy: a drain failure is visible in logs and the batch
	// is dropped, not re-queued — see SPEC_FULL.md §4.4.
	if err := b.writer.WriteBatch(ctx, entries); err != nil {
		b.log.WithError(err).Error("log batch drain failed, entries dropped", zap.Int("count", len(entries)))
	}
}

func (b *Buffer) tickerLoop() error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return nil
		case <-ticker.C:
			b.drain(context.Background())
		}
	}
}

// QueryLogs reads through to the writer.
func (b *Buffer) QueryLogs(ctx context.Context, sessionID string, offset, limit int) ([]domain.LogEntry, error) {
	return b.writer.QueryLogs(ctx, sessionID, offset, limit)
}

// CountLogs reads through to the writer.
func (b *Buffer) CountLogs(ctx context.Context, sessionID string) (int64, error) {
	return b.writer.CountLogs(ctx, sessionID)
}

// Stop ends the ticker loop and waits for it, plus any in-flight drains,
// to finish. Call during graceful shutdown after a final Flush.
func (b *Buffer) Stop() error {
	close(b.stopCh)
	return b.group.Wait()
}
