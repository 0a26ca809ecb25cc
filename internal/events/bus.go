// Package events provides the in-memory (and optionally NATS-backed, see
// natsbus) pub/sub transport the domain layer publishes onto.
package events

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"
	"github.com/kdlbs/agentsupervisor/internal/common/logger"
)

// Event is one message on the bus. Data carries the typed domain event
// (StatusChangedEvent, MessageEvent, ...) — the bus itself is payload
// agnostic.
type Event struct {
	ID        string
	Subject   string
	Timestamp time.Time
	Data      interface{}
}

// Handler processes one delivered Event. A handler error is logged, never
// propagated — a dead subscriber must not stall publishers.
type Handler func(ctx context.Context, event Event) error

// Subscription is a live registration returned by Subscribe.
type Subscription interface {
	Unsubscribe()
}

// Bus is the minimal publish/subscribe surface the domain layer needs.
type Bus interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close()
}

type subscriber struct {
	subject string
	pattern *regexp.Regexp
	handler Handler
	mu      sync.Mutex
	active  bool
	bus     *MemoryBus
}

func (s *subscriber) Unsubscribe() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subscribers[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.subscribers[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// MemoryBus is the default EventEmitter transport: subject-pattern pub/sub
// with asynchronous, non-blocking dispatch. Handler errors are logged and
// swallowed (SPEC_FULL.md §7: event-emission failures are non-fatal).
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscriber
	closed      bool
	log         *logger.Logger
}

// NewMemoryBus constructs a MemoryBus.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	return &MemoryBus{
		subscribers: make(map[string][]*subscriber),
		log:         log.WithFields(zap.String("component", "eventbus")),
	}
}

// Publish dispatches data to every subscription whose subject pattern
// matches subject. Delivery is asynchronous: Publish never blocks on a
// handler.
func (b *MemoryBus) Publish(ctx context.Context, subject string, data interface{}) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	event := Event{ID: uuid.NewString(), Subject: subject, Timestamp: time.Now(), Data: data}

	for pattern, subs := range b.subscribers {
		if !subjectMatches(subject, pattern) {
			continue
		}
		for _, sub := range subs {
			sub.mu.Lock()
			active := sub.active
			sub.mu.Unlock()
			if !active {
				continue
			}
			go func(h Handler) {
				if err := h(ctx, event); err != nil {
					b.log.WithError(err).Warn("event handler error", zap.String("subject", subject))
				}
			}(sub.handler)
		}
	}

	return nil
}

// Subscribe registers handler against subject (exact match, or a
// NATS-style `*`/`>` wildcard pattern).
func (b *MemoryBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	sub := &subscriber{subject: subject, pattern: compilePattern(subject), handler: handler, active: true, bus: b}
	b.subscribers[subject] = append(b.subscribers[subject], sub)
	return sub, nil
}

// Close deactivates every subscription.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, subs := range b.subscribers {
		for _, sub := range subs {
			sub.mu.Lock()
			sub.active = false
			sub.mu.Unlock()
		}
	}
	b.subscribers = make(map[string][]*subscriber)
}

func subjectMatches(subject, pattern string) bool {
	if !strings.ContainsAny(pattern, "*>") {
		return subject == pattern
	}
	re := compilePattern(pattern)
	return re != nil && re.MatchString(subject)
}

func compilePattern(pattern string) *regexp.Regexp {
	if !strings.ContainsAny(pattern, "*>") {
		return nil
	}
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `[^.]+`)
	escaped = strings.ReplaceAll(escaped, `\>`, `.+`)
	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil
	}
	return re
}
