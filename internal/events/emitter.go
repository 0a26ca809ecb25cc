package events

import (
	"context"

	"github.com/kdlbs/agentsupervisor/internal/domain"
)

const (
	SubjectStatusChanged = "session.status_changed"
	SubjectMessage       = "session.message"
	SubjectUsageUpdate   = "session.usage_update"
	SubjectRateLimited   = "session.rate_limited"
)

// Emitter adapts a Bus to domain.EventEmitter, publishing each typed event
// onto its fixed subject.
type Emitter struct {
	bus Bus
}

var _ domain.EventEmitter = (*Emitter)(nil)

// NewEmitter wraps bus as a domain.EventEmitter.
func NewEmitter(bus Bus) *Emitter {
	return &Emitter{bus: bus}
}

func (e *Emitter) EmitStatusChanged(ctx context.Context, event domain.StatusChangedEvent) error {
	return e.bus.Publish(ctx, SubjectStatusChanged, event)
}

func (e *Emitter) EmitMessage(ctx context.Context, event domain.MessageEvent) error {
	return e.bus.Publish(ctx, SubjectMessage, event)
}

func (e *Emitter) EmitUsageUpdate(ctx context.Context, event domain.UsageUpdateEvent) error {
	return e.bus.Publish(ctx, SubjectUsageUpdate, event)
}

func (e *Emitter) EmitRateLimited(ctx context.Context, event domain.RateLimitedEvent) error {
	return e.bus.Publish(ctx, SubjectRateLimited, event)
}

// SubscribeStatusChanged is the convenience the Workflow Engine uses to
// learn about step-session completion without depending on the bus's raw
// Event shape.
func (e *Emitter) SubscribeStatusChanged(handler func(ctx context.Context, event domain.StatusChangedEvent)) (Subscription, error) {
	return e.bus.Subscribe(SubjectStatusChanged, func(ctx context.Context, raw Event) error {
		if sc, ok := raw.Data.(domain.StatusChangedEvent); ok {
			handler(ctx, sc)
		}
		return nil
	})
}
