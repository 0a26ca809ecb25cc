// Package natsbus is the optional NATS-backed events.Bus, selected when
// NATSConfig.URL is non-empty.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kdlbs/agentsupervisor/internal/common/logger"
	"github.com/kdlbs/agentsupervisor/internal/domain"
	"github.com/kdlbs/agentsupervisor/internal/events"
)

// subjectTypes maps each fixed subject to a constructor for its payload,
// so a received JSON envelope can be unmarshaled back into the correct
// domain event type.
var subjectTypes = map[string]func() interface{}{
	events.SubjectStatusChanged: func() interface{} { return &domain.StatusChangedEvent{} },
	events.SubjectMessage:       func() interface{} { return &domain.MessageEvent{} },
	events.SubjectUsageUpdate:   func() interface{} { return &domain.UsageUpdateEvent{} },
	events.SubjectRateLimited:   func() interface{} { return &domain.RateLimitedEvent{} },
}

// Bus implements events.Bus over a NATS connection.
type Bus struct {
	conn *nats.Conn
	log  *logger.Logger
}

// Connect dials url and returns a ready Bus.
func Connect(url, clientID string, maxReconnects int) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.Name(clientID),
		nats.MaxReconnects(maxReconnects),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Bus{conn: conn}, nil
}

// WithLogger attaches a logger for handler-error reporting.
func (b *Bus) WithLogger(log *logger.Logger) *Bus {
	b.log = log
	return b
}

var _ events.Bus = (*Bus)(nil)

// Publish marshals data as JSON and publishes it to subject.
func (b *Bus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event for subject %s: %w", subject, err)
	}
	return b.conn.Publish(subject, payload)
}

type subscription struct {
	sub *nats.Subscription
}

func (s *subscription) Unsubscribe() {
	_ = s.sub.Unsubscribe()
}

// Subscribe decodes each message's JSON payload into the domain type
// registered for subject and invokes handler.
func (b *Bus) Subscribe(subject string, handler events.Handler) (events.Subscription, error) {
	newPayload, known := subjectTypes[subject]

	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var data interface{}
		if known {
			payload := newPayload()
			if err := json.Unmarshal(msg.Data, payload); err != nil {
				if b.log != nil {
					b.log.WithError(err).Warn("failed to decode nats event payload")
				}
				return
			}
			data = derefPayload(payload)
		} else {
			data = msg.Data
		}

		event := events.Event{Subject: subject, Timestamp: time.Now(), Data: data}
		if err := handler(context.Background(), event); err != nil && b.log != nil {
			b.log.WithError(err).Warn("nats event handler error")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	return &subscription{sub: sub}, nil
}

// Close closes the underlying connection; pending messages are not drained.
func (b *Bus) Close() {
	b.conn.Close()
}

func derefPayload(payload interface{}) interface{} {
	switch v := payload.(type) {
	case *domain.StatusChangedEvent:
		return *v
	case *domain.MessageEvent:
		return *v
	case *domain.UsageUpdateEvent:
		return *v
	case *domain.RateLimitedEvent:
		return *v
	default:
		return payload
	}
}
