package controlapi

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kdlbs/agentsupervisor/internal/domain"
	"github.com/kdlbs/agentsupervisor/internal/events"
)

// SessionEventSource lets the API subscribe to the raw event bus without
// depending on the bus's concrete transport (in-memory or NATS).
type SessionEventSource interface {
	Subscribe(subject string, handler events.Handler) (events.Subscription, error)
}

// sessionScopedSubjects is every subject whose payload carries a SessionID
// field, in the order §6 lists the event kinds.
var sessionScopedSubjects = []string{
	events.SubjectStatusChanged,
	events.SubjectMessage,
	events.SubjectUsageUpdate,
	events.SubjectRateLimited,
}

func sessionIDOf(data interface{}) (string, bool) {
	switch v := data.(type) {
	case domain.StatusChangedEvent:
		return v.SessionID, true
	case domain.MessageEvent:
		return v.SessionID, true
	case domain.UsageUpdateEvent:
		return v.SessionID, true
	case domain.RateLimitedEvent:
		return v.SessionID, true
	default:
		return "", false
	}
}

// streamSessionEvents serves Server-Sent Events for exactly one session
// id, fed by a subscription to every event-bearing subject filtered to
// that id.
func (h *Handlers) streamSessionEvents(c *gin.Context) {
	sessionID := c.Param("id")

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	out := make(chan []byte, 16)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var subs []events.Subscription
	for _, subject := range sessionScopedSubjects {
		subject := subject
		sub, err := h.events.Subscribe(subject, func(_ context.Context, ev events.Event) error {
			id, ok := sessionIDOf(ev.Data)
			if !ok || id != sessionID {
				return nil
			}
			payload, err := json.Marshal(gin.H{"subject": subject, "data": ev.Data})
			if err != nil {
				return nil
			}
			select {
			case out <- payload:
			case <-ctx.Done():
			default:
				// slow client: drop rather than block the publisher goroutine
			}
			return nil
		})
		if err != nil {
			h.log.WithError(err).Error("failed to subscribe session event stream")
			continue
		}
		subs = append(subs, sub)
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	c.Stream(func(w io.Writer) bool {
		select {
		case payload := <-out:
			w.Write([]byte("data: "))
			w.Write(payload)
			w.Write([]byte("\n\n"))
			return true
		case <-time.After(15 * time.Second):
			w.Write([]byte(": keepalive\n\n"))
			return true
		case <-ctx.Done():
			return false
		}
	})
}
