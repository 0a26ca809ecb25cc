package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdlbs/agentsupervisor/internal/common/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	log, err := logger.New(logger.Config{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

type collector struct {
	mu      sync.Mutex
	events  []Event
}

func (c *collector) record(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestMemoryBus_ExactSubjectMatch(t *testing.T) {
	bus := NewMemoryBus(testLogger(t))
	defer bus.Close()

	c := &collector{}
	_, err := bus.Subscribe("session.status_changed", c.record)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "session.status_changed", "payload"))

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestMemoryBus_NonMatchingSubjectIsNotDelivered(t *testing.T) {
	bus := NewMemoryBus(testLogger(t))
	defer bus.Close()

	c := &collector{}
	_, err := bus.Subscribe("session.status_changed", c.record)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "session.message", "payload"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, c.count())
}

func TestMemoryBus_SingleTokenWildcard(t *testing.T) {
	bus := NewMemoryBus(testLogger(t))
	defer bus.Close()

	c := &collector{}
	_, err := bus.Subscribe("session.*", c.record)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "session.status_changed", "a"))
	require.NoError(t, bus.Publish(context.Background(), "session.message", "b"))
	require.NoError(t, bus.Publish(context.Background(), "workflow.status_changed", "c"))

	require.Eventually(t, func() bool { return c.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestMemoryBus_MultiTokenWildcard(t *testing.T) {
	bus := NewMemoryBus(testLogger(t))
	defer bus.Close()

	c := &collector{}
	_, err := bus.Subscribe("session.>", c.record)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "session.status.changed.deep", "a"))

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestMemoryBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewMemoryBus(testLogger(t))
	defer bus.Close()

	c := &collector{}
	sub, err := bus.Subscribe("session.status_changed", c.record)
	require.NoError(t, err)

	sub.Unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), "session.status_changed", "payload"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, c.count())
}

func TestMemoryBus_CloseRejectsFurtherPublishAndSubscribe(t *testing.T) {
	bus := NewMemoryBus(testLogger(t))
	bus.Close()

	err := bus.Publish(context.Background(), "session.status_changed", "payload")
	assert.Error(t, err)

	_, err = bus.Subscribe("session.status_changed", func(context.Context, Event) error { return nil })
	assert.Error(t, err)
}

func TestMemoryBus_HandlerErrorDoesNotStallOtherSubscribers(t *testing.T) {
	bus := NewMemoryBus(testLogger(t))
	defer bus.Close()

	c := &collector{}
	_, err := bus.Subscribe("session.status_changed", func(ctx context.Context, e Event) error {
		return assert.AnError
	})
	require.NoError(t, err)
	_, err = bus.Subscribe("session.status_changed", c.record)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "session.status_changed", "payload"))

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
}
