package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemhq/tandem/pkg/channels/gochannel"
	"github.com/tandemhq/tandem/pkg/eventbus"
	"github.com/tandemhq/tandem/pkg/events"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.SagaStarted, 1)

	require.NoError(t, bus.Handle(events.SagaStartedEvent, func(_ context.Context, event any) error {
		started, ok := event.(*events.SagaStarted)
		if ok {
			received <- started
		}

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	sent := events.SagaStarted{
		BaseEvent:      events.NewBaseEvent(events.SagaStartedEvent, "saga-1"),
		DefinitionName: "order-fulfillment",
		InitialContext: map[string]any{"order_id": "ord-1"},
	}
	require.NoError(t, bus.Publish(ctx, "saga-1", sent))

	select {
	case got := <-received:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, "saga-1", got.SagaID)
		assert.Equal(t, "order-fulfillment", got.DefinitionName)
		assert.Equal(t, "ord-1", got.InitialContext["order_id"])
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestSubscribeIgnoresUnhandledTypes(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.SagaCompleted, 1)

	require.NoError(t, bus.Handle(events.SagaCompletedEvent, func(_ context.Context, event any) error {
		completed, ok := event.(*events.SagaCompleted)
		if ok {
			received <- completed
		}

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered for step events; they must be acked and
	// dropped without blocking delivery of handled types.
	require.NoError(t, bus.Publish(ctx, "saga-1", events.StepSucceeded{
		BaseEvent: events.NewBaseEvent(events.StepSucceededEvent, "saga-1"),
		StepName:  "reserve",
	}))
	require.NoError(t, bus.Publish(ctx, "saga-1", events.SagaCompleted{
		BaseEvent:     events.NewBaseEvent(events.SagaCompletedEvent, "saga-1"),
		StepsExecuted: 1,
	}))

	select {
	case got := <-received:
		assert.Equal(t, 1, got.StepsExecuted)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestGenerateID(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
