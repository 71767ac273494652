package eventbus_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yago-healz/clinic-core/internal/event"
	"github.com/yago-healz/clinic-core/internal/eventbus"
)

type confirmed struct{}

func (confirmed) EventType() event.Type { return "AppointmentConfirmed" }

func makeEvent(t *testing.T, aggregateID string, version int) event.Event {
	t.Helper()
	e, err := event.New("appointment", aggregateID, version, confirmed{}, event.Meta{TenantID: "t1"})
	require.NoError(t, err)
	return e
}

func collect(t *testing.T, ch <-chan event.Event, n int) []event.Event {
	t.Helper()
	out := make([]event.Event, 0, n)
	for len(out) < n {
		select {
		case e := <-ch:
			out = append(out, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for events, got %d of %d", len(out), n)
		}
	}
	return out
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := eventbus.NewInProcess(slog.Default())
	defer bus.Close()

	received := make(chan event.Event, 1)
	err := bus.Subscribe("AppointmentConfirmed", eventbus.HandlerFunc(func(ctx context.Context, e event.Event) error {
		received <- e
		return nil
	}))
	require.NoError(t, err)

	src := makeEvent(t, "a1", 1)
	require.NoError(t, bus.Publish(context.Background(), src))

	got := collect(t, received, 1)[0]
	assert.Equal(t, src.ID, got.ID)
	assert.Equal(t, src.Type, got.Type)
	assert.Equal(t, src.AggregateID, got.AggregateID)
	assert.Equal(t, src.TenantID, got.TenantID)
	assert.JSONEq(t, string(src.Data), string(got.Data))
	assert.Nil(t, got.Payload, "the typed payload does not travel the wire")
}

func TestPublishManyPreservesOrderPerHandler(t *testing.T) {
	bus := eventbus.NewInProcess(slog.Default())
	defer bus.Close()

	received := make(chan event.Event, 16)
	err := bus.Subscribe("AppointmentConfirmed", eventbus.HandlerFunc(func(ctx context.Context, e event.Event) error {
		received <- e
		return nil
	}))
	require.NoError(t, err)

	events := make([]event.Event, 5)
	for i := range events {
		events[i] = makeEvent(t, "a1", i+1)
	}
	require.NoError(t, bus.PublishMany(context.Background(), events))

	got := collect(t, received, 5)
	for i, e := range got {
		assert.Equal(t, i+1, e.Version)
	}
}

func TestHandlerFailureDoesNotStopOthers(t *testing.T) {
	bus := eventbus.NewInProcess(slog.Default())
	defer bus.Close()

	failing := eventbus.HandlerFunc(func(ctx context.Context, e event.Event) error {
		return errors.New("projection is down")
	})
	require.NoError(t, bus.Subscribe("AppointmentConfirmed", failing))

	received := make(chan event.Event, 4)
	healthy := eventbus.HandlerFunc(func(ctx context.Context, e event.Event) error {
		received <- e
		return nil
	})
	require.NoError(t, bus.Subscribe("AppointmentConfirmed", healthy))

	for i := 1; i <= 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), makeEvent(t, "a1", i)))
	}

	got := collect(t, received, 3)
	assert.Equal(t, 3, got[2].Version)
}

func TestFailingHandlerKeepsConsuming(t *testing.T) {
	bus := eventbus.NewInProcess(slog.Default())
	defer bus.Close()

	received := make(chan int, 4)
	flaky := eventbus.HandlerFunc(func(ctx context.Context, e event.Event) error {
		received <- e.Version
		if e.Version == 1 {
			return fmt.Errorf("transient failure on %s", e.ID)
		}
		return nil
	})
	require.NoError(t, bus.Subscribe("AppointmentConfirmed", flaky))

	require.NoError(t, bus.PublishMany(context.Background(), []event.Event{
		makeEvent(t, "a1", 1),
		makeEvent(t, "a1", 2),
	}))

	versions := make([]int, 0, 2)
	for len(versions) < 2 {
		select {
		case v := <-received:
			versions = append(versions, v)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for deliveries")
		}
	}
	assert.Equal(t, []int{1, 2}, versions, "a handler error must not wedge its subscription")
}

func TestPublishManyOrderHoldsUnderLoad(t *testing.T) {
	bus := eventbus.NewInProcess(slog.Default())
	defer bus.Close()

	var mu sync.Mutex
	var versions []int
	err := bus.Subscribe("AppointmentConfirmed", eventbus.HandlerFunc(func(ctx context.Context, e event.Event) error {
		mu.Lock()
		versions = append(versions, e.Version)
		mu.Unlock()
		return nil
	}))
	require.NoError(t, err)

	const n = 200
	events := make([]event.Event, n)
	for i := range events {
		events[i] = makeEvent(t, "a1", i+1)
	}
	require.NoError(t, bus.PublishMany(context.Background(), events))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, versions, n)
	for i, v := range versions {
		require.Equalf(t, i+1, v, "delivery %d arrived out of order", i)
	}
}

type riskDetected struct{}

func (riskDetected) EventType() event.Type { return "RiskDetected" }

type stageChanged struct{}

func (stageChanged) EventType() event.Type { return "JourneyStageChanged" }

// A command can record events of two types in one append. A handler
// subscribed to both must see them in recorded order, or a version-guarded
// projection would discard the first one forever.
func TestMultiTypeHandlerSeesRecordedOrder(t *testing.T) {
	bus := eventbus.NewInProcess(slog.Default())
	defer bus.Close()

	var mu sync.Mutex
	var versions []int
	h := eventbus.HandlerFunc(func(ctx context.Context, e event.Event) error {
		mu.Lock()
		versions = append(versions, e.Version)
		mu.Unlock()
		return nil
	})
	require.NoError(t, bus.Subscribe("RiskDetected", h))
	require.NoError(t, bus.Subscribe("JourneyStageChanged", h))

	const pairs = 100
	for i := 0; i < pairs; i++ {
		first, err := event.New("patient_journey", "j1", 2*i+1, riskDetected{}, event.Meta{TenantID: "t1"})
		require.NoError(t, err)
		second, err := event.New("patient_journey", "j1", 2*i+2, stageChanged{}, event.Meta{TenantID: "t1"})
		require.NoError(t, err)
		require.NoError(t, bus.PublishMany(context.Background(), []event.Event{first, second}))
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, versions, 2*pairs)
	for i, v := range versions {
		require.Equalf(t, i+1, v, "delivery %d arrived out of order", i)
	}
}

func TestTopicsAreIsolatedByEventType(t *testing.T) {
	bus := eventbus.NewInProcess(slog.Default())
	defer bus.Close()

	received := make(chan event.Event, 1)
	require.NoError(t, bus.Subscribe("ConversationStarted", eventbus.HandlerFunc(func(ctx context.Context, e event.Event) error {
		received <- e
		return nil
	})))

	require.NoError(t, bus.Publish(context.Background(), makeEvent(t, "a1", 1)))

	select {
	case e := <-received:
		t.Fatalf("unexpected delivery of %s to another topic", e.Type)
	case <-time.After(100 * time.Millisecond):
	}
}
