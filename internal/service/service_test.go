package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/yago-healz/clinic-core/internal/event"
	"github.com/yago-healz/clinic-core/internal/eventbus"
	"github.com/yago-healz/clinic-core/internal/eventstore"
	"github.com/yago-healz/clinic-core/internal/eventstore/memory"
)

// recordingBus captures published events synchronously, so tests assert on
// them without the timing of a real pub/sub.
type recordingBus struct {
	mux    sync.Mutex
	events []event.Event
}

func (b *recordingBus) Subscribe(eventType event.Type, h eventbus.Handler) error { return nil }

func (b *recordingBus) Publish(ctx context.Context, e event.Event) error {
	return b.PublishMany(ctx, []event.Event{e})
}

func (b *recordingBus) PublishMany(ctx context.Context, events []event.Event) error {
	b.mux.Lock()
	defer b.mux.Unlock()
	b.events = append(b.events, events...)
	return nil
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) published() []event.Event {
	b.mux.Lock()
	defer b.mux.Unlock()
	out := make([]event.Event, len(b.events))
	copy(out, b.events)
	return out
}

// contendedStore injects version conflicts on the first appends, simulating
// a concurrent writer that got there first.
type contendedStore struct {
	*memory.Store
	mux       sync.Mutex
	conflicts int
}

func (s *contendedStore) Append(ctx context.Context, events ...event.Event) error {
	s.mux.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mux.Unlock()
		return &eventstore.VersionConflictError{
			AggregateType: events[0].AggregateType,
			AggregateID:   events[0].AggregateID,
			Expected:      events[0].Version,
			Actual:        events[0].Version,
		}
	}
	s.mux.Unlock()
	return s.Store.Append(ctx, events...)
}

// fixedOverlap answers the slot check with a preset verdict.
type fixedOverlap struct {
	taken bool
	calls int
}

func (f *fixedOverlap) HasOverlap(ctx context.Context, tenantID, doctorID string, start time.Time, durationMinutes int) (bool, error) {
	f.calls++
	return f.taken, nil
}
