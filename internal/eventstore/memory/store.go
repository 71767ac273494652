package memory

import (
	"context"
	"sync"

	"github.com/yago-healz/clinic-core/internal/event"
	"github.com/yago-healz/clinic-core/internal/eventstore"
)

type streamKey struct {
	aggregateType event.AggregateType
	aggregateID   string
}

// Store is an in-memory event store with the same semantics as the Postgres
// one. Used by tests and local development.
type Store struct {
	mux     sync.Mutex
	streams map[streamKey][]event.Event
	log     []event.Event
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{streams: map[streamKey][]event.Event{}}
}

func (s *Store) Append(ctx context.Context, events ...event.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	// Validate the whole batch before committing any of it.
	current := map[streamKey]int{}
	for _, e := range events {
		key := streamKey{e.AggregateType, e.AggregateID}
		version, ok := current[key]
		if !ok {
			if stream := s.streams[key]; len(stream) > 0 {
				version = stream[len(stream)-1].Version
			}
		}

		if e.Version != version+1 {
			return &eventstore.VersionConflictError{
				AggregateType: e.AggregateType,
				AggregateID:   e.AggregateID,
				Expected:      e.Version,
				Actual:        version,
			}
		}
		current[key] = e.Version
	}

	for _, e := range events {
		key := streamKey{e.AggregateType, e.AggregateID}
		s.streams[key] = append(s.streams[key], e)
		s.log = append(s.log, e)
	}
	return nil
}

func (s *Store) ByAggregate(ctx context.Context, aggregateType event.AggregateType, aggregateID string) ([]event.Event, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	stream := s.streams[streamKey{aggregateType, aggregateID}]
	out := make([]event.Event, len(stream))
	copy(out, stream)
	return out, nil
}

func (s *Store) ByCorrelation(ctx context.Context, correlationID string) ([]event.Event, error) {
	return s.filter(func(e event.Event) bool { return e.CorrelationID == correlationID }, false, eventstore.Page{})
}

func (s *Store) ByType(ctx context.Context, eventType event.Type, page eventstore.Page) ([]event.Event, error) {
	return s.filter(func(e event.Event) bool { return e.Type == eventType }, true, page)
}

func (s *Store) ByTenant(ctx context.Context, tenantID string, page eventstore.Page) ([]event.Event, error) {
	return s.filter(func(e event.Event) bool { return e.TenantID == tenantID }, true, page)
}

// filter walks the log in append order, which matches created_at order; the
// appended sequence is the tiebreak for identical timestamps.
func (s *Store) filter(match func(event.Event) bool, newestFirst bool, page eventstore.Page) ([]event.Event, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	var out []event.Event
	for _, e := range s.log {
		if match(e) {
			out = append(out, e)
		}
	}

	if newestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}

	if page.Offset > 0 {
		if page.Offset >= len(out) {
			return nil, nil
		}
		out = out[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(out) {
		out = out[:page.Limit]
	}
	return out, nil
}
