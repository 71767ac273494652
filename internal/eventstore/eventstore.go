package eventstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/yago-healz/clinic-core/internal/event"
)

// ErrNotFound indicates an empty event stream for a requested aggregate id.
var ErrNotFound = errors.New("aggregate not found")

// VersionConflictError is returned by Append when an event's version is not
// exactly one greater than the highest version stored for its aggregate.
// Callers must reload the stream, re-run the command, and retry. Never
// overwrite.
type VersionConflictError struct {
	AggregateType event.AggregateType
	AggregateID   string
	Expected      int
	Actual        int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s %s: expected version %d, stream is at %d",
		e.AggregateType, e.AggregateID, e.Expected, e.Actual)
}

// IsVersionConflict reports whether err is an optimistic-concurrency failure.
func IsVersionConflict(err error) bool {
	var conflict *VersionConflictError
	return errors.As(err, &conflict)
}

// Page bounds paginated queries.
type Page struct {
	Limit  int
	Offset int
}

// Store is the append-only durable log of domain events. Appends are atomic:
// if any event in a call fails version validation, none are persisted. The
// store never triggers projections; publishing is the bus's job, so replays
// and backfills can read or append without side effects firing twice.
type Store interface {
	// Append durably persists events, preserving input order within the call.
	Append(ctx context.Context, events ...event.Event) error

	// ByAggregate returns a stream ordered by version ascending. An empty
	// result means the aggregate does not exist; callers map it to ErrNotFound.
	ByAggregate(ctx context.Context, aggregateType event.AggregateType, aggregateID string) ([]event.Event, error)

	// ByCorrelation returns all events in one causal workflow, across
	// aggregates, ordered by created_at ascending.
	ByCorrelation(ctx context.Context, correlationID string) ([]event.Event, error)

	// ByType returns events of one type, most recent first.
	ByType(ctx context.Context, eventType event.Type, page Page) ([]event.Event, error)

	// ByTenant returns a tenant's events, most recent first.
	ByTenant(ctx context.Context, tenantID string, page Page) ([]event.Event, error)
}
