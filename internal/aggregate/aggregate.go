package aggregate

import (
	"fmt"

	"github.com/yago-healz/clinic-core/internal/event"
)

// Aggregate is implemented by every domain aggregate. Apply mutates in-memory
// state from an event and must be a pure function of (prior state, event):
// replaying the same stream twice always yields identical state.
type Aggregate interface {
	Apply(e event.Event) error
}

// Root provides the base behavior shared by all aggregates: apply-and-record,
// replay from history, and the uncommitted-event buffer. Concrete aggregates
// embed it and change state only through Record; commands never write fields
// directly.
type Root struct {
	ID       string
	TenantID string
	ClinicID string
	Version  int

	uncommitted []event.Event
}

// Record builds an envelope for payload at the next version, applies it, and
// buffers it for the command handler to persist. If Apply fails, nothing is
// recorded and the version is unchanged.
func (r *Root) Record(agg Aggregate, aggregateType event.AggregateType, payload event.Payload, meta event.Meta) error {
	e, err := event.New(aggregateType, r.ID, r.Version+1, payload, meta)
	if err != nil {
		return err
	}
	if err := agg.Apply(e); err != nil {
		return fmt.Errorf("failed to apply %s: %w", e.Type, err)
	}
	r.Version = e.Version
	r.uncommitted = append(r.uncommitted, e)
	return nil
}

// Load replays history through the aggregate. Version tracks each event's own
// aggregate_version rather than a local counter, so sparse legacy streams
// replay without assuming gapless application-side counting. The uncommitted
// buffer is reset.
func (r *Root) Load(agg Aggregate, history []event.Event) error {
	for _, e := range history {
		if err := agg.Apply(e); err != nil {
			return fmt.Errorf("failed to replay %s at version %d: %w", e.Type, e.Version, err)
		}
		r.Version = e.Version
	}
	r.uncommitted = nil
	return nil
}

// UncommittedEvents returns a copy of the pending-write buffer.
func (r *Root) UncommittedEvents() []event.Event {
	out := make([]event.Event, len(r.uncommitted))
	copy(out, r.uncommitted)
	return out
}

// ClearUncommittedEvents empties the buffer after the events are persisted.
func (r *Root) ClearUncommittedEvents() {
	r.uncommitted = nil
}
