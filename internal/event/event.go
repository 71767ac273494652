package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the shape of an event payload (e.g. "AppointmentScheduled").
type Type string

// AggregateType identifies which kind of entity a stream belongs to.
type AggregateType string

// Payload is implemented by every domain event payload. The set of payloads
// per aggregate is closed: each aggregate decodes its own types and rejects
// anything else.
type Payload interface {
	EventType() Type
}

// Meta carries the request-scoped attribution recorded on every event.
type Meta struct {
	TenantID      string
	ClinicID      string
	CorrelationID string
	CausationID   string
	UserID        string
}

// Event is an immutable domain fact. Once appended to the store it is never
// mutated or deleted; an aggregate's state is the fold of its events in
// version order.
type Event struct {
	ID            string        `json:"event_id"`
	Type          Type          `json:"event_type"`
	AggregateType AggregateType `json:"aggregate_type"`
	AggregateID   string        `json:"aggregate_id"`
	Version       int           `json:"aggregate_version"`
	TenantID      string        `json:"tenant_id"`
	ClinicID      string        `json:"clinic_id"`
	CorrelationID string        `json:"correlation_id"`
	CausationID   string        `json:"causation_id,omitempty"`
	UserID        string        `json:"user_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`

	// Data is the JSON-encoded payload, the form that travels through the
	// store and the bus.
	Data json.RawMessage `json:"event_data"`

	// Payload is the typed form of Data. It is set on freshly recorded
	// events and left nil on events read back from the store until the
	// owning aggregate decodes it.
	Payload Payload `json:"-"`
}

// New builds an event envelope around a payload. Version is the position the
// event will occupy in its stream (1-based).
func New(aggregateType AggregateType, aggregateID string, version int, payload Payload, meta Meta) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", payload.EventType(), err)
	}

	return Event{
		ID:            uuid.NewString(),
		Type:          payload.EventType(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Version:       version,
		TenantID:      meta.TenantID,
		ClinicID:      meta.ClinicID,
		CorrelationID: meta.CorrelationID,
		CausationID:   meta.CausationID,
		UserID:        meta.UserID,
		CreatedAt:     time.Now().UTC(),
		Data:          data,
		Payload:       payload,
	}, nil
}
