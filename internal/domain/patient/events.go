package patient

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yago-healz/clinic-core/internal/event"
)

// Patient event types.
const (
	TypeRegistered     event.Type = "PatientRegistered"
	TypeContactUpdated event.Type = "PatientContactUpdated"
	TypeDeactivated    event.Type = "PatientDeactivated"
	TypeReactivated    event.Type = "PatientReactivated"
)

// Types lists every event type this aggregate emits.
func Types() []event.Type {
	return []event.Type{
		TypeRegistered, TypeContactUpdated, TypeDeactivated, TypeReactivated,
	}
}

// Registered is emitted when a patient record is created.
type Registered struct {
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	DateOfBirth  string    `json:"date_of_birth,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

func (Registered) EventType() event.Type { return TypeRegistered }

// ContactUpdated is emitted when the patient's addresses change.
type ContactUpdated struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

func (ContactUpdated) EventType() event.Type { return TypeContactUpdated }

// Deactivated is emitted when the record is taken out of use.
type Deactivated struct {
	Reason        string    `json:"reason,omitempty"`
	DeactivatedAt time.Time `json:"deactivated_at"`
}

func (Deactivated) EventType() event.Type { return TypeDeactivated }

// Reactivated is emitted when a deactivated record is restored.
type Reactivated struct {
	ReactivatedAt time.Time `json:"reactivated_at"`
}

func (Reactivated) EventType() event.Type { return TypeReactivated }

func decodePayload(t event.Type, data []byte) (event.Payload, error) {
	switch t {
	case TypeRegistered:
		return decode[Registered](data)
	case TypeContactUpdated:
		return decode[ContactUpdated](data)
	case TypeDeactivated:
		return decode[Deactivated](data)
	case TypeReactivated:
		return decode[Reactivated](data)
	default:
		return nil, fmt.Errorf("unknown event type in patient stream: %s", t)
	}
}

func decode[P event.Payload](data []byte) (event.Payload, error) {
	var p P
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", p.EventType(), err)
	}
	return p, nil
}
