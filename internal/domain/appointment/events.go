package appointment

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yago-healz/clinic-core/internal/event"
)

// Appointment event types.
const (
	TypeScheduled   event.Type = "AppointmentScheduled"
	TypeConfirmed   event.Type = "AppointmentConfirmed"
	TypeCancelled   event.Type = "AppointmentCancelled"
	TypeRescheduled event.Type = "AppointmentRescheduled"
	TypeCompleted   event.Type = "AppointmentCompleted"
	TypeNoShow      event.Type = "AppointmentNoShow"
)

// Types lists every event type this aggregate emits.
func Types() []event.Type {
	return []event.Type{
		TypeScheduled, TypeConfirmed, TypeCancelled,
		TypeRescheduled, TypeCompleted, TypeNoShow,
	}
}

// Scheduled is emitted when an appointment is created.
type Scheduled struct {
	PatientID       string    `json:"patient_id"`
	DoctorID        string    `json:"doctor_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Reason          string    `json:"reason,omitempty"`
}

func (Scheduled) EventType() event.Type { return TypeScheduled }

// Confirmed is emitted when the patient confirms attendance.
type Confirmed struct {
	ConfirmedAt time.Time `json:"confirmed_at"`
}

func (Confirmed) EventType() event.Type { return TypeConfirmed }

// Cancelled is emitted when the appointment is released.
type Cancelled struct {
	Reason      string    `json:"reason,omitempty"`
	CancelledAt time.Time `json:"cancelled_at"`
}

func (Cancelled) EventType() event.Type { return TypeCancelled }

// Rescheduled is emitted when the appointment moves to a new time.
type Rescheduled struct {
	ScheduledAt         time.Time `json:"scheduled_at"`
	PreviousScheduledAt time.Time `json:"previous_scheduled_at"`
	Reason              string    `json:"reason,omitempty"`
}

func (Rescheduled) EventType() event.Type { return TypeRescheduled }

// Completed is emitted when the visit happened.
type Completed struct {
	CompletedAt time.Time `json:"completed_at"`
}

func (Completed) EventType() event.Type { return TypeCompleted }

// NoShowMarked is emitted when the patient did not attend.
type NoShowMarked struct {
	MarkedAt time.Time `json:"marked_at"`
}

func (NoShowMarked) EventType() event.Type { return TypeNoShow }

func decodePayload(t event.Type, data []byte) (event.Payload, error) {
	switch t {
	case TypeScheduled:
		return decode[Scheduled](data)
	case TypeConfirmed:
		return decode[Confirmed](data)
	case TypeCancelled:
		return decode[Cancelled](data)
	case TypeRescheduled:
		return decode[Rescheduled](data)
	case TypeCompleted:
		return decode[Completed](data)
	case TypeNoShow:
		return decode[NoShowMarked](data)
	default:
		return nil, fmt.Errorf("unknown event type in appointment stream: %s", t)
	}
}

func decode[P event.Payload](data []byte) (event.Payload, error) {
	var p P
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", p.EventType(), err)
	}
	return p, nil
}
