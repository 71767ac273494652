package appointment

import (
	"errors"
	"fmt"
	"time"

	"github.com/yago-healz/clinic-core/internal/aggregate"
	"github.com/yago-healz/clinic-core/internal/event"
)

// AggregateType tags every event in an appointment stream.
const AggregateType event.AggregateType = "appointment"

// Status is the appointment lifecycle state.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// Duration bounds in minutes.
const (
	MinDurationMinutes = 1
	MaxDurationMinutes = 480
)

var (
	ErrPastSchedule      = errors.New("appointment must be scheduled in the future")
	ErrInvalidDuration   = fmt.Errorf("duration must be between %d and %d minutes", MinDurationMinutes, MaxDurationMinutes)
	ErrNotConfirmable    = errors.New("only a scheduled appointment can be confirmed")
	ErrAlreadyCancelled  = errors.New("appointment is already cancelled")
	ErrCancelCompleted   = errors.New("cannot cancel completed appointment")
	ErrNotReschedulable  = errors.New("only a scheduled or confirmed appointment can be rescheduled")
	ErrNotCompletable    = errors.New("only a scheduled or confirmed appointment can be completed")
	ErrNoShowNotEligible = errors.New("only a scheduled or confirmed appointment can be marked no-show")
)

// Appointment is the in-memory projection of one appointment stream. The
// doctor-level time-slot conflict check lives in the application layer;
// the aggregate only enforces single-entity invariants.
type Appointment struct {
	aggregate.Root

	PatientID       string
	DoctorID        string
	ScheduledAt     time.Time
	DurationMinutes int
	Reason          string
	Status          Status
}

// New returns an empty aggregate for the replay path. Business creation goes
// through Schedule.
func New(id string) *Appointment {
	return &Appointment{Root: aggregate.Root{ID: id}}
}

// ScheduleInput describes a new appointment.
type ScheduleInput struct {
	PatientID       string
	DoctorID        string
	ScheduledAt     time.Time
	DurationMinutes int
	Reason          string
}

// Schedule creates an appointment, emitting its first event.
func Schedule(id string, input ScheduleInput, meta event.Meta) (*Appointment, error) {
	if !input.ScheduledAt.After(time.Now()) {
		return nil, ErrPastSchedule
	}
	if input.DurationMinutes < MinDurationMinutes || input.DurationMinutes > MaxDurationMinutes {
		return nil, ErrInvalidDuration
	}

	a := New(id)
	err := a.Record(a, AggregateType, Scheduled{
		PatientID:       input.PatientID,
		DoctorID:        input.DoctorID,
		ScheduledAt:     input.ScheduledAt,
		DurationMinutes: input.DurationMinutes,
		Reason:          input.Reason,
	}, meta)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Confirm moves a scheduled appointment to confirmed.
func (a *Appointment) Confirm(meta event.Meta) error {
	if a.Status != StatusScheduled {
		return ErrNotConfirmable
	}
	return a.Record(a, AggregateType, Confirmed{ConfirmedAt: time.Now().UTC()}, meta)
}

// Cancel releases the appointment.
func (a *Appointment) Cancel(reason string, meta event.Meta) error {
	if a.Status == StatusCancelled {
		return ErrAlreadyCancelled
	}
	if a.Status == StatusCompleted {
		return ErrCancelCompleted
	}
	return a.Record(a, AggregateType, Cancelled{Reason: reason, CancelledAt: time.Now().UTC()}, meta)
}

// Reschedule moves the appointment to a new future time. Status is kept.
func (a *Appointment) Reschedule(newTime time.Time, reason string, meta event.Meta) error {
	if a.Status != StatusScheduled && a.Status != StatusConfirmed {
		return ErrNotReschedulable
	}
	if !newTime.After(time.Now()) {
		return ErrPastSchedule
	}
	return a.Record(a, AggregateType, Rescheduled{
		ScheduledAt:         newTime,
		PreviousScheduledAt: a.ScheduledAt,
		Reason:              reason,
	}, meta)
}

// Complete marks the visit as having happened.
func (a *Appointment) Complete(meta event.Meta) error {
	if a.Status != StatusScheduled && a.Status != StatusConfirmed {
		return ErrNotCompletable
	}
	return a.Record(a, AggregateType, Completed{CompletedAt: time.Now().UTC()}, meta)
}

// MarkNoShow records that the patient did not attend.
func (a *Appointment) MarkNoShow(meta event.Meta) error {
	if a.Status != StatusScheduled && a.Status != StatusConfirmed {
		return ErrNoShowNotEligible
	}
	return a.Record(a, AggregateType, NoShowMarked{MarkedAt: time.Now().UTC()}, meta)
}

// Apply mutates the aggregate from one event.
func (a *Appointment) Apply(e event.Event) error {
	switch p := e.Payload.(type) {
	case Scheduled:
		a.ID = e.AggregateID
		a.TenantID = e.TenantID
		a.ClinicID = e.ClinicID
		a.PatientID = p.PatientID
		a.DoctorID = p.DoctorID
		a.ScheduledAt = p.ScheduledAt
		a.DurationMinutes = p.DurationMinutes
		a.Reason = p.Reason
		a.Status = StatusScheduled
	case Confirmed:
		a.Status = StatusConfirmed
	case Cancelled:
		a.Status = StatusCancelled
	case Rescheduled:
		a.ScheduledAt = p.ScheduledAt
	case Completed:
		a.Status = StatusCompleted
	case NoShowMarked:
		a.Status = StatusNoShow
	default:
		return fmt.Errorf("unknown event type for Appointment: %s", e.Type)
	}
	return nil
}

// Rehydrate rebuilds the aggregate from a persisted stream.
func (a *Appointment) Rehydrate(history []event.Event) error {
	for i := range history {
		if history[i].Payload == nil {
			p, err := decodePayload(history[i].Type, history[i].Data)
			if err != nil {
				return err
			}
			history[i].Payload = p
		}
	}
	return a.Load(a, history)
}
