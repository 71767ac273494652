package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yago-healz/clinic-core/internal/domain/appointment"
	"github.com/yago-healz/clinic-core/internal/event"
	"github.com/yago-healz/clinic-core/internal/eventbus"
	"github.com/yago-healz/clinic-core/internal/eventstore"
)

// ErrSlotTaken indicates the doctor already has an appointment overlapping
// the requested window.
var ErrSlotTaken = errors.New("doctor already has an appointment in this time slot")

// ConflictChecker answers the doctor-level slot-overlap question from a read
// model. The aggregate itself only enforces single-entity invariants, so this
// check runs in the application layer before the aggregate is invoked.
type ConflictChecker interface {
	HasOverlap(ctx context.Context, tenantID, doctorID string, start time.Time, durationMinutes int) (bool, error)
}

// AppointmentService orchestrates appointment commands: load, invoke the
// domain, append, publish.
type AppointmentService struct {
	store     eventstore.Store
	bus       eventbus.Bus
	conflicts ConflictChecker
}

// NewAppointmentService creates the appointment command handler. conflicts
// may be nil, disabling the slot-overlap check.
func NewAppointmentService(store eventstore.Store, bus eventbus.Bus, conflicts ConflictChecker) *AppointmentService {
	return &AppointmentService{store: store, bus: bus, conflicts: conflicts}
}

// Schedule creates an appointment. A generated id is used when the caller
// does not supply one.
func (s *AppointmentService) Schedule(ctx context.Context, id string, input appointment.ScheduleInput, meta event.Meta) (*appointment.Appointment, error) {
	meta = ensureMeta(meta)
	if id == "" {
		id = uuid.NewString()
	}
	slog.Info("Scheduling appointment", "appointment_id", id, "doctor_id", input.DoctorID, "scheduled_at", input.ScheduledAt)

	history, err := s.store.ByAggregate(ctx, appointment.AggregateType, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load appointment history: %w", err)
	}
	if len(history) > 0 {
		return nil, fmt.Errorf("appointment %s: %w", id, ErrAlreadyExists)
	}

	if s.conflicts != nil {
		taken, err := s.conflicts.HasOverlap(ctx, meta.TenantID, input.DoctorID, input.ScheduledAt, input.DurationMinutes)
		if err != nil {
			return nil, fmt.Errorf("failed to check schedule conflicts: %w", err)
		}
		if taken {
			return nil, ErrSlotTaken
		}
	}

	a, err := appointment.Schedule(id, input, meta)
	if err != nil {
		return nil, err
	}
	if err := commit(ctx, s.store, s.bus, &a.Root); err != nil {
		return nil, err
	}
	return a, nil
}

// Confirm moves a scheduled appointment to confirmed.
func (s *AppointmentService) Confirm(ctx context.Context, id string, meta event.Meta) error {
	meta = ensureMeta(meta)
	return withConflictRetry(ctx, func() error {
		a, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := a.Confirm(meta); err != nil {
			return err
		}
		return commit(ctx, s.store, s.bus, &a.Root)
	})
}

// Cancel releases the appointment.
func (s *AppointmentService) Cancel(ctx context.Context, id, reason string, meta event.Meta) error {
	meta = ensureMeta(meta)
	return withConflictRetry(ctx, func() error {
		a, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := a.Cancel(reason, meta); err != nil {
			return err
		}
		return commit(ctx, s.store, s.bus, &a.Root)
	})
}

// Reschedule moves the appointment to a new time.
func (s *AppointmentService) Reschedule(ctx context.Context, id string, newTime time.Time, reason string, meta event.Meta) error {
	meta = ensureMeta(meta)
	return withConflictRetry(ctx, func() error {
		a, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if s.conflicts != nil {
			taken, err := s.conflicts.HasOverlap(ctx, meta.TenantID, a.DoctorID, newTime, a.DurationMinutes)
			if err != nil {
				return fmt.Errorf("failed to check schedule conflicts: %w", err)
			}
			if taken {
				return ErrSlotTaken
			}
		}
		if err := a.Reschedule(newTime, reason, meta); err != nil {
			return err
		}
		return commit(ctx, s.store, s.bus, &a.Root)
	})
}

// Complete marks the visit as having happened.
func (s *AppointmentService) Complete(ctx context.Context, id string, meta event.Meta) error {
	meta = ensureMeta(meta)
	return withConflictRetry(ctx, func() error {
		a, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := a.Complete(meta); err != nil {
			return err
		}
		return commit(ctx, s.store, s.bus, &a.Root)
	})
}

// MarkNoShow records that the patient did not attend.
func (s *AppointmentService) MarkNoShow(ctx context.Context, id string, meta event.Meta) error {
	meta = ensureMeta(meta)
	return withConflictRetry(ctx, func() error {
		a, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := a.MarkNoShow(meta); err != nil {
			return err
		}
		return commit(ctx, s.store, s.bus, &a.Root)
	})
}

// Get rehydrates the current appointment state.
func (s *AppointmentService) Get(ctx context.Context, id string) (*appointment.Appointment, error) {
	return s.load(ctx, id)
}

func (s *AppointmentService) load(ctx context.Context, id string) (*appointment.Appointment, error) {
	history, err := s.store.ByAggregate(ctx, appointment.AggregateType, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load appointment history: %w", err)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("appointment %s: %w", id, eventstore.ErrNotFound)
	}

	a := appointment.New(id)
	if err := a.Rehydrate(history); err != nil {
		return nil, fmt.Errorf("failed to rehydrate appointment: %w", err)
	}
	return a, nil
}
