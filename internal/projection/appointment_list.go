package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/yago-healz/clinic-core/internal/domain/appointment"
	"github.com/yago-healz/clinic-core/internal/event"
)

// AppointmentList maintains the appointment read model and answers the
// doctor-level slot-overlap question for the application layer.
type AppointmentList struct {
	db *sql.DB
}

func NewAppointmentList(db *sql.DB) *AppointmentList {
	return &AppointmentList{db: db}
}

// EventTypes lists what this projection consumes.
func (p *AppointmentList) EventTypes() []event.Type {
	return []event.Type{
		appointment.TypeScheduled,
		appointment.TypeConfirmed,
		appointment.TypeCancelled,
		appointment.TypeRescheduled,
		appointment.TypeCompleted,
		appointment.TypeNoShow,
	}
}

func (p *AppointmentList) Handle(ctx context.Context, e event.Event) error {
	switch e.Type {
	case appointment.TypeScheduled:
		var ev appointment.Scheduled
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", e.Type, err)
		}
		return p.insert(ctx, e, ev)
	case appointment.TypeConfirmed:
		return p.setStatus(ctx, e, appointment.StatusConfirmed)
	case appointment.TypeCancelled:
		return p.setStatus(ctx, e, appointment.StatusCancelled)
	case appointment.TypeCompleted:
		return p.setStatus(ctx, e, appointment.StatusCompleted)
	case appointment.TypeNoShow:
		return p.setStatus(ctx, e, appointment.StatusNoShow)
	case appointment.TypeRescheduled:
		var ev appointment.Rescheduled
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", e.Type, err)
		}
		return p.exec(ctx, sq.Update("appointment_list").
			Set("scheduled_at", ev.ScheduledAt).
			Set("version", e.Version).
			Set("updated_at", sq.Expr("NOW()")).
			Where(sq.Eq{"id": e.AggregateID}).
			Where(sq.Lt{"version": e.Version}))
	default:
		return fmt.Errorf("unexpected event type for appointment projection: %s", e.Type)
	}
}

func (p *AppointmentList) insert(ctx context.Context, e event.Event, ev appointment.Scheduled) error {
	// ON CONFLICT keeps redelivery of the same event id harmless.
	return p.exec(ctx, sq.Insert("appointment_list").
		Columns("id", "tenant_id", "clinic_id", "patient_id", "doctor_id",
			"scheduled_at", "duration_minutes", "reason", "status", "version").
		Values(e.AggregateID, e.TenantID, e.ClinicID, ev.PatientID, ev.DoctorID,
			ev.ScheduledAt, ev.DurationMinutes, ev.Reason, string(appointment.StatusScheduled), e.Version).
		Suffix("ON CONFLICT (id) DO NOTHING"))
}

func (p *AppointmentList) setStatus(ctx context.Context, e event.Event, status appointment.Status) error {
	return p.exec(ctx, sq.Update("appointment_list").
		Set("status", string(status)).
		Set("version", e.Version).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": e.AggregateID}).
		Where(sq.Lt{"version": e.Version}))
}

func (p *AppointmentList) exec(ctx context.Context, b sq.Sqlizer) error {
	query, args, err := withDollar(b)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update appointment read model: %w", err)
	}
	return nil
}

// HasOverlap reports whether the doctor already has a live appointment
// overlapping [start, start+duration).
func (p *AppointmentList) HasOverlap(ctx context.Context, tenantID, doctorID string, start time.Time, durationMinutes int) (bool, error) {
	end := start.Add(time.Duration(durationMinutes) * time.Minute)

	query, args, err := sq.Select("COUNT(*)").
		From("appointment_list").
		Where(sq.Eq{"tenant_id": tenantID, "doctor_id": doctorID}).
		Where(sq.Eq{"status": []string{string(appointment.StatusScheduled), string(appointment.StatusConfirmed)}}).
		Where(sq.Lt{"scheduled_at": end}).
		Where(sq.Expr("scheduled_at + (duration_minutes || ' minutes')::interval > ?", start)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build overlap query: %w", err)
	}

	var count int
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check appointment overlap: %w", err)
	}
	return count > 0, nil
}

func withDollar(b sq.Sqlizer) (string, []interface{}, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build query: %w", err)
	}
	query, err = sq.Dollar.ReplacePlaceholders(query)
	if err != nil {
		return "", nil, fmt.Errorf("failed to rewrite placeholders: %w", err)
	}
	return query, args, nil
}
