package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/yago-healz/clinic-core/internal/domain/patient"
	"github.com/yago-healz/clinic-core/internal/event"
	"github.com/yago-healz/clinic-core/internal/eventbus"
	"github.com/yago-healz/clinic-core/internal/eventstore"
)

// PatientService orchestrates patient commands.
type PatientService struct {
	store eventstore.Store
	bus   eventbus.Bus
}

func NewPatientService(store eventstore.Store, bus eventbus.Bus) *PatientService {
	return &PatientService{store: store, bus: bus}
}

// Register creates a patient record.
func (s *PatientService) Register(ctx context.Context, id string, input patient.RegisterInput, meta event.Meta) (*patient.Patient, error) {
	meta = ensureMeta(meta)
	if id == "" {
		id = uuid.NewString()
	}
	slog.Info("Registering patient", "patient_id", id)

	history, err := s.store.ByAggregate(ctx, patient.AggregateType, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load patient history: %w", err)
	}
	if len(history) > 0 {
		return nil, fmt.Errorf("patient %s: %w", id, ErrAlreadyExists)
	}

	p, err := patient.Register(id, input, meta)
	if err != nil {
		return nil, err
	}
	if err := commit(ctx, s.store, s.bus, &p.Root); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateContact replaces the patient's reachable addresses.
func (s *PatientService) UpdateContact(ctx context.Context, id, email, phone string, meta event.Meta) error {
	meta = ensureMeta(meta)
	return withConflictRetry(ctx, func() error {
		p, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := p.UpdateContact(email, phone, meta); err != nil {
			return err
		}
		return commit(ctx, s.store, s.bus, &p.Root)
	})
}

// Deactivate marks the record inactive.
func (s *PatientService) Deactivate(ctx context.Context, id, reason string, meta event.Meta) error {
	meta = ensureMeta(meta)
	return withConflictRetry(ctx, func() error {
		p, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := p.Deactivate(reason, meta); err != nil {
			return err
		}
		return commit(ctx, s.store, s.bus, &p.Root)
	})
}

// Reactivate restores a deactivated record.
func (s *PatientService) Reactivate(ctx context.Context, id string, meta event.Meta) error {
	meta = ensureMeta(meta)
	return withConflictRetry(ctx, func() error {
		p, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := p.Reactivate(meta); err != nil {
			return err
		}
		return commit(ctx, s.store, s.bus, &p.Root)
	})
}

// Get rehydrates the current patient state.
func (s *PatientService) Get(ctx context.Context, id string) (*patient.Patient, error) {
	return s.load(ctx, id)
}

func (s *PatientService) load(ctx context.Context, id string) (*patient.Patient, error) {
	history, err := s.store.ByAggregate(ctx, patient.AggregateType, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load patient history: %w", err)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("patient %s: %w", id, eventstore.ErrNotFound)
	}

	p := patient.New(id)
	if err := p.Rehydrate(history); err != nil {
		return nil, fmt.Errorf("failed to rehydrate patient: %w", err)
	}
	return p, nil
}
