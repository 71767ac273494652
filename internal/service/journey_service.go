package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/yago-healz/clinic-core/internal/domain/journey"
	"github.com/yago-healz/clinic-core/internal/event"
	"github.com/yago-healz/clinic-core/internal/eventbus"
	"github.com/yago-healz/clinic-core/internal/eventstore"
)

// JourneyService orchestrates patient-journey commands.
type JourneyService struct {
	store eventstore.Store
	bus   eventbus.Bus
}

func NewJourneyService(store eventstore.Store, bus eventbus.Bus) *JourneyService {
	return &JourneyService{store: store, bus: bus}
}

// Start opens a journey at the LEAD stage.
func (s *JourneyService) Start(ctx context.Context, id, patientID string, meta event.Meta) (*journey.Journey, error) {
	meta = ensureMeta(meta)
	if id == "" {
		id = uuid.NewString()
	}
	slog.Info("Starting patient journey", "journey_id", id, "patient_id", patientID)

	history, err := s.store.ByAggregate(ctx, journey.AggregateType, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load journey history: %w", err)
	}
	if len(history) > 0 {
		return nil, fmt.Errorf("journey %s: %w", id, ErrAlreadyExists)
	}

	j, err := journey.Start(id, patientID, meta)
	if err != nil {
		return nil, err
	}
	if err := commit(ctx, s.store, s.bus, &j.Root); err != nil {
		return nil, err
	}
	return j, nil
}

// TransitionTo moves the journey to a new stage.
func (s *JourneyService) TransitionTo(ctx context.Context, id string, stage journey.Stage, reason string, meta event.Meta) error {
	meta = ensureMeta(meta)
	return withConflictRetry(ctx, func() error {
		j, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := j.TransitionTo(stage, reason, meta); err != nil {
			return err
		}
		return commit(ctx, s.store, s.bus, &j.Root)
	})
}

// DetectRisk scores the factors and may move the journey to AT_RISK; both
// events are appended and published atomically from this one command.
func (s *JourneyService) DetectRisk(ctx context.Context, id string, factors []journey.RiskFactor, meta event.Meta) error {
	meta = ensureMeta(meta)
	return withConflictRetry(ctx, func() error {
		j, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := j.DetectRisk(factors, meta); err != nil {
			return err
		}
		return commit(ctx, s.store, s.bus, &j.Root)
	})
}

// RecalculateRiskScore refreshes the score without a stage change.
func (s *JourneyService) RecalculateRiskScore(ctx context.Context, id string, factors []journey.RiskFactor, meta event.Meta) error {
	meta = ensureMeta(meta)
	return withConflictRetry(ctx, func() error {
		j, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := j.RecalculateRiskScore(factors, meta); err != nil {
			return err
		}
		return commit(ctx, s.store, s.bus, &j.Root)
	})
}

// ReachMilestone records a named milestone; repeats are silent no-ops.
func (s *JourneyService) ReachMilestone(ctx context.Context, id, name string, meta event.Meta) error {
	meta = ensureMeta(meta)
	return withConflictRetry(ctx, func() error {
		j, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := j.ReachMilestone(name, meta); err != nil {
			return err
		}
		return commit(ctx, s.store, s.bus, &j.Root)
	})
}

// Get rehydrates the current journey state.
func (s *JourneyService) Get(ctx context.Context, id string) (*journey.Journey, error) {
	return s.load(ctx, id)
}

func (s *JourneyService) load(ctx context.Context, id string) (*journey.Journey, error) {
	history, err := s.store.ByAggregate(ctx, journey.AggregateType, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load journey history: %w", err)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("journey %s: %w", id, eventstore.ErrNotFound)
	}

	j := journey.New(id)
	if err := j.Rehydrate(history); err != nil {
		return nil, fmt.Errorf("failed to rehydrate journey: %w", err)
	}
	return j, nil
}
