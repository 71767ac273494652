package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/yago-healz/clinic-core/internal/domain/journey"
	"github.com/yago-healz/clinic-core/internal/event"
)

// JourneyList maintains the patient-journey read model.
type JourneyList struct {
	db *sql.DB
}

func NewJourneyList(db *sql.DB) *JourneyList {
	return &JourneyList{db: db}
}

// EventTypes lists what this projection consumes.
func (p *JourneyList) EventTypes() []event.Type {
	return []event.Type{
		journey.TypeStarted,
		journey.TypeStageChanged,
		journey.TypeRiskDetected,
		journey.TypeRiskScoreRecalculated,
	}
}

func (p *JourneyList) Handle(ctx context.Context, e event.Event) error {
	switch e.Type {
	case journey.TypeStarted:
		var ev journey.Started
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", e.Type, err)
		}
		return p.exec(ctx, sq.Insert("journey_list").
			Columns("id", "tenant_id", "clinic_id", "patient_id", "stage", "version").
			Values(e.AggregateID, e.TenantID, e.ClinicID, ev.PatientID, string(ev.Stage), e.Version).
			Suffix("ON CONFLICT (id) DO NOTHING"))
	case journey.TypeStageChanged:
		var ev journey.StageChanged
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", e.Type, err)
		}
		return p.exec(ctx, p.update(e).Set("stage", string(ev.To)))
	case journey.TypeRiskDetected:
		var ev journey.RiskDetected
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", e.Type, err)
		}
		return p.exec(ctx, p.update(e).
			Set("risk_score", ev.Score).
			Set("risk_level", string(ev.Level)))
	case journey.TypeRiskScoreRecalculated:
		var ev journey.RiskScoreRecalculated
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", e.Type, err)
		}
		return p.exec(ctx, p.update(e).
			Set("risk_score", ev.Score).
			Set("risk_level", string(ev.Level)))
	default:
		return fmt.Errorf("unexpected event type for journey projection: %s", e.Type)
	}
}

func (p *JourneyList) update(e event.Event) sq.UpdateBuilder {
	return sq.Update("journey_list").
		Set("version", e.Version).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": e.AggregateID}).
		Where(sq.Lt{"version": e.Version})
}

func (p *JourneyList) exec(ctx context.Context, b sq.Sqlizer) error {
	query, args, err := withDollar(b)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update journey read model: %w", err)
	}
	return nil
}
