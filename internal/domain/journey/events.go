package journey

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yago-healz/clinic-core/internal/event"
)

// Journey event types.
const (
	TypeStarted               event.Type = "JourneyStarted"
	TypeStageChanged          event.Type = "JourneyStageChanged"
	TypeRiskDetected          event.Type = "RiskDetected"
	TypeRiskScoreRecalculated event.Type = "RiskScoreRecalculated"
	TypeMilestoneReached      event.Type = "MilestoneReached"
)

// Types lists every event type this aggregate emits.
func Types() []event.Type {
	return []event.Type{
		TypeStarted, TypeStageChanged, TypeRiskDetected,
		TypeRiskScoreRecalculated, TypeMilestoneReached,
	}
}

// Started is emitted when a patient journey begins.
type Started struct {
	PatientID string    `json:"patient_id"`
	Stage     Stage     `json:"stage"`
	StartedAt time.Time `json:"started_at"`
}

func (Started) EventType() event.Type { return TypeStarted }

// StageChanged is emitted on every stage transition, including the automatic
// move to AT_RISK.
type StageChanged struct {
	From      Stage     `json:"from"`
	To        Stage     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

func (StageChanged) EventType() event.Type { return TypeStageChanged }

// RiskDetected is emitted when risk factors are evaluated.
type RiskDetected struct {
	Factors    []RiskFactor `json:"factors"`
	Score      int          `json:"score"`
	Level      Level        `json:"level"`
	DetectedAt time.Time    `json:"detected_at"`
}

func (RiskDetected) EventType() event.Type { return TypeRiskDetected }

// RiskScoreRecalculated is emitted when the score is refreshed without a
// stage change.
type RiskScoreRecalculated struct {
	Factors        []RiskFactor `json:"factors"`
	Score          int          `json:"score"`
	Level          Level        `json:"level"`
	RecalculatedAt time.Time    `json:"recalculated_at"`
}

func (RiskScoreRecalculated) EventType() event.Type { return TypeRiskScoreRecalculated }

// MilestoneReached is emitted the first time a named milestone is hit.
type MilestoneReached struct {
	Name      string    `json:"name"`
	ReachedAt time.Time `json:"reached_at"`
}

func (MilestoneReached) EventType() event.Type { return TypeMilestoneReached }

func decodePayload(t event.Type, data []byte) (event.Payload, error) {
	switch t {
	case TypeStarted:
		return decode[Started](data)
	case TypeStageChanged:
		return decode[StageChanged](data)
	case TypeRiskDetected:
		return decode[RiskDetected](data)
	case TypeRiskScoreRecalculated:
		return decode[RiskScoreRecalculated](data)
	case TypeMilestoneReached:
		return decode[MilestoneReached](data)
	default:
		return nil, fmt.Errorf("unknown event type in journey stream: %s", t)
	}
}

func decode[P event.Payload](data []byte) (event.Payload, error) {
	var p P
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", p.EventType(), err)
	}
	return p, nil
}
