package journey

import (
	"errors"
	"fmt"
	"time"

	"github.com/yago-healz/clinic-core/internal/aggregate"
	"github.com/yago-healz/clinic-core/internal/event"
)

// AggregateType tags every event in a patient-journey stream.
const AggregateType event.AggregateType = "patient_journey"

// Stage is a patient's position in the treatment funnel.
type Stage string

const (
	StageLead        Stage = "LEAD"
	StageEngaged     Stage = "ENGAGED"
	StageScheduled   Stage = "SCHEDULED"
	StageConfirmed   Stage = "CONFIRMED"
	StageInTreatment Stage = "IN_TREATMENT"
	StageAtRisk      Stage = "AT_RISK"
	StageCompleted   Stage = "COMPLETED"
	StageDropped     Stage = "DROPPED"
)

// allowedTransitions is the fixed table TransitionTo validates against.
var allowedTransitions = map[Stage][]Stage{
	StageLead:        {StageEngaged},
	StageEngaged:     {StageScheduled, StageAtRisk, StageDropped},
	StageScheduled:   {StageConfirmed},
	StageConfirmed:   {StageInTreatment},
	StageInTreatment: {StageCompleted},
	StageAtRisk:      {StageEngaged},
	StageDropped:     {StageEngaged},
}

// RiskFactor is a signal that a patient may drop out.
type RiskFactor string

const (
	RiskNoShow       RiskFactor = "NO_SHOW"
	RiskNoResponse   RiskFactor = "NO_RESPONSE_48H"
	RiskNotConfirmed RiskFactor = "NOT_CONFIRMED"
	RiskPaymentIssue RiskFactor = "PAYMENT_ISSUE"
)

// riskWeights maps factors to scores; the journey score is the maximum
// weight among the supplied factors. Unknown factors carry the base weight.
var riskWeights = map[RiskFactor]int{
	RiskNoShow:       100,
	RiskNoResponse:   70,
	RiskNotConfirmed: 50,
	RiskPaymentIssue: 40,
}

const baseRiskWeight = 25

// Level buckets a risk score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

var (
	ErrNoFactors = errors.New("at least one risk factor is required")
)

// InvalidTransitionError reports a stage pair outside the allowed table.
type InvalidTransitionError struct {
	From Stage
	To   Stage
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// StageRecord is one entry in the append-only stage history.
type StageRecord struct {
	Stage     Stage     `json:"stage"`
	Reason    string    `json:"reason,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// Journey tracks a patient through the treatment funnel.
type Journey struct {
	aggregate.Root

	PatientID    string
	Stage        Stage
	StageHistory []StageRecord
	RiskScore    int
	RiskLevel    Level
	Milestones   map[string]time.Time
}

// New returns an empty aggregate for the replay path.
func New(id string) *Journey {
	return &Journey{Root: aggregate.Root{ID: id}, Milestones: map[string]time.Time{}}
}

// Start opens a journey at the LEAD stage.
func Start(id, patientID string, meta event.Meta) (*Journey, error) {
	j := New(id)
	err := j.Record(j, AggregateType, Started{
		PatientID: patientID,
		Stage:     StageLead,
		StartedAt: time.Now().UTC(),
	}, meta)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// TransitionTo moves the journey to a new stage, validated against the fixed
// transition table.
func (j *Journey) TransitionTo(newStage Stage, reason string, meta event.Meta) error {
	if !transitionAllowed(j.Stage, newStage) {
		return &InvalidTransitionError{From: j.Stage, To: newStage}
	}
	return j.Record(j, AggregateType, StageChanged{
		From:      j.Stage,
		To:        newStage,
		Reason:    reason,
		ChangedAt: time.Now().UTC(),
	}, meta)
}

// DetectRisk scores the supplied factors and, unless the journey is already
// completed or at risk, moves the stage to AT_RISK. One command can record
// two events.
func (j *Journey) DetectRisk(factors []RiskFactor, meta event.Meta) error {
	if len(factors) == 0 {
		return ErrNoFactors
	}

	score := scoreFactors(factors)
	err := j.Record(j, AggregateType, RiskDetected{
		Factors:    factors,
		Score:      score,
		Level:      levelFor(score),
		DetectedAt: time.Now().UTC(),
	}, meta)
	if err != nil {
		return err
	}

	if j.Stage == StageCompleted || j.Stage == StageAtRisk {
		return nil
	}

	// The risk path bypasses the transition table: any non-terminal stage can
	// fall to AT_RISK.
	return j.Record(j, AggregateType, StageChanged{
		From:      j.Stage,
		To:        StageAtRisk,
		Reason:    "risk_detected",
		ChangedAt: time.Now().UTC(),
	}, meta)
}

// RecalculateRiskScore updates the score and level without touching the
// stage.
func (j *Journey) RecalculateRiskScore(factors []RiskFactor, meta event.Meta) error {
	if len(factors) == 0 {
		return ErrNoFactors
	}

	score := scoreFactors(factors)
	return j.Record(j, AggregateType, RiskScoreRecalculated{
		Factors:        factors,
		Score:          score,
		Level:          levelFor(score),
		RecalculatedAt: time.Now().UTC(),
	}, meta)
}

// ReachMilestone records a named milestone once. Repeat calls are silent
// no-ops: milestones are a set, not a log.
func (j *Journey) ReachMilestone(name string, meta event.Meta) error {
	if _, ok := j.Milestones[name]; ok {
		return nil
	}
	return j.Record(j, AggregateType, MilestoneReached{
		Name:      name,
		ReachedAt: time.Now().UTC(),
	}, meta)
}

// Apply mutates the aggregate from one event.
func (j *Journey) Apply(e event.Event) error {
	switch p := e.Payload.(type) {
	case Started:
		j.ID = e.AggregateID
		j.TenantID = e.TenantID
		j.ClinicID = e.ClinicID
		j.PatientID = p.PatientID
		j.Stage = p.Stage
		j.StageHistory = append(j.StageHistory, StageRecord{
			Stage:     p.Stage,
			Reason:    "journey_started",
			ChangedAt: p.StartedAt,
		})
	case StageChanged:
		j.Stage = p.To
		j.StageHistory = append(j.StageHistory, StageRecord{
			Stage:     p.To,
			Reason:    p.Reason,
			ChangedAt: p.ChangedAt,
		})
	case RiskDetected:
		j.RiskScore = p.Score
		j.RiskLevel = p.Level
	case RiskScoreRecalculated:
		j.RiskScore = p.Score
		j.RiskLevel = p.Level
	case MilestoneReached:
		if j.Milestones == nil {
			j.Milestones = map[string]time.Time{}
		}
		j.Milestones[p.Name] = p.ReachedAt
	default:
		return fmt.Errorf("unknown event type for Journey: %s", e.Type)
	}
	return nil
}

// Rehydrate rebuilds the aggregate from a persisted stream.
func (j *Journey) Rehydrate(history []event.Event) error {
	for i := range history {
		if history[i].Payload == nil {
			p, err := decodePayload(history[i].Type, history[i].Data)
			if err != nil {
				return err
			}
			history[i].Payload = p
		}
	}
	return j.Load(j, history)
}

func transitionAllowed(from, to Stage) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func scoreFactors(factors []RiskFactor) int {
	score := 0
	for _, f := range factors {
		weight, ok := riskWeights[f]
		if !ok {
			weight = baseRiskWeight
		}
		if weight > score {
			score = weight
		}
	}
	return score
}

func levelFor(score int) Level {
	switch {
	case score >= 80:
		return LevelCritical
	case score >= 60:
		return LevelHigh
	case score >= 40:
		return LevelMedium
	default:
		return LevelLow
	}
}
