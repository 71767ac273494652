package journey_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yago-healz/clinic-core/internal/domain/journey"
	"github.com/yago-healz/clinic-core/internal/event"
)

var testMeta = event.Meta{TenantID: "t1", ClinicID: "clinic-1", CorrelationID: "corr-1"}

func start(t *testing.T) *journey.Journey {
	t.Helper()
	j, err := journey.Start("j1", "p1", testMeta)
	require.NoError(t, err)
	return j
}

func TestStartOpensAtLead(t *testing.T) {
	j := start(t)
	assert.Equal(t, journey.StageLead, j.Stage)
	assert.Equal(t, "p1", j.PatientID)
	require.Len(t, j.StageHistory, 1)
	assert.Equal(t, journey.StageLead, j.StageHistory[0].Stage)
	assert.Equal(t, "journey_started", j.StageHistory[0].Reason)
}

func TestTransitionTable(t *testing.T) {
	j := start(t)

	require.NoError(t, j.TransitionTo(journey.StageEngaged, "first reply", testMeta))
	require.NoError(t, j.TransitionTo(journey.StageScheduled, "booked", testMeta))
	require.NoError(t, j.TransitionTo(journey.StageConfirmed, "", testMeta))
	require.NoError(t, j.TransitionTo(journey.StageInTreatment, "", testMeta))
	require.NoError(t, j.TransitionTo(journey.StageCompleted, "", testMeta))

	assert.Equal(t, journey.StageCompleted, j.Stage)
	assert.Len(t, j.StageHistory, 6)
}

func TestInvalidTransition(t *testing.T) {
	j := start(t)

	err := j.TransitionTo(journey.StageCompleted, "", testMeta)
	require.Error(t, err)

	var invalid *journey.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, journey.StageLead, invalid.From)
	assert.Equal(t, journey.StageCompleted, invalid.To)
	assert.EqualError(t, err, "invalid transition from LEAD to COMPLETED")

	// A failed transition leaves no trace.
	assert.Equal(t, journey.StageLead, j.Stage)
	assert.Equal(t, 1, j.Version)
}

func TestCompletedIsTerminal(t *testing.T) {
	j := start(t)
	require.NoError(t, j.TransitionTo(journey.StageEngaged, "", testMeta))
	require.NoError(t, j.TransitionTo(journey.StageScheduled, "", testMeta))
	require.NoError(t, j.TransitionTo(journey.StageConfirmed, "", testMeta))
	require.NoError(t, j.TransitionTo(journey.StageInTreatment, "", testMeta))
	require.NoError(t, j.TransitionTo(journey.StageCompleted, "", testMeta))

	for _, to := range []journey.Stage{
		journey.StageLead, journey.StageEngaged, journey.StageAtRisk, journey.StageDropped,
	} {
		var invalid *journey.InvalidTransitionError
		assert.ErrorAs(t, j.TransitionTo(to, "", testMeta), &invalid)
	}
}

func TestRecoveryPaths(t *testing.T) {
	j := start(t)
	require.NoError(t, j.TransitionTo(journey.StageEngaged, "", testMeta))
	require.NoError(t, j.TransitionTo(journey.StageAtRisk, "no response", testMeta))
	require.NoError(t, j.TransitionTo(journey.StageEngaged, "re-engaged", testMeta))
	require.NoError(t, j.TransitionTo(journey.StageDropped, "gave up", testMeta))
	require.NoError(t, j.TransitionTo(journey.StageEngaged, "came back", testMeta))
	assert.Equal(t, journey.StageEngaged, j.Stage)
}

func TestDetectRiskScoresAndMovesToAtRisk(t *testing.T) {
	j := start(t)
	require.NoError(t, j.TransitionTo(journey.StageEngaged, "", testMeta))
	versionBefore := j.Version

	require.NoError(t, j.DetectRisk([]journey.RiskFactor{journey.RiskNoShow, journey.RiskPaymentIssue}, testMeta))

	// The score is the worst factor, not a sum.
	assert.Equal(t, 100, j.RiskScore)
	assert.Equal(t, journey.LevelCritical, j.RiskLevel)
	assert.Equal(t, journey.StageAtRisk, j.Stage)
	assert.Equal(t, versionBefore+2, j.Version, "risk detection plus stage change")

	events := j.UncommittedEvents()
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, journey.TypeRiskDetected, events[len(events)-2].Type)
	assert.Equal(t, journey.TypeStageChanged, events[len(events)-1].Type)
	assert.Equal(t, "risk_detected", j.StageHistory[len(j.StageHistory)-1].Reason)
}

func TestDetectRiskWhenAlreadyAtRisk(t *testing.T) {
	j := start(t)
	require.NoError(t, j.TransitionTo(journey.StageEngaged, "", testMeta))
	require.NoError(t, j.DetectRisk([]journey.RiskFactor{journey.RiskNotConfirmed}, testMeta))
	require.Equal(t, journey.StageAtRisk, j.Stage)
	versionBefore := j.Version

	require.NoError(t, j.DetectRisk([]journey.RiskFactor{journey.RiskNoResponse}, testMeta))

	assert.Equal(t, 70, j.RiskScore)
	assert.Equal(t, journey.LevelHigh, j.RiskLevel)
	assert.Equal(t, versionBefore+1, j.Version, "no second stage change")
	assert.Equal(t, journey.StageAtRisk, j.Stage)
}

func TestDetectRiskOnCompletedJourneyKeepsStage(t *testing.T) {
	j := start(t)
	require.NoError(t, j.TransitionTo(journey.StageEngaged, "", testMeta))
	require.NoError(t, j.TransitionTo(journey.StageScheduled, "", testMeta))
	require.NoError(t, j.TransitionTo(journey.StageConfirmed, "", testMeta))
	require.NoError(t, j.TransitionTo(journey.StageInTreatment, "", testMeta))
	require.NoError(t, j.TransitionTo(journey.StageCompleted, "", testMeta))

	require.NoError(t, j.DetectRisk([]journey.RiskFactor{journey.RiskPaymentIssue}, testMeta))
	assert.Equal(t, journey.StageCompleted, j.Stage)
	assert.Equal(t, 40, j.RiskScore)
	assert.Equal(t, journey.LevelMedium, j.RiskLevel)
}

func TestDetectRiskRequiresFactors(t *testing.T) {
	j := start(t)
	assert.ErrorIs(t, j.DetectRisk(nil, testMeta), journey.ErrNoFactors)
}

func TestUnknownFactorCarriesBaseWeight(t *testing.T) {
	j := start(t)
	require.NoError(t, j.RecalculateRiskScore([]journey.RiskFactor{"SOMETHING_NEW"}, testMeta))
	assert.Equal(t, 25, j.RiskScore)
	assert.Equal(t, journey.LevelLow, j.RiskLevel)
}

func TestRecalculateRiskScoreKeepsStage(t *testing.T) {
	j := start(t)
	require.NoError(t, j.TransitionTo(journey.StageEngaged, "", testMeta))

	require.NoError(t, j.RecalculateRiskScore([]journey.RiskFactor{journey.RiskNoResponse}, testMeta))

	assert.Equal(t, 70, j.RiskScore)
	assert.Equal(t, journey.LevelHigh, j.RiskLevel)
	assert.Equal(t, journey.StageEngaged, j.Stage)

	assert.ErrorIs(t, j.RecalculateRiskScore(nil, testMeta), journey.ErrNoFactors)
}

func TestReachMilestoneIsIdempotent(t *testing.T) {
	j := start(t)

	require.NoError(t, j.ReachMilestone("first_visit", testMeta))
	versionAfter := j.Version
	require.NoError(t, j.ReachMilestone("first_visit", testMeta))

	assert.Equal(t, versionAfter, j.Version, "repeat milestone is a silent no-op")
	assert.Contains(t, j.Milestones, "first_visit")

	require.NoError(t, j.ReachMilestone("treatment_done", testMeta))
	assert.Len(t, j.Milestones, 2)
}

func TestRehydrateFromStoredStream(t *testing.T) {
	src := start(t)
	require.NoError(t, src.TransitionTo(journey.StageEngaged, "", testMeta))
	require.NoError(t, src.DetectRisk([]journey.RiskFactor{journey.RiskNoShow}, testMeta))
	require.NoError(t, src.ReachMilestone("first_contact", testMeta))

	history := src.UncommittedEvents()
	for i := range history {
		history[i].Payload = nil
	}

	j := journey.New("j1")
	require.NoError(t, j.Rehydrate(history))

	assert.Equal(t, journey.StageAtRisk, j.Stage)
	assert.Equal(t, 100, j.RiskScore)
	assert.Equal(t, journey.LevelCritical, j.RiskLevel)
	assert.Equal(t, src.Version, j.Version)
	assert.Len(t, j.StageHistory, 3)
	assert.Contains(t, j.Milestones, "first_contact")
}
