package event_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yago-healz/clinic-core/internal/event"
)

type registered struct {
	Name string `json:"name"`
}

func (registered) EventType() event.Type { return "PatientRegistered" }

func TestNewBuildsEnvelope(t *testing.T) {
	meta := event.Meta{
		TenantID:      "t1",
		ClinicID:      "clinic-1",
		CorrelationID: "corr-1",
		CausationID:   "cause-1",
		UserID:        "u1",
	}

	e, err := event.New("patient", "p1", 1, registered{Name: "Ana"}, meta)
	require.NoError(t, err)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, event.Type("PatientRegistered"), e.Type)
	assert.Equal(t, event.AggregateType("patient"), e.AggregateType)
	assert.Equal(t, "p1", e.AggregateID)
	assert.Equal(t, 1, e.Version)
	assert.Equal(t, "t1", e.TenantID)
	assert.Equal(t, "cause-1", e.CausationID)
	assert.Equal(t, "u1", e.UserID)
	assert.False(t, e.CreatedAt.IsZero())
	assert.JSONEq(t, `{"name":"Ana"}`, string(e.Data))
	assert.Equal(t, registered{Name: "Ana"}, e.Payload)
}

func TestEnvelopeJSONRoundTrip(t *testing.T) {
	e, err := event.New("patient", "p1", 3, registered{Name: "Ana"}, event.Meta{TenantID: "t1"})
	require.NoError(t, err)

	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded event.Event
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, e.Version, decoded.Version)
	assert.JSONEq(t, string(e.Data), string(decoded.Data))
	assert.Nil(t, decoded.Payload, "the typed payload never crosses a serialization boundary")
}

func TestDistinctIDsPerEvent(t *testing.T) {
	a, err := event.New("patient", "p1", 1, registered{}, event.Meta{})
	require.NoError(t, err)
	b, err := event.New("patient", "p1", 2, registered{}, event.Meta{})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}
