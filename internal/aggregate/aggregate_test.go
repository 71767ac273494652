package aggregate_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yago-healz/clinic-core/internal/aggregate"
	"github.com/yago-healz/clinic-core/internal/event"
)

const counterType event.AggregateType = "counter"

type incremented struct {
	By int `json:"by"`
}

func (incremented) EventType() event.Type { return "Incremented" }

type broken struct{}

func (broken) EventType() event.Type { return "Broken" }

var errBroken = errors.New("cannot apply")

// counter is a minimal aggregate exercising the Root contract.
type counter struct {
	aggregate.Root
	Total int
}

func (c *counter) Apply(e event.Event) error {
	switch p := e.Payload.(type) {
	case incremented:
		c.Total += p.By
	case broken:
		return errBroken
	default:
		return errors.New("unknown event")
	}
	return nil
}

func TestRecordAppliesAndBuffers(t *testing.T) {
	c := &counter{Root: aggregate.Root{ID: "c1"}}
	meta := event.Meta{TenantID: "t1", CorrelationID: "corr-1"}

	require.NoError(t, c.Record(c, counterType, incremented{By: 2}, meta))
	require.NoError(t, c.Record(c, counterType, incremented{By: 3}, meta))

	assert.Equal(t, 5, c.Total)
	assert.Equal(t, 2, c.Version)

	events := c.UncommittedEvents()
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Version)
	assert.Equal(t, 2, events[1].Version)
	assert.Equal(t, "c1", events[0].AggregateID)
	assert.Equal(t, counterType, events[0].AggregateType)
	assert.Equal(t, "t1", events[0].TenantID)
	assert.Equal(t, "corr-1", events[0].CorrelationID)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].CreatedAt.IsZero())
	assert.JSONEq(t, `{"by":2}`, string(events[0].Data))
}

func TestRecordFailedApplyLeavesRootUntouched(t *testing.T) {
	c := &counter{Root: aggregate.Root{ID: "c1"}}

	require.NoError(t, c.Record(c, counterType, incremented{By: 1}, event.Meta{}))
	err := c.Record(c, counterType, broken{}, event.Meta{})
	require.ErrorIs(t, err, errBroken)

	assert.Equal(t, 1, c.Version)
	assert.Len(t, c.UncommittedEvents(), 1)
}

func TestLoadReplaysDeterministically(t *testing.T) {
	src := &counter{Root: aggregate.Root{ID: "c1"}}
	for _, by := range []int{1, 2, 3} {
		require.NoError(t, src.Record(src, counterType, incremented{By: by}, event.Meta{}))
	}
	history := src.UncommittedEvents()

	first := &counter{Root: aggregate.Root{ID: "c1"}}
	require.NoError(t, first.Load(first, history))
	second := &counter{Root: aggregate.Root{ID: "c1"}}
	require.NoError(t, second.Load(second, history))

	assert.Equal(t, first.Total, second.Total)
	assert.Equal(t, 6, first.Total)
	assert.Equal(t, 3, first.Version)
	assert.Empty(t, first.UncommittedEvents(), "replay must not repopulate the pending buffer")
}

func TestLoadTracksSparseVersions(t *testing.T) {
	history := []event.Event{
		{Type: "Incremented", Version: 2, Payload: incremented{By: 1}},
		{Type: "Incremented", Version: 7, Payload: incremented{By: 1}},
	}

	c := &counter{Root: aggregate.Root{ID: "c1"}}
	require.NoError(t, c.Load(c, history))
	assert.Equal(t, 7, c.Version)
}

func TestUncommittedEventsReturnsCopy(t *testing.T) {
	c := &counter{Root: aggregate.Root{ID: "c1"}}
	require.NoError(t, c.Record(c, counterType, incremented{By: 1}, event.Meta{}))

	events := c.UncommittedEvents()
	events[0].Version = 99
	assert.Equal(t, 1, c.UncommittedEvents()[0].Version)

	c.ClearUncommittedEvents()
	assert.Empty(t, c.UncommittedEvents())
}
