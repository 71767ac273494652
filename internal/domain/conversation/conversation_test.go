package conversation_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yago-healz/clinic-core/internal/domain/conversation"
	"github.com/yago-healz/clinic-core/internal/event"
)

var testMeta = event.Meta{TenantID: "t1", ClinicID: "clinic-1", CorrelationID: "corr-1"}

func start(t *testing.T) *conversation.Conversation {
	t.Helper()
	c, err := conversation.Start("conv1", "p1", "whatsapp", testMeta)
	require.NoError(t, err)
	return c
}

func TestStart(t *testing.T) {
	c := start(t)
	assert.Equal(t, conversation.StatusActive, c.Status)
	assert.Equal(t, "p1", c.PatientID)
	assert.Equal(t, "whatsapp", c.Channel)
	assert.Equal(t, "t1", c.TenantID)
	require.Len(t, c.UncommittedEvents(), 1)
	assert.Equal(t, conversation.TypeStarted, c.UncommittedEvents()[0].Type)
}

func TestBotMessageLimit(t *testing.T) {
	c := start(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.SendMessage(fmt.Sprintf("m%d", i), "hello", conversation.SenderBot, testMeta))
	}
	assert.ErrorIs(t, c.SendMessage("m3", "hello again", conversation.SenderBot, testMeta), conversation.ErrBotMessageLimit)

	// A patient reply resets the counter and reopens the bot's window.
	require.NoError(t, c.ReceiveMessage("m4", "hi", testMeta))
	for i := 5; i < 8; i++ {
		require.NoError(t, c.SendMessage(fmt.Sprintf("m%d", i), "hello", conversation.SenderBot, testMeta))
	}
	assert.ErrorIs(t, c.SendMessage("m8", "hello", conversation.SenderBot, testMeta), conversation.ErrBotMessageLimit)

	assert.Equal(t, 7, c.MessageCount)
}

func TestAgentMessagesResetBotCounter(t *testing.T) {
	c := start(t)

	require.NoError(t, c.SendMessage("m1", "hi", conversation.SenderBot, testMeta))
	require.NoError(t, c.SendMessage("m2", "hi", conversation.SenderBot, testMeta))
	require.NoError(t, c.SendMessage("m3", "let me take over", conversation.SenderAgent, testMeta))
	assert.Equal(t, 0, c.ConsecutiveBotMessages)

	require.NoError(t, c.SendMessage("m4", "hi", conversation.SenderBot, testMeta))
	assert.Equal(t, 1, c.ConsecutiveBotMessages)
}

func TestAgentMessagesUnlimitedWhenEscalated(t *testing.T) {
	c := start(t)
	require.NoError(t, c.Escalate("agent-7", "patient asked for a human", testMeta))
	assert.Equal(t, conversation.StatusEscalated, c.Status)
	assert.Equal(t, "agent-7", c.AssignedTo)

	for i := 0; i < 10; i++ {
		require.NoError(t, c.SendMessage(fmt.Sprintf("m%d", i), "reply", conversation.SenderAgent, testMeta))
	}
}

func TestResolvedConversationRejectsMessages(t *testing.T) {
	c := start(t)
	require.NoError(t, c.Resolve("appointment booked", testMeta))
	assert.Equal(t, conversation.StatusResolved, c.Status)

	assert.ErrorIs(t, c.SendMessage("m1", "hi", conversation.SenderAgent, testMeta), conversation.ErrResolved)
	assert.ErrorIs(t, c.ReceiveMessage("m2", "hi", testMeta), conversation.ErrResolved)
	assert.ErrorIs(t, c.Escalate("", "", testMeta), conversation.ErrResolved)
	assert.ErrorIs(t, c.Resolve("again", testMeta), conversation.ErrAlreadyResolved)
}

func TestEscalateGuards(t *testing.T) {
	c := start(t)
	require.NoError(t, c.Escalate("", "bot stuck", testMeta))
	assert.ErrorIs(t, c.Escalate("", "again", testMeta), conversation.ErrAlreadyEscalated)

	// Escalated conversations can still be resolved.
	require.NoError(t, c.Resolve("handled by human", testMeta))
}

func TestAbandonOnlyFromActive(t *testing.T) {
	c := start(t)
	require.NoError(t, c.Abandon(testMeta))
	assert.Equal(t, conversation.StatusAbandoned, c.Status)

	e := start(t)
	require.NoError(t, e.Escalate("", "", testMeta))
	assert.ErrorIs(t, e.Abandon(testMeta), conversation.ErrNotActive)
}

func TestDetectIntentChangesNoState(t *testing.T) {
	c := start(t)
	before := *c
	require.NoError(t, c.DetectIntent("schedule_appointment", 0.93, testMeta))

	assert.Equal(t, before.Status, c.Status)
	assert.Equal(t, before.MessageCount, c.MessageCount)
	assert.Equal(t, before.ConsecutiveBotMessages, c.ConsecutiveBotMessages)
	assert.Equal(t, before.Version+1, c.Version, "the observation still lands in the history")

	events := c.UncommittedEvents()
	assert.Equal(t, conversation.TypeIntentDetected, events[len(events)-1].Type)
}

func TestRehydrateFromStoredStream(t *testing.T) {
	src := start(t)
	require.NoError(t, src.SendMessage("m1", "hello", conversation.SenderBot, testMeta))
	require.NoError(t, src.SendMessage("m2", "anyone?", conversation.SenderBot, testMeta))
	require.NoError(t, src.ReceiveMessage("m3", "yes", testMeta))
	require.NoError(t, src.Escalate("agent-1", "complex question", testMeta))

	history := src.UncommittedEvents()
	for i := range history {
		history[i].Payload = nil
	}

	c := conversation.New("conv1")
	require.NoError(t, c.Rehydrate(history))

	assert.Equal(t, conversation.StatusEscalated, c.Status)
	assert.Equal(t, "agent-1", c.AssignedTo)
	assert.Equal(t, 3, c.MessageCount)
	assert.Equal(t, 0, c.ConsecutiveBotMessages)
	assert.Equal(t, src.Version, c.Version)
}
