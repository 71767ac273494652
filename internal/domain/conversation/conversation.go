package conversation

import (
	"errors"
	"fmt"
	"time"

	"github.com/yago-healz/clinic-core/internal/aggregate"
	"github.com/yago-healz/clinic-core/internal/event"
)

// AggregateType tags every event in a conversation stream.
const AggregateType event.AggregateType = "conversation"

// Status is the conversation lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusEscalated Status = "escalated"
	StatusResolved  Status = "resolved"
	StatusAbandoned Status = "abandoned"
)

// Sender identifies who produced an outbound message.
type Sender string

const (
	SenderBot   Sender = "bot"
	SenderAgent Sender = "agent"
)

// maxConsecutiveBotMessages caps bot replies without patient or agent
// interleaving. The counter resets on any patient or agent message.
const maxConsecutiveBotMessages = 3

var (
	ErrBotMessageLimit  = fmt.Errorf("bot message limit reached: %d consecutive bot messages require human or patient interaction", maxConsecutiveBotMessages)
	ErrResolved         = errors.New("conversation is resolved")
	ErrAlreadyEscalated = errors.New("conversation is already escalated")
	ErrAlreadyResolved  = errors.New("conversation is already resolved")
	ErrNotActive        = errors.New("only an active conversation can be abandoned")
)

// Conversation is the in-memory projection of one conversation stream.
type Conversation struct {
	aggregate.Root

	PatientID              string
	Channel                string
	Status                 Status
	AssignedTo             string
	ConsecutiveBotMessages int
	MessageCount           int
}

// New returns an empty aggregate for the replay path.
func New(id string) *Conversation {
	return &Conversation{Root: aggregate.Root{ID: id}}
}

// Start opens a conversation with a patient on a channel.
func Start(id, patientID, channel string, meta event.Meta) (*Conversation, error) {
	c := New(id)
	err := c.Record(c, AggregateType, Started{
		PatientID: patientID,
		Channel:   channel,
		StartedAt: time.Now().UTC(),
	}, meta)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SendMessage records an outbound message. The fourth consecutive bot message
// in a row is rejected.
func (c *Conversation) SendMessage(messageID, content string, sentBy Sender, meta event.Meta) error {
	if c.Status == StatusResolved {
		return ErrResolved
	}
	if sentBy == SenderBot && c.ConsecutiveBotMessages >= maxConsecutiveBotMessages {
		return ErrBotMessageLimit
	}
	return c.Record(c, AggregateType, MessageSent{
		MessageID: messageID,
		Content:   content,
		SentBy:    sentBy,
		SentAt:    time.Now().UTC(),
	}, meta)
}

// ReceiveMessage records an inbound patient message, resetting the bot
// counter.
func (c *Conversation) ReceiveMessage(messageID, content string, meta event.Meta) error {
	if c.Status == StatusResolved {
		return ErrResolved
	}
	return c.Record(c, AggregateType, MessageReceived{
		MessageID:  messageID,
		Content:    content,
		ReceivedAt: time.Now().UTC(),
	}, meta)
}

// DetectIntent records an observed intent. Pure observation: no state field
// changes, only the history.
func (c *Conversation) DetectIntent(intent string, confidence float64, meta event.Meta) error {
	return c.Record(c, AggregateType, IntentDetected{
		Intent:     intent,
		Confidence: confidence,
	}, meta)
}

// Escalate hands the conversation to a human, optionally naming an assignee.
func (c *Conversation) Escalate(assignedTo, reason string, meta event.Meta) error {
	if c.Status == StatusEscalated {
		return ErrAlreadyEscalated
	}
	if c.Status == StatusResolved {
		return ErrResolved
	}
	return c.Record(c, AggregateType, Escalated{
		AssignedTo:  assignedTo,
		Reason:      reason,
		EscalatedAt: time.Now().UTC(),
	}, meta)
}

// Resolve closes the conversation.
func (c *Conversation) Resolve(resolution string, meta event.Meta) error {
	if c.Status == StatusResolved {
		return ErrAlreadyResolved
	}
	return c.Record(c, AggregateType, Resolved{
		Resolution: resolution,
		ResolvedAt: time.Now().UTC(),
	}, meta)
}

// Abandon records that the patient went silent.
func (c *Conversation) Abandon(meta event.Meta) error {
	if c.Status != StatusActive {
		return ErrNotActive
	}
	return c.Record(c, AggregateType, Abandoned{AbandonedAt: time.Now().UTC()}, meta)
}

// Apply mutates the aggregate from one event.
func (c *Conversation) Apply(e event.Event) error {
	switch p := e.Payload.(type) {
	case Started:
		c.ID = e.AggregateID
		c.TenantID = e.TenantID
		c.ClinicID = e.ClinicID
		c.PatientID = p.PatientID
		c.Channel = p.Channel
		c.Status = StatusActive
	case MessageSent:
		c.MessageCount++
		if p.SentBy == SenderBot {
			c.ConsecutiveBotMessages++
		} else {
			c.ConsecutiveBotMessages = 0
		}
	case MessageReceived:
		c.MessageCount++
		c.ConsecutiveBotMessages = 0
	case IntentDetected:
		// Observation only: the history records it, state does not change.
	case Escalated:
		c.Status = StatusEscalated
		c.AssignedTo = p.AssignedTo
	case Resolved:
		c.Status = StatusResolved
	case Abandoned:
		c.Status = StatusAbandoned
	default:
		return fmt.Errorf("unknown event type for Conversation: %s", e.Type)
	}
	return nil
}

// Rehydrate rebuilds the aggregate from a persisted stream.
func (c *Conversation) Rehydrate(history []event.Event) error {
	for i := range history {
		if history[i].Payload == nil {
			p, err := decodePayload(history[i].Type, history[i].Data)
			if err != nil {
				return err
			}
			history[i].Payload = p
		}
	}
	return c.Load(c, history)
}
