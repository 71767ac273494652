package conversation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yago-healz/clinic-core/internal/event"
)

// Conversation event types.
const (
	TypeStarted         event.Type = "ConversationStarted"
	TypeMessageSent     event.Type = "MessageSent"
	TypeMessageReceived event.Type = "MessageReceived"
	TypeIntentDetected  event.Type = "IntentDetected"
	TypeEscalated       event.Type = "ConversationEscalated"
	TypeResolved        event.Type = "ConversationResolved"
	TypeAbandoned       event.Type = "ConversationAbandoned"
)

// Types lists every event type this aggregate emits.
func Types() []event.Type {
	return []event.Type{
		TypeStarted, TypeMessageSent, TypeMessageReceived,
		TypeIntentDetected, TypeEscalated, TypeResolved, TypeAbandoned,
	}
}

// Started is emitted when a conversation opens.
type Started struct {
	PatientID string    `json:"patient_id"`
	Channel   string    `json:"channel"`
	StartedAt time.Time `json:"started_at"`
}

func (Started) EventType() event.Type { return TypeStarted }

// MessageSent is emitted for every outbound message, bot or agent.
type MessageSent struct {
	MessageID string    `json:"message_id"`
	Content   string    `json:"content"`
	SentBy    Sender    `json:"sent_by"`
	SentAt    time.Time `json:"sent_at"`
}

func (MessageSent) EventType() event.Type { return TypeMessageSent }

// MessageReceived is emitted for every inbound patient message.
type MessageReceived struct {
	MessageID  string    `json:"message_id"`
	Content    string    `json:"content"`
	ReceivedAt time.Time `json:"received_at"`
}

func (MessageReceived) EventType() event.Type { return TypeMessageReceived }

// IntentDetected is a pure observation of what the patient wants.
type IntentDetected struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

func (IntentDetected) EventType() event.Type { return TypeIntentDetected }

// Escalated is emitted when the conversation is handed to a human.
type Escalated struct {
	AssignedTo  string    `json:"assigned_to,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	EscalatedAt time.Time `json:"escalated_at"`
}

func (Escalated) EventType() event.Type { return TypeEscalated }

// Resolved is emitted when the conversation closes.
type Resolved struct {
	Resolution string    `json:"resolution,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

func (Resolved) EventType() event.Type { return TypeResolved }

// Abandoned is emitted when the patient goes silent for good.
type Abandoned struct {
	AbandonedAt time.Time `json:"abandoned_at"`
}

func (Abandoned) EventType() event.Type { return TypeAbandoned }

func decodePayload(t event.Type, data []byte) (event.Payload, error) {
	switch t {
	case TypeStarted:
		return decode[Started](data)
	case TypeMessageSent:
		return decode[MessageSent](data)
	case TypeMessageReceived:
		return decode[MessageReceived](data)
	case TypeIntentDetected:
		return decode[IntentDetected](data)
	case TypeEscalated:
		return decode[Escalated](data)
	case TypeResolved:
		return decode[Resolved](data)
	case TypeAbandoned:
		return decode[Abandoned](data)
	default:
		return nil, fmt.Errorf("unknown event type in conversation stream: %s", t)
	}
}

func decode[P event.Payload](data []byte) (event.Payload, error) {
	var p P
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", p.EventType(), err)
	}
	return p, nil
}
