package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/yago-healz/clinic-core/internal/domain/conversation"
	"github.com/yago-healz/clinic-core/internal/event"
	"github.com/yago-healz/clinic-core/internal/eventbus"
	"github.com/yago-healz/clinic-core/internal/eventstore"
)

// ConversationService orchestrates conversation commands.
type ConversationService struct {
	store eventstore.Store
	bus   eventbus.Bus
}

func NewConversationService(store eventstore.Store, bus eventbus.Bus) *ConversationService {
	return &ConversationService{store: store, bus: bus}
}

// Start opens a conversation.
func (s *ConversationService) Start(ctx context.Context, id, patientID, channel string, meta event.Meta) (*conversation.Conversation, error) {
	meta = ensureMeta(meta)
	if id == "" {
		id = uuid.NewString()
	}
	slog.Info("Starting conversation", "conversation_id", id, "patient_id", patientID, "channel", channel)

	history, err := s.store.ByAggregate(ctx, conversation.AggregateType, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}
	if len(history) > 0 {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrAlreadyExists)
	}

	c, err := conversation.Start(id, patientID, channel, meta)
	if err != nil {
		return nil, err
	}
	if err := commit(ctx, s.store, s.bus, &c.Root); err != nil {
		return nil, err
	}
	return c, nil
}

// SendMessage records an outbound bot or agent message.
func (s *ConversationService) SendMessage(ctx context.Context, id, messageID, content string, sentBy conversation.Sender, meta event.Meta) error {
	meta = ensureMeta(meta)
	if messageID == "" {
		messageID = uuid.NewString()
	}
	return withConflictRetry(ctx, func() error {
		c, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := c.SendMessage(messageID, content, sentBy, meta); err != nil {
			return err
		}
		return commit(ctx, s.store, s.bus, &c.Root)
	})
}

// ReceiveMessage records an inbound patient message.
func (s *ConversationService) ReceiveMessage(ctx context.Context, id, messageID, content string, meta event.Meta) error {
	meta = ensureMeta(meta)
	if messageID == "" {
		messageID = uuid.NewString()
	}
	return withConflictRetry(ctx, func() error {
		c, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := c.ReceiveMessage(messageID, content, meta); err != nil {
			return err
		}
		return commit(ctx, s.store, s.bus, &c.Root)
	})
}

// DetectIntent records an observed intent.
func (s *ConversationService) DetectIntent(ctx context.Context, id, intent string, confidence float64, meta event.Meta) error {
	meta = ensureMeta(meta)
	return withConflictRetry(ctx, func() error {
		c, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := c.DetectIntent(intent, confidence, meta); err != nil {
			return err
		}
		return commit(ctx, s.store, s.bus, &c.Root)
	})
}

// Escalate hands the conversation to a human.
func (s *ConversationService) Escalate(ctx context.Context, id, assignedTo, reason string, meta event.Meta) error {
	meta = ensureMeta(meta)
	return withConflictRetry(ctx, func() error {
		c, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := c.Escalate(assignedTo, reason, meta); err != nil {
			return err
		}
		return commit(ctx, s.store, s.bus, &c.Root)
	})
}

// Resolve closes the conversation.
func (s *ConversationService) Resolve(ctx context.Context, id, resolution string, meta event.Meta) error {
	meta = ensureMeta(meta)
	return withConflictRetry(ctx, func() error {
		c, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := c.Resolve(resolution, meta); err != nil {
			return err
		}
		return commit(ctx, s.store, s.bus, &c.Root)
	})
}

// Abandon records that the patient went silent.
func (s *ConversationService) Abandon(ctx context.Context, id string, meta event.Meta) error {
	meta = ensureMeta(meta)
	return withConflictRetry(ctx, func() error {
		c, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := c.Abandon(meta); err != nil {
			return err
		}
		return commit(ctx, s.store, s.bus, &c.Root)
	})
}

// Get rehydrates the current conversation state.
func (s *ConversationService) Get(ctx context.Context, id string) (*conversation.Conversation, error) {
	return s.load(ctx, id)
}

func (s *ConversationService) load(ctx context.Context, id string) (*conversation.Conversation, error) {
	history, err := s.store.ByAggregate(ctx, conversation.AggregateType, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("conversation %s: %w", id, eventstore.ErrNotFound)
	}

	c := conversation.New(id)
	if err := c.Rehydrate(history); err != nil {
		return nil, fmt.Errorf("failed to rehydrate conversation: %w", err)
	}
	return c, nil
}
