package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/yago-healz/clinic-core/internal/domain/conversation"
	"github.com/yago-healz/clinic-core/internal/event"
)

// ConversationList maintains the conversation read model.
type ConversationList struct {
	db *sql.DB
}

func NewConversationList(db *sql.DB) *ConversationList {
	return &ConversationList{db: db}
}

// EventTypes lists what this projection consumes.
func (p *ConversationList) EventTypes() []event.Type {
	return []event.Type{
		conversation.TypeStarted,
		conversation.TypeMessageSent,
		conversation.TypeMessageReceived,
		conversation.TypeEscalated,
		conversation.TypeResolved,
		conversation.TypeAbandoned,
	}
}

func (p *ConversationList) Handle(ctx context.Context, e event.Event) error {
	switch e.Type {
	case conversation.TypeStarted:
		var ev conversation.Started
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", e.Type, err)
		}
		return p.exec(ctx, sq.Insert("conversation_list").
			Columns("id", "tenant_id", "clinic_id", "patient_id", "channel", "status", "version").
			Values(e.AggregateID, e.TenantID, e.ClinicID, ev.PatientID, ev.Channel,
				string(conversation.StatusActive), e.Version).
			Suffix("ON CONFLICT (id) DO NOTHING"))
	case conversation.TypeMessageSent, conversation.TypeMessageReceived:
		return p.exec(ctx, p.update(e).
			Set("message_count", sq.Expr("message_count + 1")))
	case conversation.TypeEscalated:
		var ev conversation.Escalated
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", e.Type, err)
		}
		return p.exec(ctx, p.update(e).
			Set("status", string(conversation.StatusEscalated)).
			Set("assigned_to", ev.AssignedTo))
	case conversation.TypeResolved:
		return p.exec(ctx, p.update(e).Set("status", string(conversation.StatusResolved)))
	case conversation.TypeAbandoned:
		return p.exec(ctx, p.update(e).Set("status", string(conversation.StatusAbandoned)))
	default:
		return fmt.Errorf("unexpected event type for conversation projection: %s", e.Type)
	}
}

func (p *ConversationList) update(e event.Event) sq.UpdateBuilder {
	// The version guard makes redelivered events no-ops.
	return sq.Update("conversation_list").
		Set("version", e.Version).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": e.AggregateID}).
		Where(sq.Lt{"version": e.Version})
}

func (p *ConversationList) exec(ctx context.Context, b sq.Sqlizer) error {
	query, args, err := withDollar(b)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update conversation read model: %w", err)
	}
	return nil
}
