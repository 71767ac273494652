package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/yago-healz/clinic-core/internal/event"
)

// InProcess is a Bus backed by watermill's gochannel Pub/Sub. One topic per
// event type. Publishing blocks until every subscriber has acked the message,
// and acks happen after the handler runs, so each handler sees events in
// exactly the order they were passed to PublishMany, even when one command
// records events of several types.
type InProcess struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewInProcess creates an in-process bus.
func NewInProcess(logger *slog.Logger) *InProcess {
	ctx, cancel := context.WithCancel(context.Background())
	return &InProcess{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 64,
				// Ordering per handler depends on this: gochannel
				// otherwise dispatches each message in its own goroutine.
				BlockPublishUntilSubscriberAck: true,
			},
			watermill.NewSlogLogger(logger),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *InProcess) Subscribe(eventType event.Type, h Handler) error {
	messages, err := b.pubsub.Subscribe(b.ctx, string(eventType))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
	}

	go b.consume(eventType, messages, h)
	return nil
}

func (b *InProcess) consume(eventType event.Type, messages <-chan *message.Message, h Handler) {
	for msg := range messages {
		var e event.Event
		if err := json.Unmarshal(msg.Payload, &e); err != nil {
			b.logger.Error("Failed to decode published event", "event_type", eventType, "err", err)
			msg.Ack()
			continue
		}

		// A handler error is isolated: logged, acked, never propagated back
		// to the command that already committed its events. Retry or
		// dead-lettering belongs to the handler's own infrastructure.
		if err := h.Handle(msg.Context(), e); err != nil {
			b.logger.Error("Event handler failed",
				"event_type", e.Type, "event_id", e.ID, "aggregate_id", e.AggregateID, "err", err)
		}
		msg.Ack()
	}
}

func (b *InProcess) Publish(ctx context.Context, e event.Event) error {
	return b.PublishMany(ctx, []event.Event{e})
}

func (b *InProcess) PublishMany(ctx context.Context, events []event.Event) error {
	for _, e := range events {
		msg, err := marshalMessage(e)
		if err != nil {
			return err
		}
		msg.SetContext(ctx)
		if err := b.pubsub.Publish(string(e.Type), msg); err != nil {
			return fmt.Errorf("failed to publish %s: %w", e.Type, err)
		}
	}
	return nil
}

func (b *InProcess) Close() error {
	b.cancel()
	return b.pubsub.Close()
}

func marshalMessage(e event.Event) (*message.Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", e.ID, err)
	}

	msg := message.NewMessage(e.ID, payload)
	msg.Metadata.Set("event_type", string(e.Type))
	msg.Metadata.Set("aggregate_type", string(e.AggregateType))
	msg.Metadata.Set("aggregate_id", e.AggregateID)
	return msg, nil
}
