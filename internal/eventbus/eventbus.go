package eventbus

import (
	"context"

	"github.com/yago-healz/clinic-core/internal/event"
)

// Handler consumes one published event. Delivery is at-least-once, so
// handlers must tolerate seeing the same event id again (idempotent upserts
// for projection updaters).
type Handler interface {
	Handle(ctx context.Context, e event.Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, e event.Event) error

func (f HandlerFunc) Handle(ctx context.Context, e event.Event) error {
	return f(ctx, e)
}

// Bus fans persisted events out to subscribers. PublishMany delivers to each
// handler in the order of the call, so events from one aggregate arrive in
// version order; nothing is promised across aggregates or between handlers.
// A handler failure never unwinds the store append that already succeeded.
type Bus interface {
	Subscribe(eventType event.Type, h Handler) error
	Publish(ctx context.Context, e event.Event) error
	PublishMany(ctx context.Context, events []event.Event) error
	Close() error
}
