package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/yago-healz/clinic-core/internal/aggregate"
	"github.com/yago-healz/clinic-core/internal/event"
	"github.com/yago-healz/clinic-core/internal/eventbus"
	"github.com/yago-healz/clinic-core/internal/eventstore"
)

// ErrAlreadyExists indicates a create command targeting an id whose stream
// already has events.
var ErrAlreadyExists = errors.New("aggregate already exists")

const (
	conflictRetryInterval = 25 * time.Millisecond
	conflictMaxTries      = 3
)

// ensureMeta fills in a correlation id when the caller did not supply one.
func ensureMeta(meta event.Meta) event.Meta {
	if meta.CorrelationID == "" {
		meta.CorrelationID = uuid.NewString()
	}
	return meta
}

// commit appends the aggregate's uncommitted events and publishes them. The
// append is the durability boundary: a publish failure is logged, never
// returned, because the write already succeeded.
func commit(ctx context.Context, store eventstore.Store, bus eventbus.Bus, root *aggregate.Root) error {
	events := root.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	if err := store.Append(ctx, events...); err != nil {
		return err
	}
	root.ClearUncommittedEvents()

	if err := bus.PublishMany(ctx, events); err != nil {
		slog.Error("Failed to publish committed events",
			"aggregate_id", root.ID, "count", len(events), "err", err)
	}
	return nil
}

// withConflictRetry re-runs op from scratch on optimistic-concurrency
// failures, bounded by a constant-interval retry policy. Every retry reloads
// the latest stream, so the domain method re-validates against current state.
// All other errors are permanent.
func withConflictRetry(ctx context.Context, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			if eventstore.IsVersionConflict(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(conflictRetryInterval)),
		backoff.WithMaxTries(conflictMaxTries),
	)
	return err
}
