package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/yago-healz/clinic-core/internal/event"
	"github.com/yago-healz/clinic-core/internal/eventstore"
)

type store struct {
	db *sql.DB
}

// NewStore creates an event store backed by Postgres.
func NewStore(db *sql.DB) eventstore.Store {
	return &store{db: db}
}

var eventColumns = []string{
	"id", "event_type", "aggregate_type", "aggregate_id", "version",
	"tenant_id", "clinic_id", "correlation_id", "causation_id", "user_id",
	"created_at", "payload",
}

type streamKey struct {
	aggregateType event.AggregateType
	aggregateID   string
}

func (s *store) Append(ctx context.Context, events ...event.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Concurrency check: every event must extend its stream by exactly one.
	current := map[streamKey]int{}
	for _, e := range events {
		key := streamKey{e.AggregateType, e.AggregateID}
		version, ok := current[key]
		if !ok {
			err = tx.QueryRowContext(ctx,
				"SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_type = $1 AND aggregate_id = $2",
				string(e.AggregateType), e.AggregateID,
			).Scan(&version)
			if err != nil {
				return fmt.Errorf("failed to get current stream version: %w", err)
			}
		}

		if e.Version != version+1 {
			return &eventstore.VersionConflictError{
				AggregateType: e.AggregateType,
				AggregateID:   e.AggregateID,
				Expected:      e.Version,
				Actual:        version,
			}
		}
		current[key] = e.Version
	}

	insert := sq.Insert("events").Columns(eventColumns...)
	for _, e := range events {
		insert = insert.Values(
			e.ID, string(e.Type), string(e.AggregateType), e.AggregateID, e.Version,
			e.TenantID, e.ClinicID, e.CorrelationID, e.CausationID, e.UserID,
			e.CreatedAt, []byte(e.Data),
		)
	}

	query, args, err := insert.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		// A concurrent appender can win between the version check and the
		// insert; the unique constraint on the stream catches that race.
		if isStreamConflict(err) {
			return &eventstore.VersionConflictError{
				AggregateType: events[0].AggregateType,
				AggregateID:   events[0].AggregateID,
				Expected:      events[0].Version,
				Actual:        events[0].Version,
			}
		}
		return fmt.Errorf("failed to insert events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isStreamConflict reports whether err is the unique-constraint violation
// raised when another appender wrote the same stream version first.
func isStreamConflict(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) &&
		pqErr.Code == "23505" &&
		pqErr.Constraint == "events_stream_version_key"
}

func (s *store) ByAggregate(ctx context.Context, aggregateType event.AggregateType, aggregateID string) ([]event.Event, error) {
	return s.query(ctx, selectEvents().
		Where(sq.Eq{"aggregate_type": string(aggregateType), "aggregate_id": aggregateID}).
		OrderBy("version ASC"))
}

func (s *store) ByCorrelation(ctx context.Context, correlationID string) ([]event.Event, error) {
	return s.query(ctx, selectEvents().
		Where(sq.Eq{"correlation_id": correlationID}).
		OrderBy("created_at ASC, version ASC"))
}

func (s *store) ByType(ctx context.Context, eventType event.Type, page eventstore.Page) ([]event.Event, error) {
	return s.query(ctx, paginate(selectEvents().
		Where(sq.Eq{"event_type": string(eventType)}).
		OrderBy("created_at DESC"), page))
}

func (s *store) ByTenant(ctx context.Context, tenantID string, page eventstore.Page) ([]event.Event, error) {
	return s.query(ctx, paginate(selectEvents().
		Where(sq.Eq{"tenant_id": tenantID}).
		OrderBy("created_at DESC"), page))
}

func selectEvents() sq.SelectBuilder {
	return sq.Select(eventColumns...).From("events").PlaceholderFormat(sq.Dollar)
}

func paginate(b sq.SelectBuilder, page eventstore.Page) sq.SelectBuilder {
	if page.Limit > 0 {
		b = b.Limit(uint64(page.Limit))
	}
	if page.Offset > 0 {
		b = b.Offset(uint64(page.Offset))
	}
	return b
}

func (s *store) query(ctx context.Context, b sq.SelectBuilder) ([]event.Event, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var e event.Event
		var payload []byte
		if err := rows.Scan(
			&e.ID, &e.Type, &e.AggregateType, &e.AggregateID, &e.Version,
			&e.TenantID, &e.ClinicID, &e.CorrelationID, &e.CausationID, &e.UserID,
			&e.CreatedAt, &payload,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Data = payload
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}
