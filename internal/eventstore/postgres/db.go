package postgres

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
)

// InitDB opens the database and ensures the event log schema exists.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	slog.Info("Database connected and migrated")
	return db, nil
}

func migrateDB(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			version INT NOT NULL,
			tenant_id TEXT NOT NULL,
			clinic_id TEXT NOT NULL DEFAULT '',
			correlation_id TEXT NOT NULL DEFAULT '',
			causation_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			payload JSONB NOT NULL,
			CONSTRAINT events_stream_version_key UNIQUE (aggregate_type, aggregate_id, version)
		);

		CREATE INDEX IF NOT EXISTS idx_events_correlation
			ON events (correlation_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_events_type_created
			ON events (event_type, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_events_tenant_created
			ON events (tenant_id, created_at DESC);
	`)
	return err
}
