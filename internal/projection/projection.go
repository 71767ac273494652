// Package projection holds the read-model updaters fed by the event bus.
// Projections are derived, eventually-consistent views; the event log stays
// the only authority. Delivery is at-least-once, so every write here is an
// idempotent, version-guarded upsert.
package projection

import (
	"database/sql"
	"fmt"

	"github.com/yago-healz/clinic-core/internal/event"
	"github.com/yago-healz/clinic-core/internal/eventbus"
)

// Subscribe registers a handler for each of the given event types.
func Subscribe(bus eventbus.Bus, h eventbus.Handler, types ...event.Type) error {
	for _, t := range types {
		if err := bus.Subscribe(t, h); err != nil {
			return fmt.Errorf("failed to subscribe projection to %s: %w", t, err)
		}
	}
	return nil
}

// InitReadModels ensures the projection tables exist.
func InitReadModels(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS appointment_list (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			clinic_id TEXT NOT NULL DEFAULT '',
			patient_id TEXT NOT NULL,
			doctor_id TEXT NOT NULL,
			scheduled_at TIMESTAMPTZ NOT NULL,
			duration_minutes INT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			version INT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_appointment_list_doctor
			ON appointment_list (tenant_id, doctor_id, scheduled_at);

		CREATE TABLE IF NOT EXISTS conversation_list (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			clinic_id TEXT NOT NULL DEFAULT '',
			patient_id TEXT NOT NULL,
			channel TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			assigned_to TEXT NOT NULL DEFAULT '',
			message_count INT NOT NULL DEFAULT 0,
			version INT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS journey_list (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			clinic_id TEXT NOT NULL DEFAULT '',
			patient_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			risk_score INT NOT NULL DEFAULT 0,
			risk_level TEXT NOT NULL DEFAULT 'low',
			version INT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}
