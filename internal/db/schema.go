package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the schema at startup. Statements are idempotent so every
// binary (server, worker, seed) can run them safely.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id            uuid PRIMARY KEY,
		name          text NOT NULL,
		admin_user_id uuid,
		created_at    timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS office_config (
		tenant_id  uuid NOT NULL REFERENCES tenants(id),
		name       text NOT NULL,
		value      text NOT NULL,
		PRIMARY KEY (tenant_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS appointment_states (
		id          uuid PRIMARY KEY,
		tenant_id   uuid NOT NULL REFERENCES tenants(id),
		name        text NOT NULL,
		description text NOT NULL DEFAULT '',
		UNIQUE (tenant_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS patients (
		id         uuid PRIMARY KEY,
		tenant_id  uuid NOT NULL REFERENCES tenants(id),
		name       text NOT NULL,
		email      text,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS specialties (
		id        uuid PRIMARY KEY,
		tenant_id uuid NOT NULL REFERENCES tenants(id),
		name      text NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS specialists (
		id         uuid PRIMARY KEY,
		tenant_id  uuid NOT NULL REFERENCES tenants(id),
		name       text NOT NULL,
		phone      text,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS specialist_inactivity (
		id            uuid PRIMARY KEY,
		tenant_id     uuid NOT NULL REFERENCES tenants(id),
		specialist_id uuid NOT NULL REFERENCES specialists(id),
		starts_at     timestamptz NOT NULL,
		ends_at       timestamptz NOT NULL,
		reason        text NOT NULL,
		created_at    timestamptz NOT NULL DEFAULT now(),
		CHECK (starts_at < ends_at)
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id                    uuid PRIMARY KEY,
		tenant_id             uuid NOT NULL REFERENCES tenants(id),
		patient_id            uuid NOT NULL,
		specialist_id         uuid NOT NULL,
		specialty_id          uuid NOT NULL,
		starts_at             timestamptz NOT NULL,
		ends_at               timestamptz NOT NULL,
		duration_minutes      int NOT NULL,
		status                text NOT NULL,
		reason                text,
		canceled_by           uuid,
		cancel_reason         text,
		reminder_marks        int[] NOT NULL DEFAULT '{}',
		last_reminder_sent_at timestamptz,
		auto_canceled_at      timestamptz,
		created_at            timestamptz NOT NULL DEFAULT now(),
		updated_at            timestamptz NOT NULL DEFAULT now(),
		CHECK (ends_at > starts_at)
	)`,
	// Second-line guard behind the read-time overlap check: two concurrent
	// bookings of the same specialist and start cannot both land.
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_appointments_slot
		ON appointments (tenant_id, specialist_id, starts_at)
		WHERE status <> 'canceled'`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_tenant_specialist_start
		ON appointments (tenant_id, specialist_id, starts_at)`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_pending_start
		ON appointments (starts_at) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_tenant_patient_start
		ON appointments (tenant_id, patient_id, starts_at DESC)`,
	`CREATE TABLE IF NOT EXISTS event_logs (
		id             bigserial PRIMARY KEY,
		tenant_id      uuid NOT NULL,
		event_type     text NOT NULL,
		appointment_id uuid,
		payload        jsonb,
		created_at     timestamptz NOT NULL DEFAULT now()
	)`,
}
