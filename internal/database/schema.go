package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is the full DDL for the attendance core. Idempotent so the
// service can bootstrap a fresh database at startup.
//
// The partial unique index on registrations enforces at most one
// non-cancelled registration per (event, user); cancelled and rejected
// rows do not block re-registration. The unique index on
// payments.provider_reference is the idempotency key shared with the
// payment provider.
const schema = `
CREATE TABLE IF NOT EXISTS events (
	id                    TEXT PRIMARY KEY,
	owner_id              TEXT NOT NULL,
	title                 TEXT NOT NULL,
	capacity_limit        INTEGER,
	status                TEXT NOT NULL DEFAULT 'draft',
	start_datetime        TIMESTAMPTZ NOT NULL,
	end_datetime          TIMESTAMPTZ NOT NULL,
	registration_deadline TIMESTAMPTZ,
	approval_mode         TEXT NOT NULL DEFAULT 'automated',
	is_free               BOOLEAN NOT NULL DEFAULT TRUE,
	price                 BIGINT NOT NULL DEFAULT 0,
	currency              TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS registrations (
	id                  TEXT PRIMARY KEY,
	event_id            TEXT NOT NULL REFERENCES events(id),
	user_id             TEXT NOT NULL,
	ticket_number       TEXT NOT NULL DEFAULT '',
	qr_code_url         TEXT NOT NULL DEFAULT '',
	registration_status TEXT NOT NULL,
	approval_status     TEXT NOT NULL DEFAULT '',
	payment_status      TEXT NOT NULL DEFAULT 'none',
	amount_paid         BIGINT NOT NULL DEFAULT 0,
	checked_in_at       TIMESTAMPTZ,
	reminder_sent_24h   BOOLEAN NOT NULL DEFAULT FALSE,
	reminder_sent_1h    BOOLEAN NOT NULL DEFAULT FALSE,
	registered_at       TIMESTAMPTZ NOT NULL,
	cancelled_at        TIMESTAMPTZ,
	approved_at         TIMESTAMPTZ,
	approved_by_id      TEXT NOT NULL DEFAULT '',
	paid_at             TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_registrations_event_user_active
	ON registrations (event_id, user_id)
	WHERE registration_status NOT IN ('cancelled', 'rejected');

CREATE UNIQUE INDEX IF NOT EXISTS ux_registrations_ticket_number
	ON registrations (ticket_number)
	WHERE ticket_number <> '';

CREATE INDEX IF NOT EXISTS ix_registrations_event
	ON registrations (event_id);

CREATE TABLE IF NOT EXISTS payments (
	id                 TEXT PRIMARY KEY,
	registration_id    TEXT NOT NULL REFERENCES registrations(id),
	event_id           TEXT NOT NULL,
	user_id            TEXT NOT NULL,
	amount             BIGINT NOT NULL,
	currency           TEXT NOT NULL,
	provider           TEXT NOT NULL,
	provider_reference TEXT NOT NULL UNIQUE,
	status             TEXT NOT NULL DEFAULT 'pending',
	metadata           JSONB,
	created_at         TIMESTAMPTZ NOT NULL,
	settled_at         TIMESTAMPTZ
);
`

// Migrate applies the schema. Safe to call on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
