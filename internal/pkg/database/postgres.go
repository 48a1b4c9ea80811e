package database

import (
	"context"
	"errors"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound wraps lookups for rows that do not exist.
var ErrNotFound = errors.New("not found")

type Database struct {
	pool *pgxpool.Pool
	io.Closer
}

func NewDatabase(ctx context.Context, pool *pgxpool.Pool) *Database {
	initialise(ctx, pool)
	return &Database{
		pool: pool,
	}
}

func initialise(ctx context.Context, pool *pgxpool.Pool) {
	const createTablesSQL = `
CREATE TABLE IF NOT EXISTS devices (
    device_id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    name TEXT NOT NULL,
    ip_address TEXT NOT NULL DEFAULT '',
    token_hash TEXT NOT NULL,
    last_seen_at TIMESTAMP WITH TIME ZONE NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_devices_owner ON devices (owner_id);

CREATE TABLE IF NOT EXISTS medicines (
    id BIGSERIAL PRIMARY KEY,
    owner_id TEXT NOT NULL,
    name TEXT NOT NULL,
    dosage TEXT NOT NULL DEFAULT '',
    frequency_spec TEXT NOT NULL,
    compartment INT,
    start_date TIMESTAMP WITH TIME ZONE NOT NULL,
    duration_days INT NOT NULL,
    instructions TEXT NOT NULL DEFAULT '',
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_medicines_owner ON medicines (owner_id);

CREATE TABLE IF NOT EXISTS schedules (
    id BIGSERIAL PRIMARY KEY,
    medicine_id BIGINT NOT NULL REFERENCES medicines (id),
    scheduled_at TIMESTAMP WITH TIME ZONE NOT NULL,
    dose_count INT NOT NULL CHECK (dose_count >= 1),
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'dispatched', 'taken', 'skipped')),
    attempts INT NOT NULL DEFAULT 0,
    dispatched_at TIMESTAMP WITH TIME ZONE,
    taken_at TIMESTAMP WITH TIME ZONE,
    skip_reason TEXT NOT NULL DEFAULT '',
    UNIQUE (medicine_id, scheduled_at)
);
CREATE INDEX IF NOT EXISTS idx_schedules_status_at ON schedules (status, scheduled_at);

CREATE TABLE IF NOT EXISTS dispense_events (
    id BIGSERIAL PRIMARY KEY,
    kind TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    device_id TEXT NOT NULL DEFAULT '',
    medicine_id BIGINT,
    schedule_id BIGINT,
    detail TEXT NOT NULL DEFAULT '',
    at TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dispense_events_owner ON dispense_events (owner_id, at);
`
	if _, err := pool.Exec(ctx, createTablesSQL); err != nil {
		panic(err)
	}
}

func (db *Database) Close() error {
	if db.pool == nil {
		return nil
	}
	db.pool.Close()
	return nil
}
