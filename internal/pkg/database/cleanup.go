package database

import (
	"context"
	"time"
)

// Cleanup removes resolved schedules and audit events older than 90 days.
// Unresolved schedules are never touched here; the trigger owns their
// lifecycle.
func (db *Database) Cleanup(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -90)
	if _, err := db.pool.Exec(ctx, `
		DELETE FROM schedules WHERE status IN ('taken', 'skipped') AND scheduled_at < $1
	`, cutoff); err != nil {
		return err
	}
	if _, err := db.pool.Exec(ctx, `DELETE FROM dispense_events WHERE at < $1`, cutoff); err != nil {
		return err
	}
	return nil
}
