package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pharmabot/dispenser-controller/internal/pkg/model"
)

const scheduleColumns = `id, medicine_id, scheduled_at, dose_count, status, attempts, dispatched_at, taken_at, skip_reason`

// InsertSchedules persists generated rows in one transaction. A row already
// present at the same (medicine_id, scheduled_at) is kept as-is, which is
// what preserves taken/skipped history across regenerations.
func (db *Database) InsertSchedules(ctx context.Context, schedules []model.Schedule) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, s := range schedules {
		if _, err := tx.Exec(ctx, `
			INSERT INTO schedules (medicine_id, scheduled_at, dose_count, status)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (medicine_id, scheduled_at) DO NOTHING
		`, s.MedicineID, s.ScheduledAt, s.DoseCount, s.Status); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// DeleteUnresolvedFrom removes the medicine's pending/dispatched schedules
// with scheduledAt >= from. Resolved rows are never deleted.
func (db *Database) DeleteUnresolvedFrom(ctx context.Context, medicineID int64, from time.Time) error {
	_, err := db.pool.Exec(ctx, `
		DELETE FROM schedules
		WHERE medicine_id = $1 AND scheduled_at >= $2 AND status IN ('pending', 'dispatched')
	`, medicineID, from)
	return err
}

func (db *Database) GetSchedule(ctx context.Context, scheduleID int64) (model.Schedule, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedules WHERE id = $1;`, scheduleColumns)

	var s model.Schedule
	err := db.pool.QueryRow(ctx, query, scheduleID).Scan(
		&s.ID, &s.MedicineID, &s.ScheduledAt, &s.DoseCount, &s.Status,
		&s.Attempts, &s.DispatchedAt, &s.TakenAt, &s.SkipReason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Schedule{}, fmt.Errorf("schedule %d: %w", scheduleID, ErrNotFound)
		}
		return model.Schedule{}, err
	}
	return s, nil
}

func (db *Database) DueSchedules(ctx context.Context, now time.Time) ([]model.Schedule, error) {
	query := fmt.Sprintf(`
	SELECT %s
	FROM schedules
	WHERE status = 'pending' AND scheduled_at <= $1
	ORDER BY scheduled_at;
	`, scheduleColumns)

	rows, err := db.pool.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSchedules(rows)
}

func (db *Database) TimedOutSchedules(ctx context.Context, cutoff time.Time) ([]model.Schedule, error) {
	query := fmt.Sprintf(`
	SELECT %s
	FROM schedules
	WHERE status = 'dispatched' AND dispatched_at <= $1
	ORDER BY dispatched_at;
	`, scheduleColumns)

	rows, err := db.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSchedules(rows)
}

func (db *Database) SchedulesForMedicine(ctx context.Context, medicineID int64) ([]model.Schedule, error) {
	query := fmt.Sprintf(`
	SELECT %s
	FROM schedules
	WHERE medicine_id = $1
	ORDER BY scheduled_at;
	`, scheduleColumns)

	rows, err := db.pool.Query(ctx, query, medicineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSchedules(rows)
}

func scanSchedules(rows pgx.Rows) ([]model.Schedule, error) {
	var schedules []model.Schedule
	for rows.Next() {
		var s model.Schedule
		if err := rows.Scan(&s.ID, &s.MedicineID, &s.ScheduledAt, &s.DoseCount, &s.Status,
			&s.Attempts, &s.DispatchedAt, &s.TakenAt, &s.SkipReason); err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return schedules, nil
}

// MarkDispatched moves a schedule to dispatched and counts the attempt.
// Guarded on the current status so resolved rows can never move backward.
func (db *Database) MarkDispatched(ctx context.Context, scheduleID int64, at time.Time) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE schedules
		SET status = 'dispatched', attempts = attempts + 1, dispatched_at = $2
		WHERE id = $1 AND status IN ('pending', 'dispatched')
	`, scheduleID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("schedule %d not dispatchable: %w", scheduleID, ErrNotFound)
	}
	return nil
}

func (db *Database) MarkTaken(ctx context.Context, scheduleID int64, at time.Time) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE schedules
		SET status = 'taken', taken_at = $2
		WHERE id = $1 AND status IN ('pending', 'dispatched')
	`, scheduleID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("schedule %d not markable taken: %w", scheduleID, ErrNotFound)
	}
	return nil
}

func (db *Database) MarkSkipped(ctx context.Context, scheduleID int64, reason string) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE schedules
		SET status = 'skipped', skip_reason = $2
		WHERE id = $1 AND status IN ('pending', 'dispatched')
	`, scheduleID, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("schedule %d not markable skipped: %w", scheduleID, ErrNotFound)
	}
	return nil
}

// ScheduleCounts returns the owner's total and taken schedule counts inside
// [from, to). Feeds the dashboard stats endpoint.
func (db *Database) ScheduleCounts(ctx context.Context, ownerID string, from, to time.Time) (total, taken int, err error) {
	const query = `
	SELECT COUNT(*), COUNT(*) FILTER (WHERE s.status = 'taken')
	FROM schedules s
	JOIN medicines m ON m.id = s.medicine_id
	WHERE m.owner_id = $1 AND s.scheduled_at >= $2 AND s.scheduled_at < $3;
	`
	if err = db.pool.QueryRow(ctx, query, ownerID, from, to).Scan(&total, &taken); err != nil {
		return 0, 0, err
	}
	return total, taken, nil
}
