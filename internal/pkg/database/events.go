package database

import (
	"context"

	"github.com/pharmabot/dispenser-controller/internal/pkg/publisher"
)

// PublishEvent writes the event to the dispense_events audit table. The
// Database registers as a publisher adapter under the name "postgres".
func (db *Database) PublishEvent(ctx context.Context, event publisher.Event) error {
	const insertSQL = `
	INSERT INTO dispense_events (kind, owner_id, device_id, medicine_id, schedule_id, detail, at)
	VALUES ($1, $2, $3, NULLIF($4, 0), NULLIF($5, 0), $6, $7)
	`
	_, err := db.pool.Exec(ctx, insertSQL,
		event.Kind.String(), event.OwnerID, event.DeviceID, event.MedicineID, event.ScheduleID, event.Detail, event.At)
	return err
}

// EventsForOwner returns the owner's most recent events, newest first.
func (db *Database) EventsForOwner(ctx context.Context, ownerID string, limit int) ([]publisher.Event, error) {
	const query = `
	SELECT kind, owner_id, device_id, COALESCE(medicine_id, 0), COALESCE(schedule_id, 0), detail, at
	FROM dispense_events
	WHERE owner_id = $1
	ORDER BY at DESC
	LIMIT $2;
	`
	rows, err := db.pool.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []publisher.Event
	for rows.Next() {
		var e publisher.Event
		if err := rows.Scan(&e.Kind, &e.OwnerID, &e.DeviceID, &e.MedicineID, &e.ScheduleID, &e.Detail, &e.At); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
