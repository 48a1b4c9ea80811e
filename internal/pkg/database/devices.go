package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pharmabot/dispenser-controller/internal/pkg/model"
)

func (db *Database) UpsertDevice(ctx context.Context, device model.Device, tokenHash string) error {
	const upsertSQL = `
	INSERT INTO devices (device_id, owner_id, name, ip_address, token_hash, last_seen_at, active)
	VALUES ($1, $2, $3, $4, $5, $6, TRUE)
	ON CONFLICT (device_id) DO UPDATE
	SET owner_id = EXCLUDED.owner_id,
	    name = EXCLUDED.name,
	    ip_address = EXCLUDED.ip_address,
	    token_hash = EXCLUDED.token_hash,
	    last_seen_at = EXCLUDED.last_seen_at,
	    active = TRUE;
	`
	_, err := db.pool.Exec(ctx, upsertSQL,
		device.DeviceID, device.OwnerID, device.Name, device.IPAddress, tokenHash, device.LastSeenAt)
	return err
}

func (db *Database) GetDevice(ctx context.Context, deviceID string) (model.Device, error) {
	const query = `
	SELECT device_id, owner_id, name, ip_address, last_seen_at, active
	FROM devices
	WHERE device_id = $1;
	`
	var device model.Device
	err := db.pool.QueryRow(ctx, query, deviceID).Scan(
		&device.DeviceID, &device.OwnerID, &device.Name, &device.IPAddress, &device.LastSeenAt, &device.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Device{}, model.ErrUnknownDevice
		}
		return model.Device{}, err
	}
	return device, nil
}

func (db *Database) TouchDevice(ctx context.Context, deviceID string, seenAt time.Time) error {
	tag, err := db.pool.Exec(ctx, `UPDATE devices SET last_seen_at = $2 WHERE device_id = $1`, deviceID, seenAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUnknownDevice
	}
	return nil
}

func (db *Database) DevicesForOwner(ctx context.Context, ownerID string) ([]model.Device, error) {
	const query = `
	SELECT device_id, owner_id, name, ip_address, last_seen_at, active
	FROM devices
	WHERE owner_id = $1 AND active
	ORDER BY last_seen_at DESC;
	`
	rows, err := db.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDevices(rows)
}

func (db *Database) ListDevices(ctx context.Context) ([]model.Device, error) {
	const query = `
	SELECT device_id, owner_id, name, ip_address, last_seen_at, active
	FROM devices
	WHERE active
	ORDER BY device_id;
	`
	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDevices(rows)
}

func scanDevices(rows pgx.Rows) ([]model.Device, error) {
	var devices []model.Device
	for rows.Next() {
		var device model.Device
		if err := rows.Scan(&device.DeviceID, &device.OwnerID, &device.Name, &device.IPAddress, &device.LastSeenAt, &device.Active); err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return devices, nil
}

func (db *Database) DeactivateDevice(ctx context.Context, deviceID string) error {
	tag, err := db.pool.Exec(ctx, `UPDATE devices SET active = FALSE WHERE device_id = $1`, deviceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUnknownDevice
	}
	return nil
}
