package db

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateDevice registers a device. CreatedAt defaults to now when zero.
func (db *DB) CreateDevice(d *Device) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := db.Exec(
		`INSERT INTO devices (device_id, name, description, is_active, created_at_us, last_seen_us)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.DeviceID, d.Name, d.Description, d.IsActive, micros(d.CreatedAt), microsPtr(d.LastSeen),
	)
	if err != nil {
		return fmt.Errorf("failed to create device %s: %w", d.DeviceID, err)
	}
	return nil
}

// Device returns the device row for deviceID, or (nil, nil) when unknown.
func (db *DB) Device(deviceID string) (*Device, error) {
	row := db.QueryRow(
		`SELECT device_id, name, description, is_active, created_at_us, last_seen_us
		 FROM devices WHERE device_id = ?`, deviceID)

	var d Device
	var createdUs int64
	var lastSeenUs *int64
	err := row.Scan(&d.DeviceID, &d.Name, &d.Description, &d.IsActive, &createdUs, &lastSeenUs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load device %s: %w", deviceID, err)
	}
	d.CreatedAt = fromMicros(createdUs)
	d.LastSeen = fromMicrosPtr(lastSeenUs)
	return &d, nil
}

// SetDeviceActive flips the active flag on a device.
func (db *DB) SetDeviceActive(deviceID string, active bool) error {
	res, err := db.Exec(`UPDATE devices SET is_active = ? WHERE device_id = ?`, active, deviceID)
	if err != nil {
		return fmt.Errorf("failed to update device %s: %w", deviceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("device %s not found", deviceID)
	}
	return nil
}

// Devices lists all registered devices ordered by id.
func (db *DB) Devices() ([]Device, error) {
	rows, err := db.Query(
		`SELECT device_id, name, description, is_active, created_at_us, last_seen_us
		 FROM devices ORDER BY device_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		var createdUs int64
		var lastSeenUs *int64
		if err := rows.Scan(&d.DeviceID, &d.Name, &d.Description, &d.IsActive, &createdUs, &lastSeenUs); err != nil {
			return nil, err
		}
		d.CreatedAt = fromMicros(createdUs)
		d.LastSeen = fromMicrosPtr(lastSeenUs)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
