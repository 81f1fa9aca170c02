package db

import (
	"database/sql"
	"fmt"
	"time"
)

const fixColumns = `id, device_id, latitude, longitude, altitude, accuracy,
	timestamp_us, trip_id, geofence_id, geofence_name, geofence_event`

func scanFix(scan func(...any) error) (*GpsFix, error) {
	var f GpsFix
	var tsUs int64
	if err := scan(&f.ID, &f.DeviceID, &f.Latitude, &f.Longitude, &f.Altitude,
		&f.Accuracy, &tsUs, &f.TripID, &f.GeofenceID, &f.GeofenceName,
		&f.GeofenceEvent); err != nil {
		return nil, err
	}
	f.Timestamp = fromMicros(tsUs)
	return &f, nil
}

func scanFixes(rows *sql.Rows) ([]GpsFix, error) {
	var fixes []GpsFix
	for rows.Next() {
		f, err := scanFix(rows.Scan)
		if err != nil {
			return nil, err
		}
		fixes = append(fixes, *f)
	}
	return fixes, rows.Err()
}

// PreviousFix returns the most recent persisted fix for a device, or
// (nil, nil) when the device has no history yet.
func (db *DB) PreviousFix(deviceID string) (*GpsFix, error) {
	row := db.QueryRow(
		`SELECT `+fixColumns+` FROM gps_data
		 WHERE device_id = ? ORDER BY timestamp_us DESC LIMIT 1`, deviceID)
	f, err := scanFix(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load previous fix for %s: %w", deviceID, err)
	}
	return f, nil
}

// OldestFix returns the oldest fix in the store, or (nil, nil) when empty.
func (db *DB) OldestFix() (*GpsFix, error) {
	return db.boundFix("ASC")
}

// NewestFix returns the newest fix in the store, or (nil, nil) when empty.
func (db *DB) NewestFix() (*GpsFix, error) {
	return db.boundFix("DESC")
}

func (db *DB) boundFix(order string) (*GpsFix, error) {
	row := db.QueryRow(
		`SELECT ` + fixColumns + ` FROM gps_data ORDER BY timestamp_us ` + order + ` LIMIT 1`)
	f, err := scanFix(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bound fix: %w", err)
	}
	return f, nil
}

// FixesBetween returns fixes in [start, end] across all devices in time order,
// capped at limit rows.
func (db *DB) FixesBetween(start, end time.Time, limit int) ([]GpsFix, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := db.Query(
		`SELECT `+fixColumns+` FROM gps_data
		 WHERE timestamp_us >= ? AND timestamp_us <= ?
		 ORDER BY timestamp_us ASC LIMIT ?`,
		micros(start), micros(end), limit)
	if err != nil {
		return nil, fmt.Errorf("history query failed: %w", err)
	}
	defer rows.Close()
	return scanFixes(rows)
}

// TripFixes returns every fix associated with a trip in time order. The trip
// detector reads these back at close time to compute cumulative distance.
func (db *DB) TripFixes(tripID string) ([]GpsFix, error) {
	rows, err := db.Query(
		`SELECT `+fixColumns+` FROM gps_data
		 WHERE trip_id = ? ORDER BY timestamp_us ASC`, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fixes for trip %s: %w", tripID, err)
	}
	defer rows.Close()
	return scanFixes(rows)
}

// DeviceFixes returns the most recent fixes for a device, newest first.
func (db *DB) DeviceFixes(deviceID string, limit int) ([]GpsFix, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT `+fixColumns+` FROM gps_data
		 WHERE device_id = ? ORDER BY timestamp_us DESC LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFixes(rows)
}

func insertFix(tx *sql.Tx, f *GpsFix) error {
	res, err := tx.Exec(
		`INSERT INTO gps_data (device_id, latitude, longitude, altitude, accuracy,
			timestamp_us, trip_id, geofence_id, geofence_name, geofence_event)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.DeviceID, f.Latitude, f.Longitude, f.Altitude, f.Accuracy,
		micros(f.Timestamp), f.TripID, f.GeofenceID, f.GeofenceName, f.GeofenceEvent,
	)
	if err != nil {
		return err
	}
	f.ID, _ = res.LastInsertId()
	return nil
}
