package db

import (
	"database/sql"
	"fmt"

	"github.com/oakmere/fleettrack/internal/monitoring"
)

// RecordFix is the single persistence entry point for the ingestion path. It
// writes, inside one transaction:
//
//  1. the artificial exit fix, when the geofence engine synthesized one
//     (it must sort before the real fix, hence its t-1µs timestamp);
//  2. the accelerometer window, when present; a duplicate window is skipped
//     without disturbing the rest of the transaction;
//  3. the GPS fix itself; a duplicate fix rolls the whole transaction back,
//     including the accel, so no orphan accel row survives;
//  4. the trip point_count increment, when the fix carries a trip id;
//     a failure here is logged but does not abort;
//  5. the device last_seen update.
//
// The returned flags report what was actually persisted. A duplicate fix
// returns (false, false, nil): expected during UDP replays, not an error.
func (db *DB) RecordFix(gps *GpsFix, accel *AccelWindow, artificialExit *GpsFix) (gpsSaved, accelSaved bool, err error) {
	tx, err := db.Begin()
	if err != nil {
		return false, false, fmt.Errorf("failed to begin ingest transaction: %w", err)
	}
	defer tx.Rollback()

	if artificialExit != nil {
		if err := insertFix(tx, artificialExit); err != nil {
			if !IsUniqueViolation(err) {
				monitoring.Logf("failed to insert artificial exit fix for %s: %v",
					artificialExit.DeviceID, err)
			}
		}
	}

	if accel != nil {
		if err := insertAccel(tx, accel); err != nil {
			if !IsUniqueViolation(err) {
				monitoring.Logf("failed to insert accel window for %s: %v", accel.DeviceID, err)
			}
			// Duplicate or broken accel never blocks the GPS fix.
		} else {
			accelSaved = true
		}
	}

	if err := insertFix(tx, gps); err != nil {
		if IsUniqueViolation(err) {
			// Same device+timestamp already stored. Drop everything, including
			// any accel inserted above, so the tables stay paired.
			return false, false, nil
		}
		return false, false, fmt.Errorf("failed to insert fix for %s: %w", gps.DeviceID, err)
	}

	if gps.TripID != nil {
		if _, err := tx.Exec(
			`UPDATE trips SET point_count = point_count + 1 WHERE trip_id = ?`,
			*gps.TripID,
		); err != nil {
			monitoring.Logf("failed to increment point_count on trip %s: %v", *gps.TripID, err)
		}
	}

	if _, err := tx.Exec(
		`UPDATE devices SET last_seen_us = MAX(COALESCE(last_seen_us, 0), ?)
		 WHERE device_id = ?`,
		micros(gps.Timestamp), gps.DeviceID,
	); err != nil {
		return false, false, fmt.Errorf("failed to update last_seen for %s: %w", gps.DeviceID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, false, fmt.Errorf("failed to commit ingest transaction: %w", err)
	}
	return true, accelSaved, nil
}

func insertAccel(tx *sql.Tx, a *AccelWindow) error {
	_, err := tx.Exec(
		`INSERT INTO accelerometer_data (device_id, timestamp_us, ts_start_us, ts_end_us,
			rms_x, rms_y, rms_z, rms_mag, max_x, max_y, max_z, max_mag,
			peaks_count, sample_count, flags)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.DeviceID, micros(a.Timestamp), micros(a.TsStart), micros(a.TsEnd),
		a.RMSX, a.RMSY, a.RMSZ, a.RMSMag, a.MaxX, a.MaxY, a.MaxZ, a.MaxMag,
		a.PeaksCount, a.SampleCount, a.Flags,
	)
	return err
}

// AccelWindowFor returns the accel window stored for (deviceID, ts), or
// (nil, nil) when absent.
func (db *DB) AccelWindowFor(deviceID string, tsUs int64) (*AccelWindow, error) {
	row := db.QueryRow(
		`SELECT device_id, timestamp_us, ts_start_us, ts_end_us,
			rms_x, rms_y, rms_z, rms_mag, max_x, max_y, max_z, max_mag,
			peaks_count, sample_count, flags
		 FROM accelerometer_data WHERE device_id = ? AND timestamp_us = ?`,
		deviceID, tsUs)

	var a AccelWindow
	var ts, start, end int64
	err := row.Scan(&a.DeviceID, &ts, &start, &end,
		&a.RMSX, &a.RMSY, &a.RMSZ, &a.RMSMag, &a.MaxX, &a.MaxY, &a.MaxZ, &a.MaxMag,
		&a.PeaksCount, &a.SampleCount, &a.Flags)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Timestamp = fromMicros(ts)
	a.TsStart = fromMicros(start)
	a.TsEnd = fromMicros(end)
	return &a, nil
}
