// Package db owns the sqlite store for the fleet telemetry service: device
// registry, GPS fixes, accelerometer windows, trips and geofences, plus the
// R*Tree index that backs geofence containment queries.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlite3 "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// NewDB opens (creating if necessary) the database at path and applies the
// baseline schema. Use ":memory:" for tests.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return db, nil
}

// OpenDB opens the database without touching the schema. The migrate
// subcommand uses this so golang-migrate fully owns schema changes.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL keeps the UDP ingestion writers from starving the monitor reads.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	return &DB{db}, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS devices (
		device_id      TEXT PRIMARY KEY CHECK(length(device_id) BETWEEN 1 AND 100),
		name           TEXT NOT NULL DEFAULT '',
		description    TEXT NOT NULL DEFAULT '',
		is_active      INTEGER NOT NULL DEFAULT 1,
		created_at_us  INTEGER NOT NULL,
		last_seen_us   INTEGER
	);

	CREATE TABLE IF NOT EXISTS trips (
		trip_id        TEXT PRIMARY KEY,
		device_id      TEXT NOT NULL REFERENCES devices(device_id),
		trip_type      TEXT NOT NULL CHECK(trip_type IN ('movement','parking')),
		status         TEXT NOT NULL CHECK(status IN ('active','closed')),
		start_time_us  INTEGER NOT NULL,
		end_time_us    INTEGER CHECK(end_time_us IS NULL OR end_time_us >= start_time_us),
		start_lat      DOUBLE NOT NULL,
		start_lon      DOUBLE NOT NULL,
		distance_m     DOUBLE NOT NULL DEFAULT 0,
		duration_s     DOUBLE NOT NULL DEFAULT 0,
		avg_speed_kmh  DOUBLE NOT NULL DEFAULT 0,
		point_count    INTEGER NOT NULL DEFAULT 0
	);
	CREATE UNIQUE INDEX IF NOT EXISTS trips_one_active
		ON trips(device_id) WHERE status = 'active';
	CREATE INDEX IF NOT EXISTS trips_device_start
		ON trips(device_id, start_time_us);

	CREATE TABLE IF NOT EXISTS gps_data (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id      TEXT NOT NULL REFERENCES devices(device_id),
		latitude       DOUBLE NOT NULL CHECK(latitude BETWEEN -90 AND 90),
		longitude      DOUBLE NOT NULL CHECK(longitude BETWEEN -180 AND 180),
		altitude       DOUBLE NOT NULL DEFAULT 0,
		accuracy       DOUBLE NOT NULL DEFAULT 0 CHECK(accuracy >= 0),
		timestamp_us   INTEGER NOT NULL,
		trip_id        TEXT REFERENCES trips(trip_id),
		geofence_id    INTEGER,
		geofence_name  TEXT,
		geofence_event TEXT CHECK(geofence_event IS NULL OR geofence_event IN ('entry','exit','inside')),
		UNIQUE(device_id, timestamp_us)
	);
	CREATE INDEX IF NOT EXISTS gps_device_ts
		ON gps_data(device_id, timestamp_us DESC);
	CREATE INDEX IF NOT EXISTS gps_trip
		ON gps_data(trip_id) WHERE trip_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS accelerometer_data (
		device_id      TEXT NOT NULL,
		timestamp_us   INTEGER NOT NULL,
		ts_start_us    INTEGER NOT NULL,
		ts_end_us      INTEGER NOT NULL,
		rms_x          DOUBLE NOT NULL DEFAULT 0,
		rms_y          DOUBLE NOT NULL DEFAULT 0,
		rms_z          DOUBLE NOT NULL DEFAULT 0,
		rms_mag        DOUBLE NOT NULL DEFAULT 0,
		max_x          DOUBLE NOT NULL DEFAULT 0,
		max_y          DOUBLE NOT NULL DEFAULT 0,
		max_z          DOUBLE NOT NULL DEFAULT 0,
		max_mag        DOUBLE NOT NULL DEFAULT 0,
		peaks_count    INTEGER NOT NULL DEFAULT 0,
		sample_count   INTEGER NOT NULL CHECK(sample_count BETWEEN 1 AND 500),
		flags          INTEGER NOT NULL DEFAULT 0 CHECK(flags BETWEEN 0 AND 255),
		PRIMARY KEY (device_id, timestamp_us)
	);

	CREATE TABLE IF NOT EXISTS geofences (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		name           TEXT NOT NULL,
		ring           TEXT NOT NULL,
		area_m2        DOUBLE NOT NULL,
		is_active      INTEGER NOT NULL DEFAULT 1,
		color          TEXT NOT NULL DEFAULT '',
		description    TEXT NOT NULL DEFAULT '',
		created_at_us  INTEGER NOT NULL
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS geofences_rtree USING rtree(
		id, min_lat, max_lat, min_lon, max_lon
	);
`

// IsUniqueViolation reports whether err is a sqlite UNIQUE constraint
// failure. Duplicate fixes and duplicate accel windows surface this way and
// are expected during UDP replays.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite3.Error
	if errors.As(err, &se) {
		// SQLITE_CONSTRAINT_PRIMARYKEY and SQLITE_CONSTRAINT_UNIQUE
		return se.Code() == 1555 || se.Code() == 2067
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
