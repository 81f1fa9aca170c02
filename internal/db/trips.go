package db

import (
	"database/sql"
	"fmt"
	"time"
)

const tripColumns = `trip_id, device_id, trip_type, status, start_time_us, end_time_us,
	start_lat, start_lon, distance_m, duration_s, avg_speed_kmh, point_count`

func scanTrip(scan func(...any) error) (*Trip, error) {
	var t Trip
	var startUs int64
	var endUs *int64
	if err := scan(&t.TripID, &t.DeviceID, &t.TripType, &t.Status, &startUs, &endUs,
		&t.StartLat, &t.StartLon, &t.DistanceM, &t.DurationS, &t.AvgSpeedKMH,
		&t.PointCount); err != nil {
		return nil, err
	}
	t.StartTime = fromMicros(startUs)
	t.EndTime = fromMicrosPtr(endUs)
	return &t, nil
}

// NextTripSequence returns the next NNN sequence number for a trip id of the
// given type, for the device, on the UTC day of start. Movement and parking
// trips number independently.
func (db *DB) NextTripSequence(deviceID, tripType string, start time.Time) (int, error) {
	prefix := TripIDPrefix(deviceID, tripType, start)
	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM trips WHERE trip_id LIKE ? || '%'`, prefix,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count trips for %s: %w", deviceID, err)
	}
	return count + 1, nil
}

// TripIDPrefix builds the human-decodable id prefix, e.g.
// TRIP_20260826_D1_ or PARKING_20260826_D1_.
func TripIDPrefix(deviceID, tripType string, start time.Time) string {
	kind := "TRIP"
	if tripType == TripParking {
		kind = "PARKING"
	}
	return fmt.Sprintf("%s_%s_%s_", kind, start.UTC().Format("20060102"), deviceID)
}

// CreateTrip inserts a new trip. The partial unique index on
// (device_id) WHERE status='active' enforces the one-active-trip invariant
// at the store level.
func (db *DB) CreateTrip(t *Trip) error {
	_, err := db.Exec(
		`INSERT INTO trips (trip_id, device_id, trip_type, status, start_time_us, end_time_us,
			start_lat, start_lon, distance_m, duration_s, avg_speed_kmh, point_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TripID, t.DeviceID, t.TripType, t.Status, micros(t.StartTime), microsPtr(t.EndTime),
		t.StartLat, t.StartLon, t.DistanceM, t.DurationS, t.AvgSpeedKMH, t.PointCount,
	)
	if err != nil {
		return fmt.Errorf("failed to create trip %s: %w", t.TripID, err)
	}
	return nil
}

// ActiveTrip returns the device's active trip, or (nil, nil) when idle.
func (db *DB) ActiveTrip(deviceID string) (*Trip, error) {
	row := db.QueryRow(
		`SELECT `+tripColumns+` FROM trips
		 WHERE device_id = ? AND status = 'active'`, deviceID)
	t, err := scanTrip(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active trip for %s: %w", deviceID, err)
	}
	return t, nil
}

// Trip loads a trip by id, or (nil, nil) when absent.
func (db *DB) Trip(tripID string) (*Trip, error) {
	row := db.QueryRow(`SELECT `+tripColumns+` FROM trips WHERE trip_id = ?`, tripID)
	t, err := scanTrip(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CloseTrip marks a trip closed and records its final metrics.
func (db *DB) CloseTrip(tripID string, end time.Time, distanceM, durationS, avgSpeedKMH float64) error {
	res, err := db.Exec(
		`UPDATE trips SET status = 'closed', end_time_us = ?, distance_m = ?,
			duration_s = ?, avg_speed_kmh = ?
		 WHERE trip_id = ? AND status = 'active'`,
		micros(end), distanceM, durationS, avgSpeedKMH, tripID,
	)
	if err != nil {
		return fmt.Errorf("failed to close trip %s: %w", tripID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("trip %s is not active", tripID)
	}
	return nil
}

// DeviceTrips lists trips for a device, newest first.
func (db *DB) DeviceTrips(deviceID string, limit int) ([]Trip, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT `+tripColumns+` FROM trips
		 WHERE device_id = ? ORDER BY start_time_us DESC LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []Trip
	for rows.Next() {
		t, err := scanTrip(rows.Scan)
		if err != nil {
			return nil, err
		}
		trips = append(trips, *t)
	}
	return trips, rows.Err()
}

// ClosedTripSpeeds returns the average speeds (km/h) of closed trips over the
// trailing number of days, for the rollup statistics.
func (db *DB) ClosedTripSpeeds(days int) ([]float64, error) {
	if days <= 0 {
		days = 1
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := db.Query(
		`SELECT avg_speed_kmh FROM trips
		 WHERE status = 'closed' AND trip_type = 'movement' AND start_time_us >= ?
		 ORDER BY start_time_us`, micros(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var speeds []float64
	for rows.Next() {
		var s float64
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		speeds = append(speeds, s)
	}
	return speeds, rows.Err()
}

// TripsPerDay returns closed-trip counts grouped by UTC day for the trailing
// number of days, oldest first.
func (db *DB) TripsPerDay(days int) (dates []string, counts []int, err error) {
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := db.Query(
		`SELECT date(start_time_us / 1000000, 'unixepoch') AS day, COUNT(*)
		 FROM trips WHERE start_time_us >= ?
		 GROUP BY day ORDER BY day`, micros(cutoff))
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var day string
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, nil, err
		}
		dates = append(dates, day)
		counts = append(counts, n)
	}
	return dates, counts, rows.Err()
}
