package db

import (
	"testing"
	"time"

	"github.com/oakmere/fleettrack/internal/geo"
)

func strPtr(s string) *string {
	return &s
}

// newTestDB opens an in-memory database with the full schema applied.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(":memory:")
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// createTestDevice registers an active device for tests.
func createTestDevice(t *testing.T, db *DB, deviceID string) *Device {
	t.Helper()
	d := &Device{
		DeviceID: deviceID,
		Name:     "Test Tracker",
		IsActive: true,
	}
	if err := db.CreateDevice(d); err != nil {
		t.Fatalf("CreateDevice failed: %v", err)
	}
	return d
}

// createTestGeofence inserts an active square geofence centred on (lat, lon)
// with roughly the given half-side in degrees.
func createTestGeofence(t *testing.T, db *DB, name string, lat, lon, halfDeg float64) *Geofence {
	t.Helper()
	g := &Geofence{
		Name:     name,
		IsActive: true,
		Ring: geo.Ring{
			{Lat: lat - halfDeg, Lon: lon - halfDeg},
			{Lat: lat - halfDeg, Lon: lon + halfDeg},
			{Lat: lat + halfDeg, Lon: lon + halfDeg},
			{Lat: lat + halfDeg, Lon: lon - halfDeg},
		},
	}
	if err := db.CreateGeofence(g); err != nil {
		t.Fatalf("CreateGeofence failed: %v", err)
	}
	return g
}

// testFix builds a plain fix without geofence or trip annotations.
func testFix(deviceID string, lat, lon float64, ts time.Time) *GpsFix {
	return &GpsFix{
		DeviceID:  deviceID,
		Latitude:  lat,
		Longitude: lon,
		Altitude:  75,
		Accuracy:  5,
		Timestamp: ts,
	}
}
