package db

import (
	"strings"
	"testing"
	"time"
)

func TestOneActiveTripPerDevice(t *testing.T) {
	db := newTestDB(t)
	createTestDevice(t, db, "D1")

	t0 := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	first := &Trip{
		TripID: "TRIP_20260826_D1_001", DeviceID: "D1",
		TripType: TripMovement, Status: TripActive,
		StartTime: t0, StartLat: 10, StartLon: -74,
	}
	if err := db.CreateTrip(first); err != nil {
		t.Fatalf("CreateTrip failed: %v", err)
	}

	second := &Trip{
		TripID: "TRIP_20260826_D1_002", DeviceID: "D1",
		TripType: TripMovement, Status: TripActive,
		StartTime: t0.Add(time.Minute), StartLat: 10, StartLon: -74,
	}
	err := db.CreateTrip(second)
	if err == nil {
		t.Fatal("second active trip for the same device should be rejected")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("expected unique violation, got: %v", err)
	}
}

func TestCloseTripThenCreateSucceeds(t *testing.T) {
	db := newTestDB(t)
	createTestDevice(t, db, "D1")

	t0 := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	first := &Trip{
		TripID: "TRIP_20260826_D1_001", DeviceID: "D1",
		TripType: TripMovement, Status: TripActive,
		StartTime: t0, StartLat: 10, StartLon: -74,
	}
	if err := db.CreateTrip(first); err != nil {
		t.Fatal(err)
	}

	end := t0.Add(10 * time.Minute)
	if err := db.CloseTrip(first.TripID, end, 5000, 600, 30); err != nil {
		t.Fatalf("CloseTrip failed: %v", err)
	}

	closed, err := db.Trip(first.TripID)
	if err != nil {
		t.Fatal(err)
	}
	if closed.Status != TripClosed {
		t.Errorf("status = %s, want closed", closed.Status)
	}
	if closed.EndTime == nil || !closed.EndTime.Equal(end) {
		t.Errorf("end_time = %v, want %v", closed.EndTime, end)
	}
	if closed.DistanceM != 5000 || closed.DurationS != 600 || closed.AvgSpeedKMH != 30 {
		t.Errorf("metrics = (%f, %f, %f)", closed.DistanceM, closed.DurationS, closed.AvgSpeedKMH)
	}

	second := &Trip{
		TripID: "TRIP_20260826_D1_002", DeviceID: "D1",
		TripType: TripMovement, Status: TripActive,
		StartTime: end, StartLat: 10.05, StartLon: -74,
	}
	if err := db.CreateTrip(second); err != nil {
		t.Fatalf("CreateTrip after close failed: %v", err)
	}

	active, err := db.ActiveTrip("D1")
	if err != nil {
		t.Fatal(err)
	}
	if active == nil || active.TripID != second.TripID {
		t.Errorf("active trip = %+v, want %s", active, second.TripID)
	}
}

func TestCloseTripRejectsInactive(t *testing.T) {
	db := newTestDB(t)
	createTestDevice(t, db, "D1")

	if err := db.CloseTrip("TRIP_20260826_D1_404", time.Now(), 0, 0, 0); err == nil {
		t.Error("closing an unknown trip should fail")
	}
}

func TestNextTripSequence(t *testing.T) {
	db := newTestDB(t)
	createTestDevice(t, db, "D1")

	t0 := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

	seq, err := db.NextTripSequence("D1", TripMovement, t0)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 1 {
		t.Errorf("first sequence = %d, want 1", seq)
	}

	trip := &Trip{
		TripID: "TRIP_20260826_D1_001", DeviceID: "D1",
		TripType: TripMovement, Status: TripClosed,
		StartTime: t0, StartLat: 10, StartLon: -74,
	}
	if err := db.CreateTrip(trip); err != nil {
		t.Fatal(err)
	}

	seq, err = db.NextTripSequence("D1", TripMovement, t0)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 2 {
		t.Errorf("second sequence = %d, want 2", seq)
	}

	// Parking trips number independently of movement trips.
	seq, err = db.NextTripSequence("D1", TripParking, t0)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 1 {
		t.Errorf("parking sequence = %d, want 1", seq)
	}
}

func TestTripIDPrefix(t *testing.T) {
	t0 := time.Date(2026, 8, 26, 23, 59, 0, 0, time.UTC)
	if got := TripIDPrefix("D1", TripMovement, t0); got != "TRIP_20260826_D1_" {
		t.Errorf("movement prefix = %q", got)
	}
	if got := TripIDPrefix("D1", TripParking, t0); got != "PARKING_20260826_D1_" {
		t.Errorf("parking prefix = %q", got)
	}
}

func TestEndTimeBeforeStartRejected(t *testing.T) {
	db := newTestDB(t)
	createTestDevice(t, db, "D1")

	t0 := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	trip := &Trip{
		TripID: "TRIP_20260826_D1_001", DeviceID: "D1",
		TripType: TripMovement, Status: TripActive,
		StartTime: t0, StartLat: 10, StartLon: -74,
	}
	if err := db.CreateTrip(trip); err != nil {
		t.Fatal(err)
	}

	err := db.CloseTrip(trip.TripID, t0.Add(-time.Minute), 0, 0, 0)
	if err == nil || !strings.Contains(err.Error(), "failed to close") {
		t.Errorf("end before start should violate the check constraint, got: %v", err)
	}
}
