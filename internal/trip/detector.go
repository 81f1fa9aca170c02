// Package trip segments each device's fix stream into movement and parking
// trips.
package trip

import (
	"fmt"
	"sync"
	"time"

	"github.com/oakmere/fleettrack/internal/config"
	"github.com/oakmere/fleettrack/internal/db"
	"github.com/oakmere/fleettrack/internal/geo"
	"github.com/oakmere/fleettrack/internal/monitoring"
	"github.com/oakmere/fleettrack/internal/units"
)

// Store is the slice of the store the detector needs.
type Store interface {
	ActiveTrip(deviceID string) (*db.Trip, error)
	PreviousFix(deviceID string) (*db.GpsFix, error)
	CreateTrip(t *db.Trip) error
	CloseTrip(tripID string, end time.Time, distanceM, durationS, avgSpeedKMH float64) error
	TripFixes(tripID string) ([]db.GpsFix, error)
	NextTripSequence(deviceID, tripType string, start time.Time) (int, error)
}

// Decision names the action the detector took for a fix.
type Decision string

const (
	CreateMovementTrip    Decision = "create_movement_trip"
	CloseAndCreate        Decision = "close_and_create"
	CloseParking          Decision = "close_parking"
	AssociateExisting     Decision = "associate_existing"
	IncrementStillCounter Decision = "increment_still_counter"
	CreateParkingTrip     Decision = "create_parking_trip"
)

// deviceState is the in-memory detector state for one device. It is loaded
// lazily from the store on the first fix after startup.
type deviceState struct {
	stillCount int
	trip       *db.Trip
	lastLat    float64
	lastLon    float64
	hasLast    bool
}

// Detector is the per-device trip state machine. Process must be called with
// fixes in arrival order per device; concurrent calls for different devices
// are safe.
type Detector struct {
	store Store
	cfg   config.TripConfig

	mu    sync.Mutex
	state map[string]*deviceState
}

func NewDetector(store Store, cfg config.TripConfig) *Detector {
	return &Detector{
		store: store,
		cfg:   cfg,
		state: make(map[string]*deviceState),
	}
}

// Process runs the decision algorithm for one fix and returns the trip id the
// fix should be persisted with (nil when no trip is active).
func (d *Detector) Process(deviceID string, lat, lon float64, ts time.Time) (*string, Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, err := d.deviceState(deviceID)
	if err != nil {
		return nil, "", err
	}

	defer func() {
		st.lastLat, st.lastLon, st.hasLast = lat, lon, true
	}()

	// First fix ever seen for this device.
	if !st.hasLast {
		if st.trip != nil {
			// Active trip survived a restart with no fix history; keep it.
			return &st.trip.TripID, AssociateExisting, nil
		}
		if err := d.openTrip(st, deviceID, db.TripMovement, lat, lon, ts); err != nil {
			return nil, "", err
		}
		return &st.trip.TripID, CreateMovementTrip, nil
	}

	delta := geo.Haversine(st.lastLat, st.lastLon, lat, lon)

	// A discontinuous position means the tracker moved while off. Never
	// bridge it into one trip. Strictly greater-than.
	if delta > d.cfg.SpatialJumpM {
		if st.trip != nil {
			if err := d.closeTrip(st, ts); err != nil {
				return nil, "", err
			}
		}
		st.stillCount = 0
		if err := d.openTrip(st, deviceID, db.TripMovement, lat, lon, ts); err != nil {
			return nil, "", err
		}
		return &st.trip.TripID, CloseAndCreate, nil
	}

	if delta > d.cfg.MovementThresholdM {
		st.stillCount = 0
		switch {
		case st.trip == nil:
			if err := d.openTrip(st, deviceID, db.TripMovement, lat, lon, ts); err != nil {
				return nil, "", err
			}
			return &st.trip.TripID, CreateMovementTrip, nil
		case st.trip.TripType == db.TripParking:
			if err := d.closeTrip(st, ts); err != nil {
				return nil, "", err
			}
			if err := d.openTrip(st, deviceID, db.TripMovement, lat, lon, ts); err != nil {
				return nil, "", err
			}
			return &st.trip.TripID, CloseParking, nil
		default:
			return &st.trip.TripID, AssociateExisting, nil
		}
	}

	// Still fix.
	st.stillCount++
	if st.trip != nil && st.trip.TripType == db.TripMovement &&
		st.stillCount >= d.cfg.ParkingStillCount {
		if err := d.closeTrip(st, ts); err != nil {
			return nil, "", err
		}
		if err := d.openTrip(st, deviceID, db.TripParking, lat, lon, ts); err != nil {
			return nil, "", err
		}
		return &st.trip.TripID, CreateParkingTrip, nil
	}
	if st.trip != nil {
		return &st.trip.TripID, IncrementStillCounter, nil
	}
	return nil, IncrementStillCounter, nil
}

// deviceState returns the state for a device, loading active trip and last
// position from the store on first sight.
func (d *Detector) deviceState(deviceID string) (*deviceState, error) {
	if st, ok := d.state[deviceID]; ok {
		return st, nil
	}

	st := &deviceState{}
	trip, err := d.store.ActiveTrip(deviceID)
	if err != nil {
		return nil, fmt.Errorf("trip state load for %s: %w", deviceID, err)
	}
	st.trip = trip

	prev, err := d.store.PreviousFix(deviceID)
	if err != nil {
		return nil, fmt.Errorf("trip state load for %s: %w", deviceID, err)
	}
	if prev != nil {
		st.lastLat, st.lastLon, st.hasLast = prev.Latitude, prev.Longitude, true
	}

	d.state[deviceID] = st
	return st, nil
}

func (d *Detector) openTrip(st *deviceState, deviceID, tripType string, lat, lon float64, ts time.Time) error {
	seq, err := d.store.NextTripSequence(deviceID, tripType, ts)
	if err != nil {
		return err
	}
	t := &db.Trip{
		TripID:     fmt.Sprintf("%s%03d", db.TripIDPrefix(deviceID, tripType, ts), seq),
		DeviceID:   deviceID,
		TripType:   tripType,
		Status:     db.TripActive,
		StartTime:  ts,
		StartLat:   lat,
		StartLon:   lon,
		PointCount: 1,
	}
	if err := d.store.CreateTrip(t); err != nil {
		return fmt.Errorf("failed to open %s trip for %s: %w", tripType, deviceID, err)
	}
	st.trip = t
	monitoring.Logf("trip %s started for %s at (%.5f, %.5f)", t.TripID, deviceID, lat, lon)
	return nil
}

// closeTrip finalizes st.trip at end: cumulative distance over the trip's
// persisted fixes, wall-clock duration and average speed in km/h, clamped to
// zero for zero-duration trips.
func (d *Detector) closeTrip(st *deviceState, end time.Time) error {
	t := st.trip

	fixes, err := d.store.TripFixes(t.TripID)
	if err != nil {
		return err
	}
	var distanceM float64
	for i := 1; i < len(fixes); i++ {
		distanceM += geo.Haversine(
			fixes[i-1].Latitude, fixes[i-1].Longitude,
			fixes[i].Latitude, fixes[i].Longitude)
	}

	durationS := end.Sub(t.StartTime).Seconds()
	var avgKMH float64
	if durationS > 0 {
		avgKMH = units.MPSToKMH(distanceM / durationS)
	}

	if err := d.store.CloseTrip(t.TripID, end, distanceM, durationS, avgKMH); err != nil {
		return err
	}
	monitoring.Logf("trip %s closed: %.0fm over %.0fs (%.1f km/h)",
		t.TripID, distanceM, durationS, avgKMH)
	st.trip = nil
	return nil
}
