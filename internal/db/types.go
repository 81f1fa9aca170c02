package db

import "time"

// Trip lifecycle values.
const (
	TripMovement = "movement"
	TripParking  = "parking"

	TripActive = "active"
	TripClosed = "closed"
)

// Geofence event values carried on a fix.
const (
	GeofenceEntry  = "entry"
	GeofenceExit   = "exit"
	GeofenceInside = "inside"
)

// Device is a registered GPS tracker. Only active devices may write fixes.
type Device struct {
	DeviceID    string
	Name        string
	Description string
	IsActive    bool
	CreatedAt   time.Time
	LastSeen    *time.Time
}

// GpsFix is one GPS observation. Timestamps are stored as unix microseconds
// so the artificial exit row at t-1µs sorts strictly before its entry row.
type GpsFix struct {
	ID            int64
	DeviceID      string
	Latitude      float64
	Longitude     float64
	Altitude      float64
	Accuracy      float64
	Timestamp     time.Time
	TripID        *string
	GeofenceID    *int64
	GeofenceName  *string
	GeofenceEvent *string
}

// AccelWindow is the 5-second accelerometer summary that may accompany a fix.
// It is keyed by (device, timestamp) matching its GPS partner.
type AccelWindow struct {
	DeviceID    string
	Timestamp   time.Time
	TsStart     time.Time
	TsEnd       time.Time
	RMSX        float64
	RMSY        float64
	RMSZ        float64
	RMSMag      float64
	MaxX        float64
	MaxY        float64
	MaxZ        float64
	MaxMag      float64
	PeaksCount  int
	SampleCount int
	Flags       int
}

// Trip is a labelled segment of a device's fix stream.
type Trip struct {
	TripID      string
	DeviceID    string
	TripType    string
	Status      string
	StartTime   time.Time
	EndTime     *time.Time
	StartLat    float64
	StartLon    float64
	DistanceM   float64
	DurationS   float64
	AvgSpeedKMH float64
	PointCount  int
}

// micros converts a time to the stored unix-microsecond representation.
func micros(t time.Time) int64 { return t.UnixMicro() }

// fromMicros converts a stored unix-microsecond value back to UTC time.
func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

func microsPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	us := t.UnixMicro()
	return &us
}

func fromMicrosPtr(us *int64) *time.Time {
	if us == nil {
		return nil
	}
	t := fromMicros(*us)
	return &t
}
