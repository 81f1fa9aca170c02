package broadcast

import (
	"encoding/json"
	"time"

	"github.com/oakmere/fleettrack/internal/db"
	"github.com/oakmere/fleettrack/internal/monitoring"
)

// fixFrame is the wire shape of one GPS fix as observers see it.
type fixFrame struct {
	DeviceID  string         `json:"device_id"`
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	Altitude  float64        `json:"altitude"`
	Accuracy  float64        `json:"accuracy"`
	Timestamp string         `json:"timestamp"`
	TripID    *string        `json:"trip_id"`
	Geofence  *geofenceFrame `json:"geofence"`
}

type geofenceFrame struct {
	ID    *int64  `json:"id"`
	Name  *string `json:"name"`
	Event string  `json:"event"`
}

// EncodeFix renders a persisted fix as the observer wire frame. Timestamps go
// out as RFC 3339 UTC; the geofence object is null for fixes outside every
// fence.
func EncodeFix(f *db.GpsFix) []byte {
	frame := fixFrame{
		DeviceID:  f.DeviceID,
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		Altitude:  f.Altitude,
		Accuracy:  f.Accuracy,
		Timestamp: f.Timestamp.UTC().Format(time.RFC3339),
		TripID:    f.TripID,
	}
	if f.GeofenceEvent != nil {
		frame.Geofence = &geofenceFrame{
			ID:    f.GeofenceID,
			Name:  f.GeofenceName,
			Event: *f.GeofenceEvent,
		}
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		monitoring.Logf("failed to encode fix frame for %s: %v", f.DeviceID, err)
		return nil
	}
	return payload
}
