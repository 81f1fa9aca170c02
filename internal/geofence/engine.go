// Package geofence classifies each incoming fix against the active geofence
// polygons and emits entry, inside and exit transitions.
package geofence

import (
	"time"

	"github.com/oakmere/fleettrack/internal/db"
	"github.com/oakmere/fleettrack/internal/monitoring"
)

// Store is the slice of the store the engine queries.
type Store interface {
	GeofenceCandidates(lat, lon float64) ([]db.Geofence, error)
}

// Result is the geofence annotation for one fix. All fields nil means the
// device is outside every fence and was outside before.
type Result struct {
	GeofenceID   *int64
	GeofenceName *string
	Event        *string

	// ArtificialExit is a synthesized exit fix that must be persisted
	// strictly before the annotated fix. Non-nil only when the device moved
	// directly from one fence into another.
	ArtificialExit *db.GpsFix
}

// Engine resolves fixes to geofence transitions.
type Engine struct {
	store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Evaluate determines the geofence state of a fix given the device's previous
// fix (nil when this is the first). The candidate query returns active fences
// smallest first, so the first exact containment hit wins nested fences.
//
// A store failure degrades to an empty Result: the fix proceeds without
// geofence fields rather than being dropped.
func (e *Engine) Evaluate(deviceID string, lat, lon float64, ts time.Time, prev *db.GpsFix) Result {
	candidates, err := e.store.GeofenceCandidates(lat, lon)
	if err != nil {
		monitoring.Logf("geofence lookup failed for %s: %v", deviceID, err)
		return Result{}
	}

	var current *db.Geofence
	for i := range candidates {
		if candidates[i].Ring.Contains(lat, lon) {
			current = &candidates[i]
			break
		}
	}

	var prevID *int64
	var prevName *string
	if prev != nil {
		prevID = prev.GeofenceID
		prevName = prev.GeofenceName
	}

	if current == nil {
		if prevID == nil {
			return Result{}
		}
		// Left the previous fence into open ground.
		evt := db.GeofenceExit
		return Result{Event: &evt}
	}

	if prevID != nil && *prevID == current.ID {
		evt := db.GeofenceInside
		return Result{
			GeofenceID:   &current.ID,
			GeofenceName: &current.Name,
			Event:        &evt,
		}
	}

	evt := db.GeofenceEntry
	res := Result{
		GeofenceID:   &current.ID,
		GeofenceName: &current.Name,
		Event:        &evt,
	}

	// Fence-to-fence transition: pair the entry with an exit from the old
	// fence, one microsecond earlier at the same position.
	if prevID != nil {
		exitEvt := db.GeofenceExit
		exitID := *prevID
		res.ArtificialExit = &db.GpsFix{
			DeviceID:      deviceID,
			Latitude:      lat,
			Longitude:     lon,
			Timestamp:     ts.Add(-time.Microsecond),
			GeofenceID:    &exitID,
			GeofenceName:  prevName,
			GeofenceEvent: &exitEvt,
		}
	}

	return res
}
