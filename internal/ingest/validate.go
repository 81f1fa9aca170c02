package ingest

import (
	"fmt"
	"math"
	"time"

	"github.com/oakmere/fleettrack/internal/db"
	"github.com/oakmere/fleettrack/internal/monitoring"
)

// DeviceStore is the slice of the store the validator needs.
type DeviceStore interface {
	Device(deviceID string) (*db.Device, error)
}

// CheckDevice verifies that the device behind a datagram is registered and
// active. Failures are audit-logged with the sender address and block the
// datagram.
func CheckDevice(store DeviceStore, deviceID, sender string) (*db.Device, error) {
	d, err := store.Device(deviceID)
	if err != nil {
		return nil, fmt.Errorf("device lookup for %s: %w", deviceID, err)
	}
	if d == nil {
		monitoring.Auditf("rejected datagram from %s: unknown device %q", sender, deviceID)
		return nil, fmt.Errorf("unknown device %q", deviceID)
	}
	if !d.IsActive {
		monitoring.Auditf("rejected datagram from %s: inactive device %q", sender, deviceID)
		return nil, fmt.Errorf("inactive device %q", deviceID)
	}
	return d, nil
}

// ValidateRecord checks a normalized GPS record against the fix schema.
// Failure drops the datagram.
func ValidateRecord(rec *GPSRecord) error {
	if len(rec.DeviceID) > 100 {
		return fmt.Errorf("device id longer than 100 chars")
	}
	if rec.Latitude < -90 || rec.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range", rec.Latitude)
	}
	if rec.Longitude < -180 || rec.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range", rec.Longitude)
	}
	if rec.Accuracy < 0 {
		return fmt.Errorf("negative accuracy %f", rec.Accuracy)
	}
	if rec.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	return nil
}

// ValidateAccel builds an AccelWindow from the raw accel block of a datagram.
// Unlike the GPS schema check this never blocks the fix: a bad block is
// reported as an error and the caller discards only the accel.
func ValidateAccel(deviceID string, ts time.Time, raw map[string]any) (*db.AccelWindow, error) {
	w := &db.AccelWindow{DeviceID: deviceID, Timestamp: ts}

	var err error
	if w.TsStart, err = accelTime(raw, "ts_start"); err != nil {
		return nil, err
	}
	if w.TsEnd, err = accelTime(raw, "ts_end"); err != nil {
		return nil, err
	}
	if w.TsEnd.Before(w.TsStart) {
		return nil, fmt.Errorf("accel window ends before it starts")
	}

	if w.RMSX, w.RMSY, w.RMSZ, w.RMSMag, err = accelAxes(raw, "rms"); err != nil {
		return nil, err
	}
	if w.MaxX, w.MaxY, w.MaxZ, w.MaxMag, err = accelAxes(raw, "max"); err != nil {
		return nil, err
	}

	if w.PeaksCount, err = accelInt(raw, "peaks_count", 0, math.MaxInt32); err != nil {
		return nil, err
	}
	if w.SampleCount, err = accelInt(raw, "sample_count", 1, 500); err != nil {
		return nil, err
	}
	if w.Flags, err = accelInt(raw, "flags", 0, 255); err != nil {
		return nil, err
	}
	return w, nil
}

func accelTime(raw map[string]any, key string) (time.Time, error) {
	v, ok := raw[key]
	if !ok {
		return time.Time{}, fmt.Errorf("accel missing %s", key)
	}
	t, err := ParseTimestamp(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("accel %s: %w", key, err)
	}
	return t, nil
}

func accelAxes(raw map[string]any, key string) (x, y, z, mag float64, err error) {
	block, ok := raw[key].(map[string]any)
	if !ok {
		return 0, 0, 0, 0, fmt.Errorf("accel missing %s block", key)
	}
	for _, axis := range []struct {
		name string
		dst  *float64
	}{{"x", &x}, {"y", &y}, {"z", &z}, {"mag", &mag}} {
		v, ok := block[axis.name]
		if !ok {
			return 0, 0, 0, 0, fmt.Errorf("accel %s missing %s", key, axis.name)
		}
		if *axis.dst, err = coerceFloat(v); err != nil {
			return 0, 0, 0, 0, fmt.Errorf("accel %s.%s: %w", key, axis.name, err)
		}
	}
	return x, y, z, mag, nil
}

func accelInt(raw map[string]any, key string, lo, hi int) (int, error) {
	v, ok := raw[key]
	if !ok {
		return 0, fmt.Errorf("accel missing %s", key)
	}
	f, err := coerceFloat(v)
	if err != nil {
		return 0, fmt.Errorf("accel %s: %w", key, err)
	}
	n := int(f)
	if float64(n) != f {
		return 0, fmt.Errorf("accel %s is not an integer: %v", key, f)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("accel %s = %d outside [%d, %d]", key, n, lo, hi)
	}
	return n, nil
}
