package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GPSRecord is the canonical form of one datagram after normalization.
type GPSRecord struct {
	DeviceID  string
	Latitude  float64
	Longitude float64
	Altitude  float64
	Accuracy  float64
	Timestamp time.Time
}

// msThreshold is the boundary between UNIX-seconds and UNIX-milliseconds
// interpretations of a numeric timestamp. Values below 10^12 are seconds.
const msThreshold = 1e12

// fieldAliases maps canonical field names to the spellings trackers actually
// send. Lookup is case-insensitive after stripping underscores, so e.g.
// "Device_ID", "deviceid" and "DEVICEID" all land on the same slot.
var fieldAliases = map[string][]string{
	"deviceid":  {"deviceid", "device", "id", "imei", "trackerid"},
	"latitude":  {"latitude", "lat"},
	"longitude": {"longitude", "lon", "lng", "long"},
	"altitude":  {"altitude", "alt", "elevation"},
	"accuracy":  {"accuracy", "acc", "hdop"},
	"timestamp": {"timestamp", "ts", "time", "datetime"},
}

// Normalize canonicalizes a parsed datagram into a GPSRecord, plus the raw
// accel block when one is present. Device id, coordinates and timestamp are
// required; altitude and accuracy default to zero.
func Normalize(rec map[string]any) (*GPSRecord, map[string]any, error) {
	fields := make(map[string]any, len(rec))
	for k, v := range rec {
		fields[foldKey(k)] = v
	}

	out := &GPSRecord{}

	rawID, ok := lookup(fields, "deviceid")
	if !ok {
		return nil, nil, fmt.Errorf("missing device id")
	}
	out.DeviceID = strings.TrimSpace(fmt.Sprintf("%v", rawID))
	if out.DeviceID == "" {
		return nil, nil, fmt.Errorf("empty device id")
	}

	var err error
	if out.Latitude, err = requiredFloat(fields, "latitude"); err != nil {
		return nil, nil, err
	}
	if out.Longitude, err = requiredFloat(fields, "longitude"); err != nil {
		return nil, nil, err
	}
	if out.Altitude, err = optionalFloat(fields, "altitude"); err != nil {
		return nil, nil, err
	}
	if out.Accuracy, err = optionalFloat(fields, "accuracy"); err != nil {
		return nil, nil, err
	}

	rawTS, ok := lookup(fields, "timestamp")
	if !ok {
		return nil, nil, fmt.Errorf("missing timestamp")
	}
	if out.Timestamp, err = ParseTimestamp(rawTS); err != nil {
		return nil, nil, err
	}

	var accel map[string]any
	if raw, ok := rec["accel"]; ok {
		if m, ok := raw.(map[string]any); ok {
			accel = m
		}
	}

	return out, accel, nil
}

// ParseTimestamp normalizes the timestamp spellings seen on the wire to a
// UTC instant. Numbers (and numeric strings) are UNIX seconds below 10^12
// and milliseconds above; ISO-8601 strings are accepted, with naive values
// treated as UTC.
func ParseTimestamp(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case float64:
		return fromUnixNumber(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, fmt.Errorf("empty timestamp")
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return fromUnixNumber(n), nil
		}
		layouts := []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02T15:04:05.999999999", // naive, treated as UTC
			"2006-01-02T15:04:05",
			"2006-01-02 15:04:05",
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				if t.Location() == time.Local {
					t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(),
						t.Second(), t.Nanosecond(), time.UTC)
				}
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	default:
		return time.Time{}, fmt.Errorf("timestamp has unsupported type %T", raw)
	}
}

func fromUnixNumber(n float64) time.Time {
	if n < msThreshold {
		sec := int64(n)
		frac := n - float64(sec)
		return time.Unix(sec, int64(frac*1e9)).UTC()
	}
	return time.UnixMilli(int64(n)).UTC()
}

func foldKey(k string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), "_", "")
}

func lookup(fields map[string]any, canonical string) (any, bool) {
	for _, alias := range fieldAliases[canonical] {
		if v, ok := fields[alias]; ok {
			return v, true
		}
	}
	return nil, false
}

func requiredFloat(fields map[string]any, canonical string) (float64, error) {
	raw, ok := lookup(fields, canonical)
	if !ok {
		return 0, fmt.Errorf("missing %s", canonical)
	}
	f, err := coerceFloat(raw)
	if err != nil {
		return 0, fmt.Errorf("bad %s: %w", canonical, err)
	}
	return f, nil
}

func optionalFloat(fields map[string]any, canonical string) (float64, error) {
	raw, ok := lookup(fields, canonical)
	if !ok {
		return 0, nil
	}
	f, err := coerceFloat(raw)
	if err != nil {
		return 0, fmt.Errorf("bad %s: %w", canonical, err)
	}
	return f, nil
}

// coerceFloat accepts JSON numbers and their string form.
func coerceFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("not numeric: %q", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("not numeric: %T", raw)
	}
}
