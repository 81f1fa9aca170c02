// Package ingest implements the UDP ingestion pipeline: datagram parsing,
// field normalization, device/schema validation and the supervisor that wires
// each datagram through the geofence engine, trip detector and store.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// utf8BOM is stripped from the front of every datagram before parsing.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseDatagram decodes a raw datagram into a generic JSON object. Field
// trackers in the wild emit a surprising range of almost-JSON, so decoding is
// a four-step fallback chain, each step attempted only when the previous one
// failed:
//
//  1. strict UTF-8 then JSON;
//  2. lossy UTF-8 (invalid bytes replaced) then JSON;
//  3. the substring from the first '{' to the last '}' then JSON;
//  4. single quotes replaced with double quotes then JSON.
//
// The sender identity is only used for error reporting; a datagram that fails
// all four steps is dropped by the caller, never retried.
func ParseDatagram(data []byte, sender string) (map[string]any, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	// Step 1: strict decode.
	if utf8.Valid(data) {
		if rec, err := decodeJSON(string(data)); err == nil {
			return rec, nil
		}
	}

	// Step 2: lossy decode.
	lossy := strings.ToValidUTF8(string(data), string(utf8.RuneError))
	if rec, err := decodeJSON(lossy); err == nil {
		return rec, nil
	}

	// Step 3: trim to the outermost braces.
	if start, end := strings.Index(lossy, "{"), strings.LastIndex(lossy, "}"); start >= 0 && end > start {
		if rec, err := decodeJSON(lossy[start : end+1]); err == nil {
			return rec, nil
		}
	}

	// Step 4: tolerate single-quoted pseudo-JSON.
	if rec, err := decodeJSON(strings.ReplaceAll(lossy, "'", `"`)); err == nil {
		return rec, nil
	}

	return nil, fmt.Errorf("unparseable datagram from %s (%d bytes)", sender, len(data))
}

func decodeJSON(s string) (map[string]any, error) {
	var rec map[string]any
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("datagram is not a JSON object")
	}
	return rec, nil
}
