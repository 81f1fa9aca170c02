package ingest

import (
	"strings"
	"testing"
)

func TestParseDatagramStrictJSON(t *testing.T) {
	rec, err := ParseDatagram([]byte(`{"device_id":"D1","lat":10.5}`), "1.2.3.4:9999")
	if err != nil {
		t.Fatalf("ParseDatagram failed: %v", err)
	}
	if rec["device_id"] != "D1" {
		t.Errorf("device_id = %v", rec["device_id"])
	}
	if rec["lat"] != 10.5 {
		t.Errorf("lat = %v", rec["lat"])
	}
}

func TestParseDatagramStripsBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"device_id":"D1"}`)...)
	rec, err := ParseDatagram(data, "1.2.3.4:9999")
	if err != nil {
		t.Fatalf("ParseDatagram failed: %v", err)
	}
	if rec["device_id"] != "D1" {
		t.Errorf("device_id = %v", rec["device_id"])
	}
}

func TestParseDatagramLossyUTF8(t *testing.T) {
	// 0xFF inside a string is invalid UTF-8; the lossy pass replaces it.
	data := []byte(`{"device_id":"D` + "\xff" + `1"}`)
	rec, err := ParseDatagram(data, "1.2.3.4:9999")
	if err != nil {
		t.Fatalf("ParseDatagram failed: %v", err)
	}
	id, _ := rec["device_id"].(string)
	if !strings.HasPrefix(id, "D") {
		t.Errorf("device_id = %q", id)
	}
}

func TestParseDatagramTrimsGarbageAroundBraces(t *testing.T) {
	rec, err := ParseDatagram([]byte("GPRMC,noise{\"device_id\":\"D1\"}trailing"), "1.2.3.4:9999")
	if err != nil {
		t.Fatalf("ParseDatagram failed: %v", err)
	}
	if rec["device_id"] != "D1" {
		t.Errorf("device_id = %v", rec["device_id"])
	}
}

func TestParseDatagramSingleQuotes(t *testing.T) {
	rec, err := ParseDatagram([]byte(`{'device_id': 'D1', 'lat': 10}`), "1.2.3.4:9999")
	if err != nil {
		t.Fatalf("ParseDatagram failed: %v", err)
	}
	if rec["device_id"] != "D1" {
		t.Errorf("device_id = %v", rec["device_id"])
	}
}

func TestParseDatagramFailureNamesSender(t *testing.T) {
	_, err := ParseDatagram([]byte("not json at all"), "10.0.0.7:4242")
	if err == nil {
		t.Fatal("expected error for unparseable datagram")
	}
	if !strings.Contains(err.Error(), "10.0.0.7:4242") {
		t.Errorf("error should name the sender: %v", err)
	}
}

func TestParseDatagramRejectsNonObject(t *testing.T) {
	for _, payload := range []string{`null`, `[1,2,3]`, `"hello"`, `42`} {
		if _, err := ParseDatagram([]byte(payload), "x"); err == nil {
			t.Errorf("payload %s should be rejected", payload)
		}
	}
}
