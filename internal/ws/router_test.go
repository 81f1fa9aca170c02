package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/oakmere/fleettrack/internal/db"
	"github.com/oakmere/fleettrack/internal/timeutil"
)

type fakeResponseSink struct {
	mu  sync.Mutex
	got []map[string]any
}

func (s *fakeResponseSink) Add(requestID string, payload []byte) {
	var m map[string]any
	json.Unmarshal(payload, &m)
	s.mu.Lock()
	s.got = append(s.got, m)
	s.mu.Unlock()
}

func (s *fakeResponseSink) last(t *testing.T) map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.got) == 0 {
		t.Fatal("no responses emitted")
	}
	return s.got[len(s.got)-1]
}

func (s *fakeResponseSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

type fakeGPSSink struct {
	mu  sync.Mutex
	got [][]byte
}

func (s *fakeGPSSink) Add(payload []byte) {
	s.mu.Lock()
	s.got = append(s.got, payload)
	s.mu.Unlock()
}

func (s *fakeGPSSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

type fakeFixStore struct {
	mu     sync.Mutex
	oldest *db.GpsFix
	newest *db.GpsFix
	window []db.GpsFix
}

func (s *fakeFixStore) OldestFix() (*db.GpsFix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.oldest, nil
}

func (s *fakeFixStore) NewestFix() (*db.GpsFix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newest, nil
}

func (s *fakeFixStore) FixesBetween(start, end time.Time, limit int) ([]db.GpsFix, error) {
	return s.window, nil
}

func (s *fakeFixStore) setNewest(f *db.GpsFix) {
	s.mu.Lock()
	s.newest = f
	s.mu.Unlock()
}

func newTestRouter(store FixStore, clock timeutil.Clock) (*Router, *fakeResponseSink, *fakeGPSSink) {
	responses := &fakeResponseSink{}
	gps := &fakeGPSSink{}
	return NewRouter(store, responses, gps, clock), responses, gps
}

func TestPing(t *testing.T) {
	r, responses, _ := newTestRouter(&fakeFixStore{}, nil)

	r.Handle(context.Background(), []byte(`{"action":"ping","request_id":"r1"}`))

	got := responses.last(t)
	if got["action"] != "ping" || got["request_id"] != "r1" ||
		got["status"] != "success" || got["data"] != "pong" {
		t.Errorf("ping response = %v", got)
	}
}

func TestUnknownActionReturnsError(t *testing.T) {
	r, responses, _ := newTestRouter(&fakeFixStore{}, nil)

	r.Handle(context.Background(), []byte(`{"action":"launch_missiles","request_id":"r9"}`))

	got := responses.last(t)
	if got["action"] != "launch_missiles" || got["request_id"] != "r9" || got["status"] != "error" {
		t.Errorf("response = %v", got)
	}
	// The error message travels in data, same slot as success payloads.
	if msg, ok := got["data"].(string); !ok || msg == "" {
		t.Errorf("error data = %v, want non-empty message", got["data"])
	}
	if _, present := got["error"]; present {
		t.Errorf("response carries an error key: %v", got)
	}
}

func TestMalformedFrameReturnsError(t *testing.T) {
	r, responses, _ := newTestRouter(&fakeFixStore{}, nil)

	r.Handle(context.Background(), []byte(`{not json`))

	got := responses.last(t)
	if got["status"] != "error" || got["action"] != "" {
		t.Errorf("response = %v", got)
	}
	if msg, ok := got["data"].(string); !ok || msg == "" {
		t.Errorf("error data = %v, want non-empty message", got["data"])
	}
}

func TestHistoryOneShot(t *testing.T) {
	ts := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	store := &fakeFixStore{window: []db.GpsFix{
		{ID: 1, DeviceID: "D1", Latitude: 10, Longitude: -74, Timestamp: ts},
		{ID: 2, DeviceID: "D1", Latitude: 10.01, Longitude: -74, Timestamp: ts.Add(5 * time.Second)},
	}}
	r, responses, _ := newTestRouter(store, nil)

	r.Handle(context.Background(), []byte(
		`{"action":"get_history","request_id":"h1",
		  "params":{"start":"2026-08-26T00:00:00Z","end":"2026-08-27T00:00:00Z"}}`))

	got := responses.last(t)
	if got["status"] != "success" {
		t.Fatalf("response = %v", got)
	}
	frames, ok := got["data"].([]any)
	if !ok || len(frames) != 2 {
		t.Errorf("data = %v, want 2 frames", got["data"])
	}
}

func TestHistoryRejectsReversedWindow(t *testing.T) {
	r, responses, _ := newTestRouter(&fakeFixStore{}, nil)

	r.Handle(context.Background(), []byte(
		`{"action":"get_history","request_id":"h2",
		  "params":{"start":"2026-08-27T00:00:00Z","end":"2026-08-26T00:00:00Z"}}`))

	if got := responses.last(t); got["status"] != "error" {
		t.Errorf("response = %v", got)
	}
}

func TestUpperBoundMonitorEmitsOnChange(t *testing.T) {
	ts := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	store := &fakeFixStore{newest: &db.GpsFix{ID: 1, DeviceID: "D1", Timestamp: ts}}
	clock := timeutil.NewFakeClock(ts)
	r, _, gps := newTestRouter(store, clock)
	defer r.Stop()

	r.Handle(context.Background(), []byte(
		`{"action":"get_upper_bound","request_id":"u1","params":{"subscribe":true}}`))

	waitFor(t, func() bool {
		clock.Advance(250 * time.Millisecond)
		return gps.count() == 1
	})

	// Same newest fix: no further emission.
	for i := 0; i < 5; i++ {
		clock.Advance(250 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if gps.count() != 1 {
		t.Fatalf("unchanged bound re-emitted: %d payloads", gps.count())
	}

	store.setNewest(&db.GpsFix{ID: 2, DeviceID: "D1", Timestamp: ts.Add(5 * time.Second)})
	waitFor(t, func() bool {
		clock.Advance(250 * time.Millisecond)
		return gps.count() == 2
	})
}

func TestBoundMonitorSingleFlight(t *testing.T) {
	ts := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	store := &fakeFixStore{oldest: &db.GpsFix{ID: 1, DeviceID: "D1", Timestamp: ts}}
	clock := timeutil.NewFakeClock(ts)
	r, _, _ := newTestRouter(store, clock)
	defer r.Stop()

	sub := []byte(`{"action":"get_lower_bound","request_id":"l1","params":{"subscribe":true}}`)
	r.Handle(context.Background(), sub)
	r.Handle(context.Background(), sub)

	r.mu.Lock()
	running := len(r.monitors)
	r.mu.Unlock()
	if running != 1 {
		t.Errorf("monitors running = %d, want 1 (re-subscribe is idempotent)", running)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	r, responses, _ := newTestRouter(&fakeFixStore{}, timeutil.NewFakeClock(time.Now()))

	// Cancelling a monitor that never ran is a no-op, not an error.
	r.Handle(context.Background(), []byte(
		`{"action":"get_lower_bound","request_id":"l2","params":{"subscribe":false}}`))

	if got := responses.last(t); got["status"] != "success" {
		t.Errorf("response = %v", got)
	}
}

func TestStopCancelsMonitors(t *testing.T) {
	ts := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	clock := timeutil.NewFakeClock(ts)
	r, _, _ := newTestRouter(&fakeFixStore{}, clock)

	r.Handle(context.Background(), []byte(
		`{"action":"get_upper_bound","request_id":"u2","params":{"subscribe":true}}`))
	r.Stop()

	r.mu.Lock()
	running := len(r.monitors)
	r.mu.Unlock()
	if running != 0 {
		t.Errorf("monitors still registered after Stop: %d", running)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition never became true")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
