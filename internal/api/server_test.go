package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oakmere/fleettrack/internal/config"
	"github.com/oakmere/fleettrack/internal/db"
	"github.com/oakmere/fleettrack/internal/testutil"
)

func newTestServer(t *testing.T) (*WebServer, *db.DB) {
	t.Helper()
	database, err := db.NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := &config.Config{
		Listen:    ":0",
		UDPListen: ":0",
		Units:     "kph",
		Trip:      config.DefaultTripConfig(),
	}
	return NewWebServer(cfg, database), database
}

func get(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := testutil.NewTestRecorder()
	mux.ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, path))
	return rec
}

func TestHealthz(t *testing.T) {
	ws, _ := newTestServer(t)
	mux := ws.setupRoutes()

	rec := get(t, mux, "/api/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestConfigEcho(t *testing.T) {
	ws, _ := newTestServer(t)
	mux := ws.setupRoutes()

	rec := get(t, mux, "/api/config")
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["spatial_jump_m"] != float64(2000) || body["parking_still_count"] != float64(240) {
		t.Errorf("config echo = %v", body)
	}
}

func TestDevicesList(t *testing.T) {
	ws, database := newTestServer(t)
	now := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	if err := database.CreateDevice(&db.Device{DeviceID: "D1", Name: "van", IsActive: true, LastSeen: &now}); err != nil {
		t.Fatal(err)
	}
	mux := ws.setupRoutes()

	rec := get(t, mux, "/api/devices")
	var body []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body) != 1 || body[0]["device_id"] != "D1" {
		t.Fatalf("devices = %v", body)
	}
	if body[0]["last_seen"] != "2026-08-26T10:00:00Z" {
		t.Errorf("last_seen = %v", body[0]["last_seen"])
	}
}

func TestGeofenceCreateAndList(t *testing.T) {
	ws, _ := newTestServer(t)
	mux := ws.setupRoutes()

	payload := `{"Name":"Depot","IsActive":true,
		"Ring":[{"Lat":9.99,"Lon":-74.01},{"Lat":9.99,"Lon":-73.99},
		        {"Lat":10.01,"Lon":-73.99},{"Lat":10.01,"Lon":-74.01}]}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/geofences", strings.NewReader(payload)))
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = get(t, mux, "/api/geofences")
	var fences []db.Geofence
	if err := json.Unmarshal(rec.Body.Bytes(), &fences); err != nil {
		t.Fatal(err)
	}
	if len(fences) != 1 || fences[0].Name != "Depot" || fences[0].AreaM2 <= 0 {
		t.Errorf("fences = %+v", fences)
	}
}

func TestGeofenceCreateRejectsDegenerate(t *testing.T) {
	ws, _ := newTestServer(t)
	mux := ws.setupRoutes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/geofences",
		strings.NewReader(`{"Name":"Line","IsActive":true,"Ring":[{"Lat":0,"Lon":0}]}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestTripsRequiresDeviceID(t *testing.T) {
	ws, _ := newTestServer(t)
	mux := ws.setupRoutes()

	rec := get(t, mux, "/api/trips")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestTripStatsEmpty(t *testing.T) {
	ws, _ := newTestServer(t)
	mux := ws.setupRoutes()

	rec := get(t, mux, "/api/trips/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["count"] != float64(0) {
		t.Errorf("stats = %v", body)
	}
}

func TestTripsChartEmptyWindow(t *testing.T) {
	ws, _ := newTestServer(t)
	mux := ws.setupRoutes()

	rec := get(t, mux, "/api/trips/chart")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for empty window", rec.Code)
	}
}
