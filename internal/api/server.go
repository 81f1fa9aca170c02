// Package api serves the HTTP side of the service: health and status, fleet
// queries, the trip rollups and the WebSocket observer endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/oakmere/fleettrack/internal/config"
	"github.com/oakmere/fleettrack/internal/db"
	"github.com/oakmere/fleettrack/internal/monitoring"
	"github.com/oakmere/fleettrack/internal/trip"
	"github.com/oakmere/fleettrack/internal/version"
)

// WebServer handles the HTTP interface for the fleet service.
type WebServer struct {
	cfg     *config.Config
	db      *db.DB
	server  *http.Server
	started time.Time

	// Observer endpoints are provided by the ws package; nil handlers leave
	// the route unmounted (broadcaster disabled).
	GPSObserver     http.HandlerFunc
	LogObserver     http.HandlerFunc
	RequestObserver http.HandlerFunc
}

func NewWebServer(cfg *config.Config, database *db.DB) *WebServer {
	ws := &WebServer{
		cfg:     cfg,
		db:      database,
		started: time.Now(),
	}
	return ws
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down.
func (ws *WebServer) Start(ctx context.Context) error {
	ws.server = &http.Server{
		Addr:    ws.cfg.Listen,
		Handler: ws.setupRoutes(),
	}

	go func() {
		monitoring.Logf("HTTP server listening on %s", ws.cfg.Listen)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	monitoring.Logf("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		ws.server.Close()
	}
	return nil
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/healthz", ws.handleHealth)
	mux.HandleFunc("/api/config", ws.handleConfig)
	mux.HandleFunc("/api/devices", ws.handleDevices)
	mux.HandleFunc("/api/geofences", ws.handleGeofences)
	mux.HandleFunc("/api/trips", ws.handleTrips)
	mux.HandleFunc("/api/trips/stats", ws.handleTripStats)
	mux.HandleFunc("/api/trips/chart", ws.handleTripsChart)

	if ws.GPSObserver != nil {
		mux.HandleFunc("/ws/gps", ws.GPSObserver)
	}
	if ws.LogObserver != nil {
		mux.HandleFunc("/ws/logs", ws.LogObserver)
	}
	if ws.RequestObserver != nil {
		mux.HandleFunc("/ws/request", ws.RequestObserver)
	}

	ws.db.AttachAdminRoutes(mux)
	return mux
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("failed to encode response: %v", err)
	}
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := ws.db.Ping(); err != nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "database unreachable: "+err.Error())
		return
	}
	ws.writeJSON(w, map[string]any{
		"status":         "ok",
		"version":        version.Version,
		"uptime_seconds": int(time.Since(ws.started).Seconds()),
	})
}

// handleConfig echoes the non-secret runtime configuration.
func (ws *WebServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, map[string]any{
		"udp_listen":           ws.cfg.UDPListen,
		"udp_enabled":          ws.cfg.UDPEnabled,
		"broadcaster_enabled":  ws.cfg.BroadcasterEnabled,
		"units":                ws.cfg.Units,
		"spatial_jump_m":       ws.cfg.Trip.SpatialJumpM,
		"movement_threshold_m": ws.cfg.Trip.MovementThresholdM,
		"parking_still_count":  ws.cfg.Trip.ParkingStillCount,
	})
}

func (ws *WebServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}
	devices, err := ws.db.Devices()
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, len(devices))
	for i, d := range devices {
		var lastSeen *string
		if d.LastSeen != nil {
			s := d.LastSeen.UTC().Format(time.RFC3339)
			lastSeen = &s
		}
		out[i] = map[string]any{
			"device_id": d.DeviceID,
			"name":      d.Name,
			"is_active": d.IsActive,
			"last_seen": lastSeen,
		}
	}
	ws.writeJSON(w, out)
}

func (ws *WebServer) handleGeofences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		fences, err := ws.db.Geofences()
		if err != nil {
			ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		ws.writeJSON(w, fences)
	case http.MethodPost:
		var g db.Geofence
		if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
			ws.writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		if err := ws.db.CreateGeofence(&g); err != nil {
			ws.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		ws.writeJSON(w, g)
	default:
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed; use GET or POST")
	}
}

// handleTrips lists trips for one device, newest first.
func (ws *WebServer) handleTrips(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "device_id query parameter is required")
		return
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}
	trips, err := ws.db.DeviceTrips(deviceID, limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ws.writeJSON(w, trips)
}

func (ws *WebServer) handleTripStats(w http.ResponseWriter, r *http.Request) {
	days := 7
	if d := r.URL.Query().Get("days"); d != "" {
		if v, err := strconv.Atoi(d); err == nil && v > 0 && v <= 365 {
			days = v
		}
	}
	stats, err := trip.Stats(ws.db, days)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ws.writeJSON(w, stats)
}
