package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oakmere/fleettrack/internal/geo"
)

// Geofence is a named WGS84 polygon. The ring is stored as JSON [[lat,lon],...]
// and its bounding box is mirrored into the geofences_rtree virtual table so
// containment candidates resolve through the spatial index rather than a
// full scan.
type Geofence struct {
	ID          int64
	Name        string
	Ring        geo.Ring
	AreaM2      float64
	IsActive    bool
	Color       string
	Description string
	CreatedAt   time.Time
}

func encodeRing(r geo.Ring) (string, error) {
	pairs := make([][2]float64, len(r))
	for i, p := range r {
		pairs[i] = [2]float64{p.Lat, p.Lon}
	}
	b, err := json.Marshal(pairs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeRing(s string) (geo.Ring, error) {
	var pairs [][2]float64
	if err := json.Unmarshal([]byte(s), &pairs); err != nil {
		return nil, err
	}
	ring := make(geo.Ring, len(pairs))
	for i, p := range pairs {
		ring[i] = geo.Point{Lat: p[0], Lon: p[1]}
	}
	return ring, nil
}

// CreateGeofence inserts a geofence and its bounding box. The polygon area is
// computed here so the smallest-polygon tie-break is a plain ORDER BY.
func (db *DB) CreateGeofence(g *Geofence) error {
	if len(g.Ring) < 3 {
		return fmt.Errorf("geofence %q needs at least 3 vertices, got %d", g.Name, len(g.Ring))
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	g.AreaM2 = g.Ring.AreaM2()

	ringJSON, err := encodeRing(g.Ring)
	if err != nil {
		return fmt.Errorf("failed to encode ring for %q: %w", g.Name, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO geofences (name, ring, area_m2, is_active, color, description, created_at_us)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.Name, ringJSON, g.AreaM2, g.IsActive, g.Color, g.Description, micros(g.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert geofence %q: %w", g.Name, err)
	}
	g.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}

	minLat, minLon, maxLat, maxLon := g.Ring.Bounds()
	if _, err := tx.Exec(
		`INSERT INTO geofences_rtree (id, min_lat, max_lat, min_lon, max_lon)
		 VALUES (?, ?, ?, ?, ?)`,
		g.ID, minLat, maxLat, minLon, maxLon,
	); err != nil {
		return fmt.Errorf("failed to index geofence %q: %w", g.Name, err)
	}

	return tx.Commit()
}

// GeofenceCandidates returns the active geofences whose bounding box contains
// the point, smallest area first. Exact ray-casting containment is left to
// the geofence engine; the R*Tree only prunes the candidate set.
func (db *DB) GeofenceCandidates(lat, lon float64) ([]Geofence, error) {
	rows, err := db.Query(
		`SELECT g.id, g.name, g.ring, g.area_m2, g.is_active, g.color, g.description, g.created_at_us
		 FROM geofences g
		 JOIN geofences_rtree r ON r.id = g.id
		 WHERE g.is_active = 1
		   AND r.min_lat <= ? AND r.max_lat >= ?
		   AND r.min_lon <= ? AND r.max_lon >= ?
		 ORDER BY g.area_m2 ASC`,
		lat, lat, lon, lon,
	)
	if err != nil {
		return nil, fmt.Errorf("geofence candidate query failed: %w", err)
	}
	defer rows.Close()

	return scanGeofences(rows)
}

// Geofence loads a single geofence by id, or (nil, nil) when absent.
func (db *DB) Geofence(id int64) (*Geofence, error) {
	row := db.QueryRow(
		`SELECT id, name, ring, area_m2, is_active, color, description, created_at_us
		 FROM geofences WHERE id = ?`, id)

	g, err := scanGeofence(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Geofences lists all geofences ordered by area.
func (db *DB) Geofences() ([]Geofence, error) {
	rows, err := db.Query(
		`SELECT id, name, ring, area_m2, is_active, color, description, created_at_us
		 FROM geofences ORDER BY area_m2 ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGeofences(rows)
}

func scanGeofences(rows *sql.Rows) ([]Geofence, error) {
	var fences []Geofence
	for rows.Next() {
		g, err := scanGeofence(rows.Scan)
		if err != nil {
			return nil, err
		}
		fences = append(fences, *g)
	}
	return fences, rows.Err()
}

func scanGeofence(scan func(...any) error) (*Geofence, error) {
	var g Geofence
	var ringJSON string
	var createdUs int64
	if err := scan(&g.ID, &g.Name, &ringJSON, &g.AreaM2, &g.IsActive,
		&g.Color, &g.Description, &createdUs); err != nil {
		return nil, err
	}
	ring, err := decodeRing(ringJSON)
	if err != nil {
		return nil, fmt.Errorf("corrupt ring on geofence %d: %w", g.ID, err)
	}
	g.Ring = ring
	g.CreatedAt = fromMicros(createdUs)
	return &g, nil
}
