// Package config loads service configuration from the environment.
//
// Every knob has a default so a bare `fleettrack` invocation comes up on a
// local sqlite file with both the UDP receiver and the broadcaster enabled.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/oakmere/fleettrack/internal/units"
)

// TripConfig holds the trip detector thresholds.
type TripConfig struct {
	// SpatialJumpM is the inter-fix distance (meters) beyond which the stream
	// is treated as discontinuous and the active trip is force-closed.
	// The comparison is strictly greater-than.
	SpatialJumpM float64

	// MovementThresholdM is the inter-fix distance (meters) above which the
	// device counts as moving.
	MovementThresholdM float64

	// ParkingStillCount is the number of consecutive still fixes required
	// before a movement trip is converted into a parking trip. At the 5s
	// reporting cadence the default of 240 is about 20 minutes.
	ParkingStillCount int
}

// DefaultTripConfig returns the documented trip detector defaults.
func DefaultTripConfig() TripConfig {
	return TripConfig{
		SpatialJumpM:       2000,
		MovementThresholdM: 50,
		ParkingStillCount:  240,
	}
}

// Config is the root service configuration.
type Config struct {
	DatabasePath string // path to the sqlite database file
	Listen       string // HTTP listen address
	UDPListen    string // UDP ingestion listen address
	UDPRcvBuf    int    // UDP socket receive buffer in bytes

	UDPEnabled         bool
	BroadcasterEnabled bool

	CORSAllowOrigins []string // origins allowed to open observer websockets
	Units            string   // display units for speed values

	Trip TripConfig
}

// Load reads configuration from the environment, applying defaults for any
// unset variable.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:       envOr("DATABASE_PATH", "fleet_data.db"),
		Listen:             envOr("LISTEN", ":8080"),
		UDPListen:          envOr("UDP_LISTEN", ":9001"),
		UDPRcvBuf:          1 << 20,
		UDPEnabled:         true,
		BroadcasterEnabled: true,
		Units:              envOr("UNITS", units.KPH),
		Trip:               DefaultTripConfig(),
	}

	var err error
	if cfg.UDPEnabled, err = envBool("UDP_ENABLED", cfg.UDPEnabled); err != nil {
		return nil, err
	}
	if cfg.BroadcasterEnabled, err = envBool("BROADCASTER_ENABLED", cfg.BroadcasterEnabled); err != nil {
		return nil, err
	}
	if cfg.UDPRcvBuf, err = envInt("UDP_RCVBUF", cfg.UDPRcvBuf); err != nil {
		return nil, err
	}

	if origins := os.Getenv("CORS_ALLOW_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSAllowOrigins = append(cfg.CORSAllowOrigins, o)
			}
		}
	}

	if cfg.Trip.SpatialJumpM, err = envFloat("TRIP_SPATIAL_JUMP_M", cfg.Trip.SpatialJumpM); err != nil {
		return nil, err
	}
	if cfg.Trip.MovementThresholdM, err = envFloat("TRIP_MOVEMENT_THRESHOLD_M", cfg.Trip.MovementThresholdM); err != nil {
		return nil, err
	}
	if cfg.Trip.ParkingStillCount, err = envInt("TRIP_PARKING_STILL_COUNT", cfg.Trip.ParkingStillCount); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field consistency of the configuration.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.UDPEnabled && c.UDPListen == "" {
		return fmt.Errorf("UDP listen address is required when UDP is enabled")
	}
	if !units.IsValid(c.Units) {
		return fmt.Errorf("invalid units %q (valid: %s)", c.Units, strings.Join(units.ValidUnits, ", "))
	}
	if c.Trip.SpatialJumpM <= 0 {
		return fmt.Errorf("spatial jump threshold must be positive, got %f", c.Trip.SpatialJumpM)
	}
	if c.Trip.MovementThresholdM <= 0 {
		return fmt.Errorf("movement threshold must be positive, got %f", c.Trip.MovementThresholdM)
	}
	if c.Trip.SpatialJumpM <= c.Trip.MovementThresholdM {
		return fmt.Errorf("spatial jump (%f) must exceed movement threshold (%f)",
			c.Trip.SpatialJumpM, c.Trip.MovementThresholdM)
	}
	if c.Trip.ParkingStillCount < 1 {
		return fmt.Errorf("parking still count must be at least 1, got %d", c.Trip.ParkingStillCount)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid boolean for %s: %q", key, v)
	}
	return b, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid integer for %s: %q", key, v)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("invalid float for %s: %q", key, v)
	}
	return f, nil
}
