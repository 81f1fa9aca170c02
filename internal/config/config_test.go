package config

import (
	"strings"
	"testing"
)

func TestDefaultTripConfig(t *testing.T) {
	cfg := DefaultTripConfig()
	if cfg.SpatialJumpM != 2000 {
		t.Errorf("SpatialJumpM = %f, want 2000", cfg.SpatialJumpM)
	}
	if cfg.MovementThresholdM != 50 {
		t.Errorf("MovementThresholdM = %f, want 50", cfg.MovementThresholdM)
	}
	if cfg.ParkingStillCount != 240 {
		t.Errorf("ParkingStillCount = %d, want 240", cfg.ParkingStillCount)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DatabasePath == "" {
		t.Error("default database path is empty")
	}
	if !cfg.UDPEnabled || !cfg.BroadcasterEnabled {
		t.Error("UDP and broadcaster should default to enabled")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_PATH", "/tmp/test-fleet.db")
	t.Setenv("UDP_ENABLED", "false")
	t.Setenv("TRIP_PARKING_STILL_COUNT", "12")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DatabasePath != "/tmp/test-fleet.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.UDPEnabled {
		t.Error("UDPEnabled should be false")
	}
	if cfg.Trip.ParkingStillCount != 12 {
		t.Errorf("ParkingStillCount = %d, want 12", cfg.Trip.ParkingStillCount)
	}
	if len(cfg.CORSAllowOrigins) != 2 || cfg.CORSAllowOrigins[1] != "https://b.example" {
		t.Errorf("CORSAllowOrigins = %v", cfg.CORSAllowOrigins)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("TRIP_SPATIAL_JUMP_M", "not-a-number")
	if _, err := Load(); err == nil {
		t.Error("expected error for malformed float")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			DatabasePath: "x.db",
			Listen:       ":8080",
			UDPListen:    ":9001",
			UDPEnabled:   true,
			Units:        "kph",
			Trip:         DefaultTripConfig(),
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing db", func(c *Config) { c.DatabasePath = "" }, "database path"},
		{"missing udp addr", func(c *Config) { c.UDPListen = "" }, "UDP listen"},
		{"bad units", func(c *Config) { c.Units = "parsecs" }, "invalid units"},
		{"jump below movement", func(c *Config) { c.Trip.SpatialJumpM = 10 }, "must exceed"},
		{"zero still count", func(c *Config) { c.Trip.ParkingStillCount = 0 }, "still count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
