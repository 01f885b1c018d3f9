package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/radrecon_test")
	defer os.Unsetenv("DATABASE_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %q", cfg.Port)
	}
	if cfg.MLLPAddr != ":2575" {
		t.Errorf("expected default MLLP addr :2575, got %q", cfg.MLLPAddr)
	}
	if cfg.MLLPIdleTimeout != 30*time.Second {
		t.Errorf("expected default idle timeout 30s, got %s", cfg.MLLPIdleTimeout)
	}
	if cfg.MLLPMaxFrameBytes != 1<<20 {
		t.Errorf("expected default max frame 1MiB, got %d", cfg.MLLPMaxFrameBytes)
	}
	if cfg.FacilityTZ != "Europe/Helsinki" {
		t.Errorf("expected default facility tz Europe/Helsinki, got %q", cfg.FacilityTZ)
	}
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	os.Unsetenv("DATABASE_URL")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is unset")
	}
}

func TestConfig_Location(t *testing.T) {
	cfg := &Config{FacilityTZ: "Europe/Helsinki"}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("Location failed: %v", err)
	}
	if loc.String() != "Europe/Helsinki" {
		t.Errorf("expected Europe/Helsinki, got %s", loc)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{
		FacilityTZ:        "Europe/Helsinki",
		MLLPMaxFrameBytes: 1 << 20,
		MLLPIdleTimeout:   30 * time.Second,
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	bad := &Config{FacilityTZ: "Mars/Olympus", MLLPMaxFrameBytes: 1, MLLPIdleTimeout: time.Second}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown timezone")
	}

	zero := &Config{FacilityTZ: "UTC", MLLPMaxFrameBytes: 0, MLLPIdleTimeout: time.Second}
	if err := zero.Validate(); err == nil {
		t.Error("expected error for zero max frame size")
	}
}
