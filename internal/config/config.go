package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	MLLPAddr          string        `mapstructure:"MLLP_ADDR"`
	MLLPIdleTimeout   time.Duration `mapstructure:"MLLP_IDLE_TIMEOUT"`
	MLLPMaxFrameBytes int           `mapstructure:"MLLP_MAX_FRAME_BYTES"`
	FacilityTZ        string        `mapstructure:"FACILITY_TZ"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MLLP_ADDR", ":2575")
	v.SetDefault("MLLP_IDLE_TIMEOUT", "30s")
	v.SetDefault("MLLP_MAX_FRAME_BYTES", 1<<20)
	v.SetDefault("FACILITY_TZ", "Europe/Helsinki")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("MLLP_ADDR")
	v.BindEnv("MLLP_IDLE_TIMEOUT")
	v.BindEnv("MLLP_MAX_FRAME_BYTES")
	v.BindEnv("FACILITY_TZ")
	v.BindEnv("CORS_ORIGINS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location resolves FACILITY_TZ. Study timestamps are stored in the
// facility's civil time, so a bad zone name must fail at startup rather
// than at ingestion.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.FacilityTZ)
	if err != nil {
		return nil, fmt.Errorf("FACILITY_TZ %q: %w", c.FacilityTZ, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.MLLPMaxFrameBytes <= 0 {
		return fmt.Errorf("MLLP_MAX_FRAME_BYTES must be positive, got %d", c.MLLPMaxFrameBytes)
	}
	if c.MLLPIdleTimeout <= 0 {
		return fmt.Errorf("MLLP_IDLE_TIMEOUT must be positive, got %s", c.MLLPIdleTimeout)
	}
	return nil
}
