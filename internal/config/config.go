// Package config loads daemon settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// DatabasePath is the SQLite file backing the trip store. Empty selects
	// the in-memory store.
	DatabasePath string

	// GatePath is the SQLite file backing the durable notification gate.
	// Empty selects the in-memory gate.
	GatePath string

	// GTFSPath is a GTFS static zip used to seed reference collections on
	// startup. Empty skips seeding.
	GTFSPath string

	// NATSURL is the event bus address. Empty disables publication.
	NATSURL string

	HTTPAddr    string
	MetricsAddr string

	// SimInterval is the cadence of the simulated geolocation source.
	SimInterval time.Duration

	LogLevel string
}

// Load reads the environment, after merging a .env file if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabasePath: os.Getenv("TRANSITWATCH_DB"),
		GatePath:     os.Getenv("TRANSITWATCH_GATE_DB"),
		GTFSPath:     os.Getenv("TRANSITWATCH_GTFS"),
		NATSURL:      os.Getenv("NATS_URL"),
		HTTPAddr:     getenvDefault("HTTP_ADDR", ":8080"),
		MetricsAddr:  os.Getenv("METRICS_ADDR"),
		LogLevel:     getenvDefault("LOG_LEVEL", "info"),
	}

	if v := os.Getenv("SIM_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid SIM_INTERVAL_MS: %q", v)
		}
		cfg.SimInterval = time.Duration(ms) * time.Millisecond
	} else {
		cfg.SimInterval = 3 * time.Second
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q", cfg.LogLevel)
	}

	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
