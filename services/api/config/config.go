package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the REST API.
type Config struct {
	DatabaseURL    string
	RedisURL       string
	Port           int
	BearerToken    string
	MigrationsPath string
	RunMigrations  bool

	// Result cache TTLs.
	TimeseriesTTL time.Duration
	UpstreamTTL   time.Duration

	// Timeseries resolution policy.
	HourlyThreshold int
	MaxRawPoints    int

	// Data types actively invalidated on ingest; anything else relies on TTL.
	InvalidateDataTypes []string
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := Config{
		Port:                8080,
		MigrationsPath:      "db/migrations",
		TimeseriesTTL:       300 * time.Second,
		UpstreamTTL:         300 * time.Second,
		HourlyThreshold:     2000,
		MaxRawPoints:        5000,
		InvalidateDataTypes: []string{"Rainfall", "Temperature"},
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")

	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid PORT: %s", portStr)
		}
	} else if portStr := os.Getenv("API_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid API_PORT: %s", portStr)
		}
	}

	var err error
	if cfg.TimeseriesTTL, err = secondsEnv("CACHE_TIMESERIES_TTL", cfg.TimeseriesTTL); err != nil {
		return cfg, err
	}
	if cfg.UpstreamTTL, err = secondsEnv("CACHE_UPSTREAM_TTL", cfg.UpstreamTTL); err != nil {
		return cfg, err
	}
	if cfg.HourlyThreshold, err = intEnv("AGG_HOURLY_THRESHOLD", cfg.HourlyThreshold); err != nil {
		return cfg, err
	}
	if cfg.MaxRawPoints, err = intEnv("MAX_RAW_POINTS", cfg.MaxRawPoints); err != nil {
		return cfg, err
	}

	if list := os.Getenv("CACHE_INVALIDATE_DATA_TYPES"); list != "" {
		parts := strings.Split(list, ",")
		types := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				types = append(types, p)
			}
		}
		if len(types) > 0 {
			cfg.InvalidateDataTypes = types
		}
	}

	if path := os.Getenv("MIGRATIONS_PATH"); path != "" {
		cfg.MigrationsPath = path
	}
	if run := os.Getenv("RUN_MIGRATIONS"); run != "" {
		val, err := strconv.ParseBool(run)
		if err != nil {
			return cfg, fmt.Errorf("invalid RUN_MIGRATIONS: %s", run)
		}
		cfg.RunMigrations = val
	}

	cfg.BearerToken = os.Getenv("API_BEARER_TOKEN")

	return cfg, nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func intEnv(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback, fmt.Errorf("invalid %s: %s", name, raw)
	}
	return v, nil
}

func secondsEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return fallback, fmt.Errorf("invalid %s: %s", name, raw)
	}
	return time.Duration(secs) * time.Second, nil
}
