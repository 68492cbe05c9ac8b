// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"
)

type Config struct {
	Environment string

	// DBPath is the on-device sqlite file.
	DBPath string

	// RemoteURL is the base URL of the sync authority.
	RemoteURL string

	// HTTPAddr is the loopback address of the local status surface.
	HTTPAddr string

	SyncInterval   time.Duration
	SyncDebounce   time.Duration
	DraftDebounce  time.Duration
	RequestTimeout time.Duration
	ProbeInterval  time.Duration
}

func Load() (Config, error) {
	cfg := Config{
		Environment:    getEnv("SYNCBOX_ENV", "development"),
		DBPath:         getEnv("SYNCBOX_DB_PATH", "syncbox.db"),
		RemoteURL:      strings.TrimRight(os.Getenv("SYNCBOX_REMOTE_URL"), "/"),
		HTTPAddr:       getEnv("SYNCBOX_HTTP_ADDR", "127.0.0.1:7645"),
		SyncInterval:   getEnvDuration("SYNCBOX_SYNC_INTERVAL", 30*time.Second),
		SyncDebounce:   getEnvDuration("SYNCBOX_SYNC_DEBOUNCE", 5*time.Second),
		DraftDebounce:  getEnvDuration("SYNCBOX_DRAFT_DEBOUNCE", 2*time.Second),
		RequestTimeout: getEnvDuration("SYNCBOX_REQUEST_TIMEOUT", 15*time.Second),
		ProbeInterval:  getEnvDuration("SYNCBOX_PROBE_INTERVAL", 10*time.Second),
	}
	if cfg.RemoteURL == "" {
		return cfg, fmt.Errorf("SYNCBOX_REMOTE_URL is required")
	}
	return cfg, nil
}

var Module = fx.Module("config",
	fx.Provide(Load),
)

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
