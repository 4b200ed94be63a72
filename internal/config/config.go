// Package config reads the process bootstrap configuration from environment
// variables (spec §6): CONFIG_STORAGE, CONFIG_DIR, DATABASE_URL, API_HOST,
// API_PORT, CORS_ENABLED, and the logging level. No other env vars affect
// the core.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// StorageKind selects the Config Store Adapter backend.
type StorageKind string

const (
	StorageFiles    StorageKind = "files"
	StoragePostgres StorageKind = "postgres"
)

// Config is the fully-resolved bootstrap configuration.
type Config struct {
	ConfigStorage StorageKind
	ConfigDir     string
	DatabaseURL   string
	APIHost       string
	APIPort       int
	CORSEnabled   bool
	LogLevel      string
}

// Load reads configuration from the environment (with sane defaults),
// validating the storage-backend selection.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("CONFIG_STORAGE", string(StorageFiles))
	v.SetDefault("CONFIG_DIR", "./data")
	v.SetDefault("API_HOST", "0.0.0.0")
	v.SetDefault("API_PORT", 8080)
	v.SetDefault("CORS_ENABLED", false)
	v.SetDefault("LOG_LEVEL", "info")

	cfg := Config{
		ConfigStorage: StorageKind(strings.ToLower(v.GetString("CONFIG_STORAGE"))),
		ConfigDir:     v.GetString("CONFIG_DIR"),
		DatabaseURL:   v.GetString("DATABASE_URL"),
		APIHost:       v.GetString("API_HOST"),
		APIPort:       v.GetInt("API_PORT"),
		CORSEnabled:   v.GetBool("CORS_ENABLED"),
		LogLevel:      v.GetString("LOG_LEVEL"),
	}

	switch cfg.ConfigStorage {
	case StorageFiles, StoragePostgres:
	default:
		return Config{}, fmt.Errorf("invalid CONFIG_STORAGE %q: must be 'files' or 'postgres'", cfg.ConfigStorage)
	}
	if cfg.ConfigStorage == StoragePostgres && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required when CONFIG_STORAGE=postgres")
	}
	return cfg, nil
}
