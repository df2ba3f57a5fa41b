// Package config defines service configuration and how it is loaded.
//
// Conventions:
// - New() returns a Config holding every default.
// - Load layers a YAML file and environment variables over the defaults.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"time"
)

// Store drivers accepted by StoreDriver.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the repository: memory or sqlite.
	StoreDriver string `koanf:"store_driver"`

	// DBPath is the SQLite database file used when StoreDriver is sqlite.
	DBPath string `koanf:"db_path"`

	// Ranking source connection.
	SourceBaseURL      string `koanf:"source_base_url"`
	SourceClientID     string `koanf:"source_client_id"`
	SourceClientSecret string `koanf:"source_client_secret"`

	// SourcePageDelayMS spaces consecutive page requests; 0 disables throttling.
	SourcePageDelayMS int `koanf:"source_page_delay_ms"`

	// SourceTimeoutMS bounds one HTTP call to the source.
	SourceTimeoutMS int `koanf:"source_timeout_ms"`

	// SourceMaxPages aborts a drain after this many pages; 0 is unlimited.
	SourceMaxPages int `koanf:"source_max_pages"`

	// MutationConcurrency bounds concurrent repository calls per bucket.
	MutationConcurrency int `koanf:"mutation_concurrency"`

	// MaxSkippedEntities fails a pass once more entries are malformed; negative disables.
	MaxSkippedEntities int `koanf:"max_skipped_entities"`

	// ReconcileIntervalS schedules a pass every N seconds; 0 disables the scheduler.
	ReconcileIntervalS int `koanf:"reconcile_interval_s"`

	// PassTimeoutS bounds one triggered pass in seconds; 0 is unbounded.
	PassTimeoutS int `koanf:"pass_timeout_s"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		StoreDriver:         StoreMemory,
		DBPath:              "standings.db",
		SourcePageDelayMS:   200,
		SourceTimeoutMS:     30_000,
		SourceMaxPages:      0,
		MutationConcurrency: 8,
		MaxSkippedEntities:  100,
		ReconcileIntervalS:  0,
		PassTimeoutS:        0,
		MaxLeaderboardLimit: 100,
	}
}

// PageDelay returns SourcePageDelayMS as a duration.
func (c *Config) PageDelay() time.Duration {
	return time.Duration(c.SourcePageDelayMS) * time.Millisecond
}

// SourceTimeout returns SourceTimeoutMS as a duration.
func (c *Config) SourceTimeout() time.Duration {
	return time.Duration(c.SourceTimeoutMS) * time.Millisecond
}

// ReconcileInterval returns ReconcileIntervalS as a duration.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalS) * time.Second
}

// PassTimeout returns PassTimeoutS as a duration.
func (c *Config) PassTimeout() time.Duration {
	return time.Duration(c.PassTimeoutS) * time.Second
}

// Validate checks field ranges. Source credentials are not required here
// because read-only commands run without them.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StoreDriver != StoreMemory && c.StoreDriver != StoreSQLite:
		return fmt.Errorf("%w: store_driver must be %q or %q, got %q", ErrInvalidConfig, StoreMemory, StoreSQLite, c.StoreDriver)
	case c.StoreDriver == StoreSQLite && c.DBPath == "":
		return fmt.Errorf("%w: db_path is required for the sqlite store", ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrInvalidConfig, c.LogFormat)
	case c.SourcePageDelayMS < 0:
		return fmt.Errorf("%w: source_page_delay_ms must not be negative", ErrInvalidConfig)
	case c.SourceTimeoutMS <= 0:
		return fmt.Errorf("%w: source_timeout_ms must be positive", ErrInvalidConfig)
	case c.SourceMaxPages < 0:
		return fmt.Errorf("%w: source_max_pages must not be negative", ErrInvalidConfig)
	case c.MutationConcurrency <= 0:
		return fmt.Errorf("%w: mutation_concurrency must be positive", ErrInvalidConfig)
	case c.ReconcileIntervalS < 0:
		return fmt.Errorf("%w: reconcile_interval_s must not be negative", ErrInvalidConfig)
	case c.PassTimeoutS < 0:
		return fmt.Errorf("%w: pass_timeout_s must not be negative", ErrInvalidConfig)
	case c.MaxLeaderboardLimit <= 0:
		return fmt.Errorf("%w: max_leaderboard_limit must be positive", ErrInvalidConfig)
	}
	return nil
}

// RequireSource checks that the ranking source is configured.
func (c *Config) RequireSource() error {
	if c.SourceBaseURL == "" || c.SourceClientID == "" || c.SourceClientSecret == "" {
		return fmt.Errorf("%w: source_base_url, source_client_id and source_client_secret are required", ErrSourceUnset)
	}
	return nil
}
