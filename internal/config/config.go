// Package config loads the service configuration from a JSON file.
// Every field is optional: omitted fields fall back to defaults through
// the Get* accessors, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration. Pointer fields distinguish "unset"
// from zero values.
type Config struct {
	// Reference clock
	NTPServer    *string `json:"ntp_server,omitempty"`
	SyncInterval *string `json:"sync_interval,omitempty"` // duration string like "1h"

	// HTTP surface
	ListenAddr *string `json:"listen_addr,omitempty"`

	// Storage
	DBPath           *string `json:"db_path,omitempty"`
	MigrationsDir    *string `json:"migrations_dir,omitempty"`
	BackupDir        *string `json:"backup_dir,omitempty"`
	BackupMaxAgeDays *int    `json:"backup_max_age_days,omitempty"`

	// Aircraft feed
	OpenSkyUsername *string    `json:"opensky_username,omitempty"`
	OpenSkyPassword *string    `json:"opensky_password,omitempty"`
	BoundingBox     *[]float64 `json:"bounding_box,omitempty"` // [minLat, minLon, maxLat, maxLon]
	RetryAttempts   *int       `json:"retry_attempts,omitempty"`
	RetryDelay      *string    `json:"retry_delay,omitempty"`   // duration string like "15s"
	FetchTimeout    *string    `json:"fetch_timeout,omitempty"` // duration string like "10s"

	// Sunset grid
	GridSize    *float64  `json:"grid_size,omitempty"`
	RegionFiles *[]string `json:"region_files,omitempty"`
	SolarCache  *string   `json:"solar_cache,omitempty"`

	// Pulse generation
	CascadeLength *int `json:"cascade_length,omitempty"`

	// Interpolator maintenance
	SweepMaxAgeSeconds *float64 `json:"sweep_max_age_seconds,omitempty"`
	SweepEveryTicks    *int     `json:"sweep_every_ticks,omitempty"`

	Debug *bool `json:"debug,omitempty"`
}

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads and validates a Config from a JSON file.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every set field for internal consistency.
func (c *Config) Validate() error {
	for name, d := range map[string]*string{
		"sync_interval": c.SyncInterval,
		"retry_delay":   c.RetryDelay,
		"fetch_timeout": c.FetchTimeout,
	} {
		if d != nil && *d != "" {
			if _, err := time.ParseDuration(*d); err != nil {
				return fmt.Errorf("invalid %s %q: %w", name, *d, err)
			}
		}
	}

	if c.BoundingBox != nil {
		b := *c.BoundingBox
		if len(b) != 4 {
			return fmt.Errorf("bounding_box must have 4 elements [minLat, minLon, maxLat, maxLon], got %d", len(b))
		}
		if b[0] > b[2] || b[1] > b[3] {
			return fmt.Errorf("bounding_box min must not exceed max: %v", b)
		}
	}

	if c.GridSize != nil && *c.GridSize <= 0 {
		return fmt.Errorf("grid_size must be positive, got %f", *c.GridSize)
	}
	if c.CascadeLength != nil && *c.CascadeLength < 1 {
		return fmt.Errorf("cascade_length must be at least 1, got %d", *c.CascadeLength)
	}
	if c.BackupMaxAgeDays != nil && *c.BackupMaxAgeDays < 0 {
		return fmt.Errorf("backup_max_age_days must be non-negative, got %d", *c.BackupMaxAgeDays)
	}
	if c.RetryAttempts != nil && *c.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be at least 1, got %d", *c.RetryAttempts)
	}
	if c.SweepMaxAgeSeconds != nil && *c.SweepMaxAgeSeconds <= 0 {
		return fmt.Errorf("sweep_max_age_seconds must be positive, got %f", *c.SweepMaxAgeSeconds)
	}
	if c.SweepEveryTicks != nil && *c.SweepEveryTicks < 1 {
		return fmt.Errorf("sweep_every_ticks must be at least 1, got %d", *c.SweepEveryTicks)
	}
	return nil
}

func (c *Config) GetNTPServer() string {
	if c.NTPServer == nil || *c.NTPServer == "" {
		return "pool.ntp.org"
	}
	return *c.NTPServer
}

func (c *Config) GetSyncInterval() time.Duration {
	return c.duration(c.SyncInterval, time.Hour)
}

func (c *Config) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8080"
	}
	return *c.ListenAddr
}

func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "nightpulse.db"
	}
	return *c.DBPath
}

func (c *Config) GetMigrationsDir() string {
	if c.MigrationsDir == nil || *c.MigrationsDir == "" {
		return "migrations"
	}
	return *c.MigrationsDir
}

func (c *Config) GetBackupDir() string {
	if c.BackupDir == nil || *c.BackupDir == "" {
		return "pulses"
	}
	return *c.BackupDir
}

func (c *Config) GetBackupMaxAge() time.Duration {
	if c.BackupMaxAgeDays == nil {
		return 7 * 24 * time.Hour
	}
	return time.Duration(*c.BackupMaxAgeDays) * 24 * time.Hour
}

func (c *Config) GetOpenSkyUsername() string {
	if c.OpenSkyUsername == nil {
		return ""
	}
	return *c.OpenSkyUsername
}

func (c *Config) GetOpenSkyPassword() string {
	if c.OpenSkyPassword == nil {
		return ""
	}
	return *c.OpenSkyPassword
}

// GetBoundingBox returns the configured area, or ok == false when none
// is set (a global fetch).
func (c *Config) GetBoundingBox() (minLat, minLon, maxLat, maxLon float64, ok bool) {
	if c.BoundingBox == nil || len(*c.BoundingBox) != 4 {
		return 0, 0, 0, 0, false
	}
	b := *c.BoundingBox
	return b[0], b[1], b[2], b[3], true
}

func (c *Config) GetRetryAttempts() int {
	if c.RetryAttempts == nil {
		return 3
	}
	return *c.RetryAttempts
}

func (c *Config) GetRetryDelay() time.Duration {
	return c.duration(c.RetryDelay, 15*time.Second)
}

func (c *Config) GetFetchTimeout() time.Duration {
	return c.duration(c.FetchTimeout, 10*time.Second)
}

func (c *Config) GetGridSize() float64 {
	if c.GridSize == nil {
		return 0.1
	}
	return *c.GridSize
}

func (c *Config) GetRegionFiles() []string {
	if c.RegionFiles == nil {
		return nil
	}
	return *c.RegionFiles
}

func (c *Config) GetSolarCache() string {
	if c.SolarCache == nil || *c.SolarCache == "" {
		return "sunset_cache.json"
	}
	return *c.SolarCache
}

func (c *Config) GetCascadeLength() int {
	if c.CascadeLength == nil {
		return 6000
	}
	return *c.CascadeLength
}

func (c *Config) GetSweepMaxAgeSeconds() float64 {
	if c.SweepMaxAgeSeconds == nil {
		return 60
	}
	return *c.SweepMaxAgeSeconds
}

func (c *Config) GetSweepEveryTicks() int {
	if c.SweepEveryTicks == nil {
		return 30
	}
	return *c.SweepEveryTicks
}

func (c *Config) GetDebug() bool {
	if c.Debug == nil {
		return false
	}
	return *c.Debug
}

func (c *Config) duration(field *string, fallback time.Duration) time.Duration {
	if field == nil || *field == "" {
		return fallback
	}
	d, err := time.ParseDuration(*field)
	if err != nil {
		return fallback
	}
	return d
}
