package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	c := Empty()

	assert.Equal(t, "pool.ntp.org", c.GetNTPServer())
	assert.Equal(t, time.Hour, c.GetSyncInterval())
	assert.Equal(t, ":8080", c.GetListenAddr())
	assert.Equal(t, "nightpulse.db", c.GetDBPath())
	assert.Equal(t, "migrations", c.GetMigrationsDir())
	assert.Equal(t, "pulses", c.GetBackupDir())
	assert.Equal(t, 7*24*time.Hour, c.GetBackupMaxAge())
	assert.Equal(t, 3, c.GetRetryAttempts())
	assert.Equal(t, 15*time.Second, c.GetRetryDelay())
	assert.Equal(t, 10*time.Second, c.GetFetchTimeout())
	assert.Equal(t, 0.1, c.GetGridSize())
	assert.Equal(t, 6000, c.GetCascadeLength())
	assert.Equal(t, 60.0, c.GetSweepMaxAgeSeconds())
	assert.Equal(t, 30, c.GetSweepEveryTicks())
	assert.False(t, c.GetDebug())

	_, _, _, _, ok := c.GetBoundingBox()
	assert.False(t, ok)
}

func TestLoadPartialConfig(t *testing.T) {
	path := writeConfig(t, `{
		"ntp_server": "time.example.com",
		"sync_interval": "30m",
		"bounding_box": [37.0, -122.5, 38.0, -121.5],
		"cascade_length": 100
	}`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "time.example.com", c.GetNTPServer())
	assert.Equal(t, 30*time.Minute, c.GetSyncInterval())
	assert.Equal(t, 100, c.GetCascadeLength())
	// Omitted fields keep defaults.
	assert.Equal(t, ":8080", c.GetListenAddr())

	minLat, minLon, maxLat, maxLon, ok := c.GetBoundingBox()
	require.True(t, ok)
	assert.Equal(t, 37.0, minLat)
	assert.Equal(t, -122.5, minLon)
	assert.Equal(t, 38.0, maxLat)
	assert.Equal(t, -121.5, maxLon)
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	_, err := Load("config.yaml")
	assert.Error(t, err)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad duration", `{"sync_interval": "soon"}`},
		{"short bounding box", `{"bounding_box": [1, 2, 3]}`},
		{"inverted bounding box", `{"bounding_box": [38.0, -121.5, 37.0, -122.5]}`},
		{"zero grid size", `{"grid_size": 0}`},
		{"zero cascade", `{"cascade_length": 0}`},
		{"negative backup age", `{"backup_max_age_days": -1}`},
		{"zero retry attempts", `{"retry_attempts": 0}`},
		{"zero sweep age", `{"sweep_max_age_seconds": 0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestDurationFallbackOnUnsetField(t *testing.T) {
	c := Empty()
	empty := ""
	c.RetryDelay = &empty
	assert.Equal(t, 15*time.Second, c.GetRetryDelay())
}
