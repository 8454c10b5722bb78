package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-data/nightpulse/internal/pulse"
	"github.com/lattice-data/nightpulse/internal/track"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testPulse() pulse.Pulse {
	sunset := time.Date(2024, time.September, 1, 2, 30, 0, 0, time.UTC)
	return pulse.Pulse{
		ID:              "0b54ef55-1111-2222-3333-444455556666",
		Timestamp:       sunset.Add(42 * time.Second),
		Latitude:        37.7749,
		Longitude:       -122.4194,
		SunsetTime:      sunset,
		CascadePosition: 42,
		PulseHash:       "deadbeefcafe0123",
	}
}

func TestInsertAndQueryPulses(t *testing.T) {
	db := testDB(t)
	p := testPulse()

	require.NoError(t, db.InsertPulse(p, 3))

	n, err := db.PulseCount()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := db.RecentPulses(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	got := rows[0]
	assert.Equal(t, p.ID, got.ID)
	assert.InDelta(t, 37.7749, got.Latitude, 1e-9)
	assert.Equal(t, 42, got.CascadePosition)
	assert.Equal(t, "deadbeefcafe0123", got.PulseHash)
	assert.Equal(t, 3, got.AircraftCount)
}

func TestRecentPulsesNewestFirst(t *testing.T) {
	db := testDB(t)

	base := testPulse()
	for i := 0; i < 5; i++ {
		p := base
		p.ID = base.ID[:len(base.ID)-1] + string(rune('0'+i))
		p.Timestamp = base.Timestamp.Add(time.Duration(i) * time.Second)
		require.NoError(t, db.InsertPulse(p, 0))
	}

	rows, err := db.RecentPulses(3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Greater(t, rows[0].Timestamp, rows[1].Timestamp)
	assert.Greater(t, rows[1].Timestamp, rows[2].Timestamp)
}

func TestInsertAnomaly(t *testing.T) {
	db := testDB(t)

	err := db.InsertAnomaly(Anomaly{
		ID:        "anom-1",
		Kind:      "feed_failure",
		Detail:    "all 3 attempts failed",
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	n, err := db.AnomalyCount()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMigrateUpAndVersion(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.MigrateUp("../../migrations"))

	version, dirty, err := db.MigrateVersion("../../migrations")
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)

	// Re-running is a no-op.
	require.NoError(t, db.MigrateUp("../../migrations"))
}

func TestPulseStoreWritesAllBackends(t *testing.T) {
	db := testDB(t)
	dir := t.TempDir()
	backup, err := NewBackupDir(dir)
	require.NoError(t, err)

	s := NewPulseStore(db, backup)
	result := s.Store(testPulse(), []track.TickPosition{{ICAO24: "a1b2c3"}})

	assert.True(t, result.Database)
	assert.True(t, result.Local)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.DatabaseSuccess)
	assert.Equal(t, int64(1), stats.LocalBackups)
	assert.Zero(t, stats.DatabaseErrors)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e.Name())
		}
	}
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0], testPulse().ID+"_"))

	var record backupRecord
	data, err := os.ReadFile(filepath.Join(dir, files[0]))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, testPulse().PulseHash, record.Pulse.PulseHash)
	require.Len(t, record.Aircraft, 1)
	assert.Equal(t, "a1b2c3", record.Aircraft[0].ICAO24)
}

func TestPulseStoreNilBackends(t *testing.T) {
	s := NewPulseStore(nil, nil)
	result := s.Store(testPulse(), nil)

	assert.False(t, result.Database)
	assert.False(t, result.Local)
	assert.Zero(t, s.Stats().DatabaseSuccess)
}

func TestLogAnomalyWritesFileAndRow(t *testing.T) {
	db := testDB(t)
	dir := t.TempDir()
	backup, err := NewBackupDir(dir)
	require.NoError(t, err)

	s := NewPulseStore(db, backup)
	s.LogAnomaly("missed_pulse", "no sunset data for cell")

	assert.Equal(t, int64(1), s.Stats().Anomalies)

	n, err := db.AnomalyCount()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := os.ReadDir(filepath.Join(dir, anomaliesSubdir))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "anomaly_"))
}

func TestCleanupOldBackups(t *testing.T) {
	dir := t.TempDir()
	backup, err := NewBackupDir(dir)
	require.NoError(t, err)

	s := NewPulseStore(nil, backup)
	s.Store(testPulse(), nil)
	s.LogAnomaly("missed_pulse", "x")

	// Nothing is old yet.
	removed, err := backup.CleanupOldBackups(DefaultBackupMaxAge)
	require.NoError(t, err)
	assert.Zero(t, removed)

	// Age every file past the retention window.
	old := time.Now().Add(-8 * 24 * time.Hour)
	for _, d := range []string{dir, filepath.Join(dir, anomaliesSubdir)} {
		entries, err := os.ReadDir(d)
		require.NoError(t, err)
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			require.NoError(t, os.Chtimes(filepath.Join(d, e.Name()), old, old))
		}
	}

	removed, err = backup.CleanupOldBackups(DefaultBackupMaxAge)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}
