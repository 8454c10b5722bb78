package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lattice-data/nightpulse/internal/monitoring"
	"github.com/lattice-data/nightpulse/internal/pulse"
	"github.com/lattice-data/nightpulse/internal/timeutil"
	"github.com/lattice-data/nightpulse/internal/track"
)

// DefaultBackupMaxAge is how long local backup files are retained.
const DefaultBackupMaxAge = 7 * 24 * time.Hour

const anomaliesSubdir = "anomalies"

// backupRecord is the on-disk shape of one pulse backup: the pulse plus
// the aircraft positions resolved on its tick.
type backupRecord struct {
	Pulse     pulse.Pulse          `json:"pulse"`
	Timestamp time.Time            `json:"timestamp"`
	Aircraft  []track.TickPosition `json:"aircraft"`
}

// BackupDir writes pulse and anomaly records as JSON files under one
// directory, one file per record, timestamped filenames.
type BackupDir struct {
	dir   string
	clock timeutil.Clock
}

// NewBackupDir creates the directory (and its anomalies subdirectory)
// if needed.
func NewBackupDir(dir string) (*BackupDir, error) {
	return NewBackupDirWithClock(dir, timeutil.RealClock{})
}

// NewBackupDirWithClock substitutes the clock used for filenames and
// cleanup, for tests.
func NewBackupDirWithClock(dir string, clock timeutil.Clock) (*BackupDir, error) {
	if err := os.MkdirAll(filepath.Join(dir, anomaliesSubdir), 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &BackupDir{dir: dir, clock: clock}, nil
}

// WritePulse writes one pulse backup file.
func (b *BackupDir) WritePulse(p pulse.Pulse, aircraft []track.TickPosition) error {
	now := b.clock.Now().UTC()
	record := backupRecord{Pulse: p, Timestamp: now, Aircraft: aircraft}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal pulse backup: %w", err)
	}
	name := fmt.Sprintf("%s_%s.json", p.ID, now.Format("20060102_150405"))
	if err := os.WriteFile(filepath.Join(b.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write pulse backup: %w", err)
	}
	return nil
}

// WriteAnomaly writes one anomaly file under the anomalies
// subdirectory.
func (b *BackupDir) WriteAnomaly(a Anomaly) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal anomaly: %w", err)
	}
	name := fmt.Sprintf("anomaly_%s_%s.json", a.ID, b.clock.Now().UTC().Format("20060102_150405"))
	if err := os.WriteFile(filepath.Join(b.dir, anomaliesSubdir, name), data, 0o644); err != nil {
		return fmt.Errorf("write anomaly: %w", err)
	}
	return nil
}

// CleanupOldBackups removes JSON files older than maxAge from the
// backup directory and its anomalies subdirectory, returning how many
// were removed.
func (b *BackupDir) CleanupOldBackups(maxAge time.Duration) (int, error) {
	removed := 0
	for _, dir := range []string{b.dir, filepath.Join(b.dir, anomaliesSubdir)} {
		n, err := b.cleanupDir(dir, maxAge)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	if removed > 0 {
		monitoring.Logf("store: removed %d old backup files", removed)
	}
	return removed, nil
}

func (b *BackupDir) cleanupDir(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read backup dir: %w", err)
	}
	now := b.clock.Now()
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > maxAge {
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				monitoring.Logf("store: failed to remove old backup %s: %v", entry.Name(), err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}
