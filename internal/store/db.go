// Package store persists emitted pulses. The durable backend is a
// SQLite database; every pulse is additionally written to a local JSON
// backup directory so a database outage never loses data. Anomalies
// (missed pulses, feed failures) are logged to both backends too.
package store

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/lattice-data/nightpulse/internal/monitoring"
	"github.com/lattice-data/nightpulse/internal/pulse"
)

// DB wraps the pulse database.
type DB struct {
	*sql.DB
	path string
}

// NewDB opens (creating if needed) the SQLite database at path and
// ensures the baseline schema. Schema changes beyond the baseline are
// managed by migrations.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS pulses (
			pulse_id          TEXT PRIMARY KEY,
			timestamp         DOUBLE,
			latitude          DOUBLE,
			longitude         DOUBLE,
			sunset_time       DOUBLE,
			cascade_position  BIGINT,
			pulse_hash        TEXT,
			aircraft_count    BIGINT,
			created           TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS anomalies (
			anomaly_id        TEXT PRIMARY KEY,
			kind              TEXT,
			detail            TEXT,
			timestamp         DOUBLE,
			created           TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DB{DB: db, path: path}, nil
}

// InsertPulse records one pulse and the number of aircraft resolved on
// its tick.
func (db *DB) InsertPulse(p pulse.Pulse, aircraftCount int) error {
	_, err := db.Exec(`
		INSERT INTO pulses
			(pulse_id, timestamp, latitude, longitude, sunset_time, cascade_position, pulse_hash, aircraft_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		float64(p.Timestamp.UnixNano())/1e9,
		p.Latitude,
		p.Longitude,
		float64(p.SunsetTime.UnixNano())/1e9,
		p.CascadePosition,
		p.PulseHash,
		aircraftCount,
	)
	if err != nil {
		return fmt.Errorf("insert pulse %s: %w", p.ID, err)
	}
	return nil
}

// StoredPulse is a pulse row read back from the database.
type StoredPulse struct {
	ID              string  `json:"id"`
	Timestamp       float64 `json:"timestamp"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	SunsetTime      float64 `json:"sunset_time"`
	CascadePosition int     `json:"cascade_position"`
	PulseHash       string  `json:"pulse_hash"`
	AircraftCount   int     `json:"aircraft_count"`
}

// RecentPulses returns up to limit pulses, newest first.
func (db *DB) RecentPulses(limit int) ([]StoredPulse, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT pulse_id, timestamp, latitude, longitude, sunset_time, cascade_position, pulse_hash, aircraft_count
		FROM pulses ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pulses: %w", err)
	}
	defer rows.Close()

	var out []StoredPulse
	for rows.Next() {
		var p StoredPulse
		if err := rows.Scan(&p.ID, &p.Timestamp, &p.Latitude, &p.Longitude, &p.SunsetTime, &p.CascadePosition, &p.PulseHash, &p.AircraftCount); err != nil {
			return nil, fmt.Errorf("scan pulse row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PulseCount returns the total number of stored pulses.
func (db *DB) PulseCount() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM pulses`).Scan(&n)
	return n, err
}

// InsertAnomaly records one anomaly row.
func (db *DB) InsertAnomaly(a Anomaly) error {
	_, err := db.Exec(`
		INSERT INTO anomalies (anomaly_id, kind, detail, timestamp)
		VALUES (?, ?, ?, ?)`,
		a.ID, a.Kind, a.Detail, float64(a.Timestamp.UnixNano())/1e9,
	)
	if err != nil {
		return fmt.Errorf("insert anomaly %s: %w", a.ID, err)
	}
	return nil
}

// AnomalyCount returns the total number of recorded anomalies.
func (db *DB) AnomalyCount() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM anomalies`).Scan(&n)
	return n, err
}

// AttachAdminRoutes mounts the live SQL console and an on-demand
// database backup under /debug/ on the given mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Pulse DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				monitoring.Logf("store: failed to remove backup file: %v", err)
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			monitoring.Logf("store: failed to stream backup: %v", err)
		}
	}))
	return nil
}
