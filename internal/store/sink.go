package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-data/nightpulse/internal/monitoring"
	"github.com/lattice-data/nightpulse/internal/pulse"
	"github.com/lattice-data/nightpulse/internal/timeutil"
	"github.com/lattice-data/nightpulse/internal/track"
)

// Sink is what the pipeline hands pulses to. Storage failures are the
// sink's problem: it logs them and reports per-backend outcomes, but
// the pipeline never blocks correctness on them.
type Sink interface {
	Store(p pulse.Pulse, aircraft []track.TickPosition) StoreResult
	LogAnomaly(kind, detail string)
}

// StoreResult reports per-backend outcomes for one stored pulse.
type StoreResult struct {
	Timestamp time.Time `json:"timestamp"`
	Database  bool      `json:"database"`
	Local     bool      `json:"local"`
}

// Anomaly is one logged irregularity (missed pulse, feed failure).
type Anomaly struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats counts storage outcomes since startup.
type Stats struct {
	DatabaseSuccess int64 `json:"database_success"`
	DatabaseErrors  int64 `json:"database_errors"`
	LocalBackups    int64 `json:"local_backups"`
	LocalErrors     int64 `json:"local_errors"`
	Anomalies       int64 `json:"anomalies"`
}

// PulseStore is the production Sink: SQLite plus a local backup
// directory. Either backend may be nil, in which case it is skipped.
type PulseStore struct {
	db     *DB
	backup *BackupDir
	clock  timeutil.Clock

	mu    sync.Mutex
	stats Stats
}

// NewPulseStore combines the given backends into a Sink.
func NewPulseStore(db *DB, backup *BackupDir) *PulseStore {
	return &PulseStore{db: db, backup: backup, clock: timeutil.RealClock{}}
}

// Store writes the pulse to every configured backend. Failures are
// counted and logged, never propagated.
func (s *PulseStore) Store(p pulse.Pulse, aircraft []track.TickPosition) StoreResult {
	result := StoreResult{Timestamp: s.clock.Now().UTC()}

	if s.db != nil {
		if err := s.db.InsertPulse(p, len(aircraft)); err != nil {
			monitoring.Logf("store: database write failed: %v", err)
			s.bump(func(st *Stats) { st.DatabaseErrors++ })
		} else {
			result.Database = true
			s.bump(func(st *Stats) { st.DatabaseSuccess++ })
		}
	}

	if s.backup != nil {
		if err := s.backup.WritePulse(p, aircraft); err != nil {
			monitoring.Logf("store: local backup failed: %v", err)
			s.bump(func(st *Stats) { st.LocalErrors++ })
		} else {
			result.Local = true
			s.bump(func(st *Stats) { st.LocalBackups++ })
		}
	}

	return result
}

// LogAnomaly records an anomaly on every configured backend.
func (s *PulseStore) LogAnomaly(kind, detail string) {
	a := Anomaly{
		ID:        uuid.NewString(),
		Kind:      kind,
		Detail:    detail,
		Timestamp: s.clock.Now().UTC(),
	}
	s.bump(func(st *Stats) { st.Anomalies++ })

	if s.db != nil {
		if err := s.db.InsertAnomaly(a); err != nil {
			monitoring.Logf("store: anomaly database write failed: %v", err)
		}
	}
	if s.backup != nil {
		if err := s.backup.WriteAnomaly(a); err != nil {
			monitoring.Logf("store: anomaly backup failed: %v", err)
		}
	}
}

// Stats returns a snapshot of the storage counters.
func (s *PulseStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *PulseStore) bump(f func(*Stats)) {
	s.mu.Lock()
	f(&s.stats)
	s.mu.Unlock()
}
