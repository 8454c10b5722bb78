// Package api exposes the HTTP surface: live aircraft, recent pulses,
// pipeline statistics, and debug charts.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/lattice-data/nightpulse/internal/config"
	"github.com/lattice-data/nightpulse/internal/pipeline"
	"github.com/lattice-data/nightpulse/internal/refclock"
	"github.com/lattice-data/nightpulse/internal/store"
	"github.com/lattice-data/nightpulse/internal/sunset"
	"github.com/lattice-data/nightpulse/internal/track"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	pipe   *pipeline.Pipeline
	interp *track.Interpolator
	grid   *sunset.Grid
	clock  *refclock.Clock
	db     *store.DB
	sink   *store.PulseStore
	cfg    *config.Config
}

func NewServer(pipe *pipeline.Pipeline, interp *track.Interpolator, grid *sunset.Grid, clock *refclock.Clock, db *store.DB, sink *store.PulseStore, cfg *config.Config) *Server {
	return &Server{
		pipe:   pipe,
		interp: interp,
		grid:   grid,
		clock:  clock,
		db:     db,
		sink:   sink,
		cfg:    cfg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/aircraft", s.listAircraft)
	mux.HandleFunc("/pulses", s.listPulses)
	mux.HandleFunc("/stats", s.showStats)
	mux.HandleFunc("/health", s.showHealth)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/debug/charts/pulses", s.pulseChart)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) listAircraft(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	states := s.interp.States()
	if err := json.NewEncoder(w).Encode(states); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write aircraft states")
	}
}

func (s *Server) listPulses(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	pulses, err := s.db.RecentPulses(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve pulses: %v", err))
		return
	}
	if pulses == nil {
		pulses = []store.StoredPulse{}
	}
	if err := json.NewEncoder(w).Encode(pulses); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write pulses")
	}
}

type statsResponse struct {
	Pipeline pipeline.Snapshot `json:"pipeline"`
	Storage  store.Stats       `json:"storage"`
	Clock    clockStatus       `json:"clock"`
	Grid     gridStatus        `json:"grid"`
}

type clockStatus struct {
	OffsetSeconds float64    `json:"offset_seconds"`
	LastSync      *time.Time `json:"last_sync,omitempty"`
	Synced        bool       `json:"synced"`
}

type gridStatus struct {
	Regions []string `json:"regions"`
	Cells   int      `json:"cells"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := statsResponse{
		Pipeline: s.pipe.Snapshot(),
		Storage:  s.sink.Stats(),
		Grid: gridStatus{
			Regions: s.grid.Regions(),
			Cells:   s.grid.CellCount(),
		},
	}
	resp.Clock.OffsetSeconds = s.clock.Offset().Seconds()
	if last, ok := s.clock.LastSync(); ok {
		resp.Clock.LastSync = &last
		resp.Clock.Synced = true
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write stats")
	}
}

func (s *Server) showHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	snap := s.pipe.Snapshot()
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"last_tick": snap.LastTick,
		"ticks":     snap.TickCount,
	})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Effective values, not the raw file: unset fields show their
	// defaults.
	effective := map[string]any{
		"ntp_server":            s.cfg.GetNTPServer(),
		"sync_interval":         s.cfg.GetSyncInterval().String(),
		"listen_addr":           s.cfg.GetListenAddr(),
		"db_path":               s.cfg.GetDBPath(),
		"backup_dir":            s.cfg.GetBackupDir(),
		"backup_max_age":        s.cfg.GetBackupMaxAge().String(),
		"retry_attempts":        s.cfg.GetRetryAttempts(),
		"retry_delay":           s.cfg.GetRetryDelay().String(),
		"fetch_timeout":         s.cfg.GetFetchTimeout().String(),
		"grid_size":             s.cfg.GetGridSize(),
		"region_files":          s.cfg.GetRegionFiles(),
		"cascade_length":        s.cfg.GetCascadeLength(),
		"sweep_max_age_seconds": s.cfg.GetSweepMaxAgeSeconds(),
		"sweep_every_ticks":     s.cfg.GetSweepEveryTicks(),
		"debug":                 s.cfg.GetDebug(),
	}
	if err := json.NewEncoder(w).Encode(effective); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
	}
}
