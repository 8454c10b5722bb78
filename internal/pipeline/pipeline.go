// Package pipeline composes the per-tick work: refresh aircraft
// positions from the feed, fill gaps by dead reckoning, classify each
// position against the sunset grid, and emit a pulse for every aircraft
// flying past local sunset.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/lattice-data/nightpulse/internal/feed"
	"github.com/lattice-data/nightpulse/internal/metrics"
	"github.com/lattice-data/nightpulse/internal/monitoring"
	"github.com/lattice-data/nightpulse/internal/pulse"
	"github.com/lattice-data/nightpulse/internal/store"
	"github.com/lattice-data/nightpulse/internal/sunset"
	"github.com/lattice-data/nightpulse/internal/track"
)

const (
	// DefaultSweepEvery is how many ticks pass between stale-state
	// sweeps of the interpolator.
	DefaultSweepEvery = 30

	// DefaultFetchTimeout bounds one feed refresh. Kept under the
	// interpolator's projection window so a slow feed degrades to
	// dead reckoning rather than stalling ticks indefinitely.
	DefaultFetchTimeout = 10 * time.Second
)

// Pipeline implements tick.Observer. One instance runs all per-tick
// work synchronously on the scheduler's goroutine.
type Pipeline struct {
	feed         feed.Feed
	interp       *track.Interpolator
	grid         *sunset.Grid
	gen          *pulse.Generator
	sink         store.Sink
	fetchTimeout time.Duration
	sweepEvery   int
	sweepMaxAge  float64
	tickStats    *RollingStats

	mu           sync.Mutex
	tickCount    int64
	pulseCount   int64
	lastTick     time.Time
	lastAircraft int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFetchTimeout bounds one feed refresh.
func WithFetchTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.fetchTimeout = d }
}

// WithSweep sets how often (in ticks) the interpolator is swept and the
// max state age (seconds) the sweep enforces.
func WithSweep(everyTicks int, maxAgeSeconds float64) Option {
	return func(p *Pipeline) {
		if everyTicks > 0 {
			p.sweepEvery = everyTicks
		}
		if maxAgeSeconds > 0 {
			p.sweepMaxAge = maxAgeSeconds
		}
	}
}

// New wires the collaborators into a Pipeline.
func New(f feed.Feed, interp *track.Interpolator, grid *sunset.Grid, gen *pulse.Generator, sink store.Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		feed:         f,
		interp:       interp,
		grid:         grid,
		gen:          gen,
		sink:         sink,
		fetchTimeout: DefaultFetchTimeout,
		sweepEvery:   DefaultSweepEvery,
		sweepMaxAge:  track.DefaultSweepMaxAge,
		tickStats:    NewRollingStats(300),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnTick runs one tick: fetch, merge, classify, emit. Every data
// problem degrades to omitting the affected aircraft; nothing here
// stops the scheduler.
func (p *Pipeline) OnTick(now time.Time) {
	started := time.Now()
	metrics.TicksTotal.Inc()

	live := p.fetchLive()
	targetTime := float64(now.UnixNano()) / 1e9
	positions := p.interp.MergeTick(live, targetTime)

	pulses := 0
	for _, pos := range positions {
		sunsetAt, known := p.grid.Lookup(pos.Latitude, pos.Longitude)
		if !known {
			metrics.UnknownSunsetTotal.Inc()
			continue
		}
		if now.Before(sunsetAt) {
			continue
		}
		pl := p.gen.Generate(pos.Latitude, pos.Longitude, sunsetAt, now)
		p.sink.Store(pl, []track.TickPosition{pos})
		metrics.PulsesTotal.Inc()
		pulses++
	}

	p.mu.Lock()
	p.tickCount++
	p.pulseCount += int64(pulses)
	p.lastTick = now
	p.lastAircraft = len(positions)
	tickCount := p.tickCount
	p.mu.Unlock()

	if tickCount%int64(p.sweepEvery) == 0 {
		p.interp.Sweep(p.sweepMaxAge)
	}

	elapsed := time.Since(started).Seconds()
	metrics.TickDurationSeconds.Observe(elapsed)
	p.tickStats.Observe(elapsed)
}

// fetchLive refreshes positions from the feed. A failed fetch logs an
// anomaly and yields no fresh observations, which is not fatal: known
// aircraft are still projectable for the next few seconds.
func (p *Pipeline) fetchLive() []track.AircraftState {
	ctx, cancel := context.WithTimeout(context.Background(), p.fetchTimeout)
	defer cancel()

	live, err := p.feed.FetchCurrent(ctx)
	if err != nil {
		metrics.FeedFetchesTotal.WithLabelValues("error").Inc()
		monitoring.Logf("pipeline: feed fetch failed: %v", err)
		p.sink.LogAnomaly("feed_failure", err.Error())
		return nil
	}
	metrics.FeedFetchesTotal.WithLabelValues("success").Inc()
	return live
}

// Snapshot is the pipeline's externally visible state, for the API.
type Snapshot struct {
	TickCount    int64        `json:"tick_count"`
	PulseCount   int64        `json:"pulse_count"`
	LastTick     time.Time    `json:"last_tick"`
	LastAircraft int          `json:"last_aircraft"`
	TrackedCount int          `json:"tracked_count"`
	TickStats    StatsSummary `json:"tick_stats"`
}

// Snapshot returns current counters and tick timing statistics.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	snap := Snapshot{
		TickCount:    p.tickCount,
		PulseCount:   p.pulseCount,
		LastTick:     p.lastTick,
		LastAircraft: p.lastAircraft,
	}
	p.mu.Unlock()
	snap.TrackedCount = p.interp.Len()
	snap.TickStats = p.tickStats.Summary()
	return snap
}
