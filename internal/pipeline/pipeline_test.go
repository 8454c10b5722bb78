package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-data/nightpulse/internal/pulse"
	"github.com/lattice-data/nightpulse/internal/store"
	"github.com/lattice-data/nightpulse/internal/sunset"
	"github.com/lattice-data/nightpulse/internal/track"
)

// scriptedFeed returns one queued batch (or error) per call; when the
// script runs out it returns empty batches.
type scriptedFeed struct {
	batches [][]track.AircraftState
	errs    []error
	calls   int
}

func (f *scriptedFeed) FetchCurrent(ctx context.Context) ([]track.AircraftState, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.batches) {
		return f.batches[i], nil
	}
	return nil, nil
}

type capturingSink struct {
	pulses    []pulse.Pulse
	aircraft  [][]track.TickPosition
	anomalies []string
}

func (s *capturingSink) Store(p pulse.Pulse, aircraft []track.TickPosition) store.StoreResult {
	s.pulses = append(s.pulses, p)
	s.aircraft = append(s.aircraft, aircraft)
	return store.StoreResult{Database: true, Local: true}
}

func (s *capturingSink) LogAnomaly(kind, detail string) {
	s.anomalies = append(s.anomalies, kind)
}

type fixedSolar struct{ instant time.Time }

func (f fixedSolar) SunsetUTC(lat, lon float64, date time.Time) (time.Time, error) {
	return f.instant, nil
}

func ptr(v float64) *float64 { return &v }

func sfAircraft(icao string, ts float64) track.AircraftState {
	return track.AircraftState{
		ICAO24:    icao,
		Timestamp: ts,
		Latitude:  ptr(37.7749),
		Longitude: ptr(-122.4194),
		Velocity:  ptr(200.0),
		Heading:   ptr(90.0),
	}
}

// sfGrid covers the SF Bay with the given sunset instant everywhere.
func sfGrid(t *testing.T, sunsetAt time.Time) *sunset.Grid {
	t.Helper()
	g := sunset.NewGrid()
	_, err := g.BuildRegion("sf_bay", 37.0, -123.0, 38.5, -121.5, 0.1, sunsetAt, fixedSolar{instant: sunsetAt})
	require.NoError(t, err)
	return g
}

func TestTickEmitsPulseForAircraftPastSunset(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	sunsetAt := now.Add(-time.Hour)

	f := &scriptedFeed{batches: [][]track.AircraftState{
		{sfAircraft("a1b2c3", float64(now.Unix()))},
	}}
	sink := &capturingSink{}
	p := New(f, track.NewInterpolator(), sfGrid(t, sunsetAt), pulse.NewGenerator(0), sink)

	p.OnTick(now)

	require.Len(t, sink.pulses, 1)
	emitted := sink.pulses[0]
	assert.Len(t, emitted.PulseHash, 16)
	assert.Equal(t, 3600, emitted.CascadePosition)
	require.Len(t, sink.aircraft[0], 1)
	assert.Equal(t, "a1b2c3", sink.aircraft[0][0].ICAO24)

	snap := p.Snapshot()
	assert.Equal(t, int64(1), snap.TickCount)
	assert.Equal(t, int64(1), snap.PulseCount)
	assert.Equal(t, 1, snap.LastAircraft)
	assert.Equal(t, 1, snap.TrackedCount)
	assert.Equal(t, 1, snap.TickStats.Count)
}

func TestTickOmitsAircraftBeforeSunset(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	sunsetAt := now.Add(time.Hour)

	f := &scriptedFeed{batches: [][]track.AircraftState{
		{sfAircraft("a1b2c3", float64(now.Unix()))},
	}}
	sink := &capturingSink{}
	p := New(f, track.NewInterpolator(), sfGrid(t, sunsetAt), pulse.NewGenerator(0), sink)

	p.OnTick(now)

	assert.Empty(t, sink.pulses)
	assert.Equal(t, int64(0), p.Snapshot().PulseCount)
}

func TestTickOmitsAircraftOutsideGrid(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	frankfurt := track.AircraftState{
		ICAO24:    "d4e5f6",
		Timestamp: float64(now.Unix()),
		Latitude:  ptr(50.0379),
		Longitude: ptr(8.5622),
		Velocity:  ptr(150.0),
		Heading:   ptr(180.0),
	}
	f := &scriptedFeed{batches: [][]track.AircraftState{{frankfurt}}}
	sink := &capturingSink{}
	p := New(f, track.NewInterpolator(), sfGrid(t, now.Add(-time.Hour)), pulse.NewGenerator(0), sink)

	p.OnTick(now)

	assert.Empty(t, sink.pulses, "unknown sunset must omit, not emit")
	assert.Equal(t, 1, p.Snapshot().LastAircraft, "the aircraft was still tracked")
}

func TestFeedFailureLogsAnomalyAndProjectionCarriesOn(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	sunsetAt := now.Add(-time.Hour)

	f := &scriptedFeed{
		batches: [][]track.AircraftState{
			{sfAircraft("a1b2c3", float64(now.Unix()))},
			nil,
		},
		errs: []error{nil, errors.New("opensky down")},
	}
	sink := &capturingSink{}
	p := New(f, track.NewInterpolator(), sfGrid(t, sunsetAt), pulse.NewGenerator(0), sink)

	p.OnTick(now)
	p.OnTick(now.Add(time.Second))

	assert.Equal(t, []string{"feed_failure"}, sink.anomalies)
	// Tick two still emitted a pulse from the projected position.
	require.Len(t, sink.pulses, 2)
	assert.NotEqual(t, sink.pulses[0].PulseHash, sink.pulses[1].PulseHash)
	assert.True(t, sink.aircraft[1][0].Interpolated)
}

func TestSweepRunsOnSchedule(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	interp := track.NewInterpolator()
	// A state far too old to project or keep.
	interp.Record(sfAircraft("oldone", float64(now.Unix())-300))

	f := &scriptedFeed{}
	sink := &capturingSink{}
	p := New(f, interp, sfGrid(t, now.Add(-time.Hour)), pulse.NewGenerator(0), sink,
		WithSweep(2, 60))

	p.OnTick(now)
	assert.Equal(t, 1, interp.Len(), "no sweep on tick one")

	p.OnTick(now.Add(time.Second))
	assert.Equal(t, 0, interp.Len(), "sweep on tick two removed the stale state")
}

func TestRollingStatsSummary(t *testing.T) {
	r := NewRollingStats(4)

	assert.Zero(t, r.Summary().Count)

	for _, v := range []float64{1, 2, 3, 4} {
		r.Observe(v)
	}
	s := r.Summary()
	assert.Equal(t, 4, s.Count)
	assert.InDelta(t, 2.5, s.Mean, 1e-9)
	assert.Equal(t, 4.0, s.Max)

	// The window evicts oldest-first.
	r.Observe(10)
	s = r.Summary()
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 10.0, s.Max)
	assert.InDelta(t, 4.75, s.Mean, 1e-9)
}

func TestRollingStatsSingleObservation(t *testing.T) {
	r := NewRollingStats(8)
	r.Observe(3)

	s := r.Summary()
	assert.Equal(t, 1, s.Count)
	assert.Equal(t, 3.0, s.Mean)
	assert.Zero(t, s.StdDev)
}
