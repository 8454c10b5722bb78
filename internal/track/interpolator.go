package track

import (
	"errors"
	"math"
	"sync"

	"github.com/lattice-data/nightpulse/internal/monitoring"
	"github.com/lattice-data/nightpulse/internal/olc"
	"github.com/lattice-data/nightpulse/internal/timeutil"
)

const (
	// MaxProjectionAge bounds how far from its source observation a state
	// may be projected, in seconds. Dead reckoning is short-range only.
	MaxProjectionAge = 15.0

	// DefaultSweepMaxAge is how old a stored state may get before the
	// age sweep removes it, in seconds.
	DefaultSweepMaxAge = 60.0
)

var (
	// ErrUnknownAircraft means no state is stored for the identifier.
	ErrUnknownAircraft = errors.New("track: unknown aircraft")
	// ErrIncompleteState means the stored state is missing a field dead
	// reckoning needs.
	ErrIncompleteState = errors.New("track: state missing position, velocity or heading")
	// ErrStale means the stored state is too old (or too far in the
	// future) relative to the target time.
	ErrStale = errors.New("track: state outside projection window")
)

// Interpolator stores the latest state per aircraft and answers projection
// requests. All mutating entry points are mutex-guarded: ticks normally run
// on one goroutine, but the HTTP API may read concurrently.
type Interpolator struct {
	clock timeutil.Clock

	mu     sync.Mutex
	states map[string]AircraftState
}

// NewInterpolator returns an empty Interpolator using the real clock.
func NewInterpolator() *Interpolator {
	return NewInterpolatorWithClock(timeutil.RealClock{})
}

// NewInterpolatorWithClock substitutes the clock used by Sweep, for tests.
func NewInterpolatorWithClock(clock timeutil.Clock) *Interpolator {
	return &Interpolator{
		clock:  clock,
		states: make(map[string]AircraftState),
	}
}

// Record stores the state as the latest for its identifier, fully replacing
// any prior state. States without an identifier are ignored.
func (in *Interpolator) Record(state AircraftState) {
	if state.ICAO24 == "" {
		return
	}
	in.mu.Lock()
	in.states[state.ICAO24] = state
	in.mu.Unlock()
}

// Len returns the number of stored states.
func (in *Interpolator) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.states)
}

// States returns a copy of all stored states, for the API surface.
func (in *Interpolator) States() []AircraftState {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]AircraftState, 0, len(in.states))
	for _, s := range in.states {
		out = append(out, s)
	}
	return out
}

// Project dead-reckons the aircraft's position at targetTime (epoch
// seconds). It returns ErrUnknownAircraft, ErrIncompleteState or ErrStale
// when no projection is possible.
func (in *Interpolator) Project(icao24 string, targetTime float64) (InterpolatedPosition, error) {
	in.mu.Lock()
	state, ok := in.states[icao24]
	in.mu.Unlock()

	if !ok {
		return InterpolatedPosition{}, ErrUnknownAircraft
	}
	return projectState(state, targetTime)
}

func projectState(state AircraftState, targetTime float64) (InterpolatedPosition, error) {
	if !state.canProject() {
		return InterpolatedPosition{}, ErrIncompleteState
	}

	elapsed := targetTime - state.Timestamp
	if math.Abs(elapsed) > MaxProjectionAge {
		return InterpolatedPosition{}, ErrStale
	}

	// Signed distance: a negative elapsed projects backward along the
	// recorded heading.
	distance := *state.Velocity * elapsed
	lat, lon := destinationPoint(*state.Latitude, *state.Longitude, *state.Heading, distance)

	var alt float64
	if state.BaroAltitude != nil {
		alt = *state.BaroAltitude
	}
	if state.VerticalRate != nil {
		alt += *state.VerticalRate * elapsed
	}

	return InterpolatedPosition{
		ICAO24:       state.ICAO24,
		Timestamp:    targetTime,
		Latitude:     lat,
		Longitude:    lon,
		Altitude:     alt,
		PlusCode:     olc.Encode(lat, lon),
		Interpolated: true,
	}, nil
}

// MergeTick records every live state, then resolves a position for each
// known aircraft at targetTime: the live state when this batch contains
// one, otherwise a projection. Aircraft with neither are omitted.
func (in *Interpolator) MergeTick(live []AircraftState, targetTime float64) []TickPosition {
	liveByID := make(map[string]*AircraftState, len(live))
	for i := range live {
		s := &live[i]
		if s.ICAO24 == "" {
			continue
		}
		in.Record(*s)
		liveByID[s.ICAO24] = s
	}

	in.mu.Lock()
	ids := make([]string, 0, len(in.states))
	for id := range in.states {
		ids = append(ids, id)
	}
	in.mu.Unlock()

	out := make([]TickPosition, 0, len(ids))
	for _, id := range ids {
		if s, ok := liveByID[id]; ok {
			if !s.HasPosition() {
				continue
			}
			var alt float64
			if s.BaroAltitude != nil {
				alt = *s.BaroAltitude
			}
			out = append(out, TickPosition{
				ICAO24:    id,
				Latitude:  *s.Latitude,
				Longitude: *s.Longitude,
				Altitude:  alt,
				PlusCode:  s.PlusCode,
				Live:      s,
			})
			continue
		}

		pos, err := in.Project(id, targetTime)
		if err != nil {
			// Not an error at tick level: the aircraft simply has no
			// usable position this second.
			continue
		}
		out = append(out, TickPosition{
			ICAO24:       id,
			Latitude:     pos.Latitude,
			Longitude:    pos.Longitude,
			Altitude:     pos.Altitude,
			PlusCode:     pos.PlusCode,
			Interpolated: true,
		})
	}
	return out
}

// Sweep removes states whose source timestamp is older than maxAge seconds
// relative to the current clock, returning how many were removed.
func (in *Interpolator) Sweep(maxAge float64) int {
	now := float64(in.clock.Now().UnixNano()) / 1e9

	in.mu.Lock()
	defer in.mu.Unlock()

	removed := 0
	for id, s := range in.states {
		if now-s.Timestamp > maxAge {
			delete(in.states, id)
			removed++
		}
	}
	if removed > 0 {
		monitoring.Debugf("track: swept %d stale aircraft states", removed)
	}
	return removed
}
