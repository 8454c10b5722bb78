// Package tick drives a once-per-wall-clock-second dispatch loop anchored
// to a corrected time source.
package tick

import (
	"math"
	"sync"
	"time"

	"github.com/lattice-data/nightpulse/internal/monitoring"
	"github.com/lattice-data/nightpulse/internal/timeutil"
)

// wakeFraction is how much of the remaining time to the next second
// boundary the loop sleeps before rechecking. Waking slightly early keeps
// the loop from overshooting a boundary; the recheck re-reads the
// authoritative clock, so drift is bounded per iteration instead of
// accumulating.
const wakeFraction = 0.95

// Observer receives one callback per distinct wall-clock second while the
// scheduler runs. Observers execute synchronously on the scheduler
// goroutine, in registration order.
type Observer interface {
	OnTick(now time.Time)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(now time.Time)

// OnTick implements Observer.
func (f ObserverFunc) OnTick(now time.Time) { f(now) }

// TimeSource supplies the corrected current time. *refclock.Clock
// satisfies it.
type TimeSource interface {
	Now() time.Time
}

// Scheduler dispatches registered observers exactly once per distinct
// integer second of the source clock.
type Scheduler struct {
	source  TimeSource
	sleeper timeutil.Clock

	mu        sync.Mutex
	observers []Observer
	running   bool
	stop      chan struct{}
	done      chan struct{}

	// onDispatch, when set, observes every completed tick. Used for
	// metrics without coupling this package to prometheus.
	onDispatch func(now time.Time, elapsed time.Duration)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSleeper substitutes the clock used for sleeping between boundary
// checks, for tests.
func WithSleeper(c timeutil.Clock) Option {
	return func(s *Scheduler) { s.sleeper = c }
}

// WithDispatchHook registers a callback invoked after each completed tick
// with the tick time and how long the dispatch took.
func WithDispatchHook(f func(now time.Time, elapsed time.Duration)) Option {
	return func(s *Scheduler) { s.onDispatch = f }
}

// New creates a Scheduler reading time from source.
func New(source TimeSource, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:  source,
		sleeper: timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds an observer. Registration normally happens before Start;
// registering against a running scheduler is safe and takes effect on the
// next tick.
func (s *Scheduler) Register(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Start launches the dispatch loop on its own goroutine. Starting an
// already-running scheduler is a logged no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		monitoring.Logf("tick: scheduler already running")
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
	monitoring.Logf("tick: scheduler started")
}

// Stop halts the loop and waits for the current dispatch, if any, to
// return. Stopping an idle scheduler is a logged no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		monitoring.Logf("tick: scheduler is not running")
		return
	}
	// Clear running before closing so a concurrent Stop takes the no-op
	// path instead of closing the channel a second time.
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	monitoring.Logf("tick: scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	var lastSecond int64 = math.MinInt64

	for {
		select {
		case <-stop:
			return
		default:
		}

		now := s.source.Now()
		if sec := now.Unix(); sec != lastSecond {
			started := s.sleeper.Now()
			s.dispatch(now)
			if s.onDispatch != nil {
				s.onDispatch(now, s.sleeper.Since(started))
			}
			lastSecond = sec
		}

		// Sleep until shortly before the next second boundary, then
		// recheck against the source clock.
		remaining := time.Second - time.Duration(now.Nanosecond())
		timer := s.sleeper.NewTimer(time.Duration(float64(remaining) * wakeFraction))
		select {
		case <-timer.C():
		case <-stop:
			timer.Stop()
			return
		}
	}
}

// dispatch invokes all observers for one tick. A panicking observer is
// isolated: its failure is logged and the remaining observers still run.
func (s *Scheduler) dispatch(now time.Time) {
	s.mu.Lock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for i, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					monitoring.Logf("tick: observer %d failed at %s: %v", i, now.Format(time.RFC3339), r)
				}
			}()
			o.OnTick(now)
		}()
	}
}
