// Package refclock maintains an NTP-corrected view of the current time.
//
// The clock tracks a single offset between the local system clock and an
// external time source. Reads never block on the network: when a resync
// fails the previous offset stays in effect and accuracy degrades to that
// of the local clock.
package refclock

import (
	"sync"
	"time"

	"github.com/lattice-data/nightpulse/internal/monitoring"
	"github.com/lattice-data/nightpulse/internal/timeutil"
)

// DefaultSyncInterval is how long a sync result is trusted before Now
// attempts a refresh.
const DefaultSyncInterval = time.Hour

// TimeSource answers with the offset between the local clock and an
// authoritative reference. Implementations may block on the network.
type TimeSource interface {
	// Offset returns how far the local clock deviates from the reference
	// (reference minus local), so corrected = local + offset.
	Offset() (time.Duration, error)
}

// Clock is an offset-corrected clock.
type Clock struct {
	clock        timeutil.Clock
	source       TimeSource
	syncInterval time.Duration

	// onSyncFailure, when set, observes each failed resync. Used to feed
	// the sync-failure counter without importing the metrics package here.
	onSyncFailure func(error)

	mu       sync.Mutex
	offset   time.Duration
	lastSync time.Time
	synced   bool
}

// Option configures a Clock.
type Option func(*Clock)

// WithSyncInterval overrides the refresh interval.
func WithSyncInterval(d time.Duration) Option {
	return func(c *Clock) { c.syncInterval = d }
}

// WithClock substitutes the local clock, for tests.
func WithClock(clk timeutil.Clock) Option {
	return func(c *Clock) { c.clock = clk }
}

// WithSyncFailureHook registers a callback invoked on each failed resync.
func WithSyncFailureHook(f func(error)) Option {
	return func(c *Clock) { c.onSyncFailure = f }
}

// New creates a Clock backed by the given time source and performs an
// initial sync. A failed initial sync is logged, not fatal: the clock
// starts with a zero offset.
func New(source TimeSource, opts ...Option) *Clock {
	c := &Clock{
		clock:        timeutil.RealClock{},
		source:       source,
		syncInterval: DefaultSyncInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Resync()
	return c
}

// Resync queries the time source once. On success the offset and last-sync
// time are replaced; on failure the previous offset stays in effect and the
// error is reported to the failure hook and the log.
func (c *Clock) Resync() {
	offset, err := c.source.Offset()
	if err != nil {
		monitoring.Logf("refclock: time sync failed, keeping offset %v: %v", c.Offset(), err)
		if c.onSyncFailure != nil {
			c.onSyncFailure(err)
		}
		return
	}

	c.mu.Lock()
	c.offset = offset
	c.lastSync = c.clock.Now()
	c.synced = true
	c.mu.Unlock()

	monitoring.Debugf("refclock: synchronized, offset %v", offset)
}

// Now returns the corrected current time. When the last successful sync is
// older than the sync interval, a resync is attempted first; its failure
// does not prevent returning a (possibly stale-offset) time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	stale := !c.synced || c.clock.Since(c.lastSync) > c.syncInterval
	c.mu.Unlock()

	if stale {
		c.Resync()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.Now().Add(c.offset)
}

// Offset returns the currently applied offset.
func (c *Clock) Offset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// LastSync returns when the source was last queried successfully, and
// whether any sync has ever succeeded.
func (c *Clock) LastSync() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSync, c.synced
}
