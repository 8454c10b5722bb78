package tick

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-data/nightpulse/internal/timeutil"
)

// tickRecorder collects the Unix second of every dispatch.
type tickRecorder struct {
	mu      sync.Mutex
	seconds []int64
}

func (r *tickRecorder) OnTick(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seconds = append(r.seconds, now.Unix())
}

func (r *tickRecorder) snapshot() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.seconds))
	copy(out, r.seconds)
	return out
}

func distinct(seconds []int64) int {
	seen := make(map[int64]bool)
	for _, s := range seconds {
		seen[s] = true
	}
	return len(seen)
}

func newTestScheduler(t *testing.T) (*Scheduler, *timeutil.MockClock) {
	t.Helper()
	base := time.Date(2024, time.September, 1, 20, 0, 0, 0, time.UTC)
	mock := timeutil.NewMockClock(base)
	return New(mock, WithSleeper(mock)), mock
}

func TestDispatchesOncePerDistinctSecond(t *testing.T) {
	s, mock := newTestScheduler(t)
	rec := &tickRecorder{}
	s.Register(rec)

	s.Start()
	defer s.Stop()

	// Drive five virtual seconds in 100ms steps, yielding to the loop
	// goroutine between advances.
	require.Eventually(t, func() bool {
		mock.Advance(100 * time.Millisecond)
		return distinct(rec.snapshot()) >= 5
	}, 5*time.Second, time.Millisecond)

	seen := make(map[int64]int)
	for _, sec := range rec.snapshot() {
		seen[sec]++
	}
	for sec, n := range seen {
		assert.Equal(t, 1, n, "second %d dispatched %d times", sec, n)
	}
}

func TestObserverPanicDoesNotStopScheduler(t *testing.T) {
	s, mock := newTestScheduler(t)

	rec := &tickRecorder{}
	s.Register(ObserverFunc(func(time.Time) {
		panic("observer exploded")
	}))
	s.Register(rec)

	s.Start()
	defer s.Stop()

	// The panicking observer runs first on every tick; the recorder must
	// still accumulate ticks across multiple seconds.
	require.Eventually(t, func() bool {
		mock.Advance(100 * time.Millisecond)
		return distinct(rec.snapshot()) >= 3
	}, 5*time.Second, time.Millisecond)
}

func TestObserversRunInRegistrationOrder(t *testing.T) {
	s, mock := newTestScheduler(t)

	var mu sync.Mutex
	var order []string
	s.Register(ObserverFunc(func(time.Time) {
		mu.Lock()
		order = append(order, "a")
		mu.Unlock()
	}))
	s.Register(ObserverFunc(func(time.Time) {
		mu.Lock()
		order = append(order, "b")
		mu.Unlock()
	}))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		mock.Advance(100 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		return len(order) >= 4
	}, 5*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i+1 < len(order); i += 2 {
		assert.Equal(t, "a", order[i])
		assert.Equal(t, "b", order[i+1])
	}
}

func TestStartTwiceAndStopTwice(t *testing.T) {
	s, _ := newTestScheduler(t)

	s.Start()
	s.Start() // logged no-op
	assert.True(t, s.Running())

	s.Stop()
	assert.False(t, s.Running())
	s.Stop() // logged no-op
	assert.False(t, s.Running())
}

func TestConcurrentStopsDoNotPanic(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.Start()

	// Racing Stops must resolve to one shutdown and logged no-ops, never
	// a second close of the stop channel.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Stop()
		}()
	}
	wg.Wait()

	assert.False(t, s.Running())
}

func TestStopHaltsDispatch(t *testing.T) {
	s, mock := newTestScheduler(t)
	rec := &tickRecorder{}
	s.Register(rec)

	s.Start()
	require.Eventually(t, func() bool {
		mock.Advance(100 * time.Millisecond)
		return distinct(rec.snapshot()) >= 2
	}, 5*time.Second, time.Millisecond)
	s.Stop()

	before := len(rec.snapshot())
	for i := 0; i < 30; i++ {
		mock.Advance(time.Second)
	}
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, before, len(rec.snapshot()), "no dispatch after Stop")
}

func TestDispatchHookObservesTicks(t *testing.T) {
	base := time.Date(2024, time.September, 1, 20, 0, 0, 0, time.UTC)
	mock := timeutil.NewMockClock(base)

	var mu sync.Mutex
	var hooks int
	s := New(mock, WithSleeper(mock), WithDispatchHook(func(time.Time, time.Duration) {
		mu.Lock()
		hooks++
		mu.Unlock()
	}))
	s.Register(ObserverFunc(func(time.Time) {}))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		mock.Advance(100 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		return hooks >= 2
	}, 5*time.Second, time.Millisecond)
}
