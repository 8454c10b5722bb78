package feed

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-data/nightpulse/internal/httputil"
	"github.com/lattice-data/nightpulse/internal/olc"
	"github.com/lattice-data/nightpulse/internal/timeutil"
	"github.com/lattice-data/nightpulse/internal/track"
)

// Two vectors with positions, one without, one with a null identifier.
const statesBody = `{
  "time": 1725163200,
  "states": [
    ["a1b2c3", "UAL123  ", "United States", 1725163195, 1725163199,
     -122.4194, 37.7749, 10000.5, false, 230.2, 90.5, -4.5, null, 10400.1,
     "7700", false, 0],
    ["d4e5f6", null, "Germany", null, 1725163199,
     8.5622, 50.0379, null, true, 2.1, 180.0, null, null, null,
     null, false, 0],
    ["090a0b", "NOPOS", "France", 1725163190, 1725163199,
     null, null, 9000.0, false, 200.0, 45.0, 0.0, null, 9100.0,
     null, false, 0],
    [null, "GHOST", "Unknown", 1725163190, 1725163199,
     2.0, 48.0, 9000.0, false, 200.0, 45.0, 0.0, null, 9100.0,
     null, false, 0]
  ]
}`

func newTestClient(mock *httputil.MockHTTPClient, opts ...Option) *Client {
	base := []Option{
		WithHTTPClient(mock),
		WithClock(&timeutil.MockClock{SleepAdvances: true}),
		WithRetry(3, time.Second),
	}
	return NewClient(append(base, opts...)...)
}

func TestFetchCurrentParsesStateVectors(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddResponse(200, statesBody)
	c := newTestClient(mock)

	states, err := c.FetchCurrent(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 2, "vectors without position or identifier are skipped")

	ual := states[0]
	assert.Equal(t, "a1b2c3", ual.ICAO24)
	assert.Equal(t, "UAL123", ual.Callsign, "callsign padding is trimmed")
	assert.Equal(t, "United States", ual.OriginCountry)
	assert.Equal(t, 1725163195.0, ual.Timestamp, "position time preferred")
	require.NotNil(t, ual.Latitude)
	assert.InDelta(t, 37.7749, *ual.Latitude, 1e-9)
	require.NotNil(t, ual.Heading)
	assert.InDelta(t, 90.5, *ual.Heading, 1e-9)
	require.NotNil(t, ual.VerticalRate)
	assert.InDelta(t, -4.5, *ual.VerticalRate, 1e-9)
	assert.False(t, ual.OnGround)
	assert.NotEmpty(t, ual.PlusCode)

	lat, lon, vel, hdg := 50.0379, 8.5622, 2.1, 180.0
	want := track.AircraftState{
		ICAO24:        "d4e5f6",
		Timestamp:     1725163200.0, // fetch time when no position time
		Latitude:      &lat,
		Longitude:     &lon,
		Velocity:      &vel,
		Heading:       &hdg,
		OnGround:      true,
		OriginCountry: "Germany",
		PlusCode:      olc.Encode(lat, lon),
	}
	if diff := cmp.Diff(want, states[1]); diff != "" {
		t.Errorf("parsed state mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchCurrentRetriesThenSucceeds(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddErrorResponse(errors.New("connection reset")).
		AddResponse(429, "rate limited").
		AddResponse(200, statesBody)
	clock := &timeutil.MockClock{SleepAdvances: true}
	c := NewClient(WithHTTPClient(mock), WithClock(clock), WithRetry(3, 15*time.Second))

	states, err := c.FetchCurrent(context.Background())
	require.NoError(t, err)
	assert.Len(t, states, 2)
	assert.Equal(t, 3, mock.RequestCount())
	assert.Equal(t, []time.Duration{15 * time.Second, 15 * time.Second}, clock.Sleeps())
}

func TestFetchCurrentAllAttemptsFail(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddResponse(503, "down").
		AddResponse(503, "down").
		AddResponse(503, "down")
	c := newTestClient(mock)

	_, err := c.FetchCurrent(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
	assert.Equal(t, 3, mock.RequestCount())
}

func TestFetchCurrentEmptyStatesIsNotAnError(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddResponse(200, `{"time": 1725163200, "states": null}`)
	c := newTestClient(mock)

	states, err := c.FetchCurrent(context.Background())
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestFetchCurrentDoneContextEndsRetriesWithoutSleeping(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := &timeutil.MockClock{SleepAdvances: true}
	mock := httputil.NewMockHTTPClient()
	mock.DoFunc = func(*http.Request) (*http.Response, error) {
		cancel()
		return nil, errors.New("connection reset")
	}
	c := NewClient(WithHTTPClient(mock), WithClock(clock), WithRetry(3, 15*time.Second))

	_, err := c.FetchCurrent(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, mock.RequestCount(), "no further attempts after the context ended")
	assert.Empty(t, clock.Sleeps(), "retry delay must not be slept once the context is done")
}

func TestFetchCurrentCancelInterruptsRetryWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	// Timers on a plain MockClock never fire on their own, so a return
	// here can only come from the context branch of the retry wait.
	clock := timeutil.NewMockClock(time.Unix(1725163200, 0))
	mock := httputil.NewMockHTTPClient()
	mock.DefaultError = errors.New("connection reset")
	c := NewClient(WithHTTPClient(mock), WithClock(clock), WithRetry(3, 15*time.Second))

	done := make(chan error, 1)
	go func() {
		_, err := c.FetchCurrent(ctx)
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("FetchCurrent did not return after the context was cancelled")
	}
}

func TestFetchCurrentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := httputil.NewMockHTTPClient().AddErrorResponse(errors.New("boom"))
	c := newTestClient(mock)

	_, err := c.FetchCurrent(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatesURLBoundingBox(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddResponse(200, `{"time": 1, "states": null}`)
	c := newTestClient(mock, WithBoundingBox(BoundingBox{
		MinLat: 37.0, MinLon: -122.5, MaxLat: 38.0, MaxLon: -121.5,
	}))

	_, err := c.FetchCurrent(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, mock.RequestCount())
	q := mock.Requests[0].URL.Query()
	assert.Equal(t, "37", q.Get("lamin"))
	assert.Equal(t, "-122.5", q.Get("lomin"))
	assert.Equal(t, "38", q.Get("lamax"))
	assert.Equal(t, "-121.5", q.Get("lomax"))
	assert.Equal(t, "/api/states/all", mock.Requests[0].URL.Path)
}

func TestBasicAuthAttached(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddResponse(200, `{"time": 1, "states": null}`)
	c := newTestClient(mock, WithCredentials("user", "pass"))

	_, err := c.FetchCurrent(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, mock.RequestCount())
	user, pass, ok := mock.Requests[0].BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "user", user)
	assert.Equal(t, "pass", pass)
}
