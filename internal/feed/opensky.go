// Package feed acquires live aircraft state vectors. The pipeline only
// sees the Feed interface; the OpenSky Network REST client is the
// production implementation. A failed or empty fetch is never fatal to
// the caller, and retry policy lives entirely in here.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lattice-data/nightpulse/internal/httputil"
	"github.com/lattice-data/nightpulse/internal/monitoring"
	"github.com/lattice-data/nightpulse/internal/olc"
	"github.com/lattice-data/nightpulse/internal/timeutil"
	"github.com/lattice-data/nightpulse/internal/track"
)

const (
	// DefaultBaseURL is the OpenSky Network REST endpoint root.
	DefaultBaseURL = "https://opensky-network.org/api"

	// DefaultRetryAttempts and DefaultRetryDelay govern the fetch retry
	// loop. OpenSky rate-limits anonymous clients aggressively, so the
	// delay is generous.
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 15 * time.Second
)

// Feed is what the pipeline consumes each tick.
type Feed interface {
	FetchCurrent(ctx context.Context) ([]track.AircraftState, error)
}

// BoundingBox restricts a fetch to an area. Degrees, min before max.
type BoundingBox struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// Client fetches state vectors from the OpenSky /states/all endpoint.
type Client struct {
	baseURL    string
	username   string
	password   string
	bbox       *BoundingBox
	attempts   int
	retryDelay time.Duration
	httpc      httputil.HTTPClient
	clock      timeutil.Clock
}

// Option configures a Client.
type Option func(*Client)

// WithCredentials sets OpenSky basic-auth credentials.
func WithCredentials(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithBoundingBox restricts fetches to the given area.
func WithBoundingBox(b BoundingBox) Option {
	return func(c *Client) { c.bbox = &b }
}

// WithRetry sets the attempt count and the delay between attempts.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		c.retryDelay = delay
	}
}

// WithBaseURL overrides the endpoint root, for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient substitutes the HTTP client, for tests.
func WithHTTPClient(h httputil.HTTPClient) Option {
	return func(c *Client) { c.httpc = h }
}

// WithClock substitutes the clock used for retry delays, for tests.
func WithClock(clock timeutil.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// NewClient returns an OpenSky client with default retry policy.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		attempts:   DefaultRetryAttempts,
		retryDelay: DefaultRetryDelay,
		httpc:      httputil.NewStandardClient(&http.Client{Timeout: 30 * time.Second}),
		clock:      timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// statesResponse is OpenSky's envelope. Each state vector is a
// positional JSON array of mixed types.
type statesResponse struct {
	Time   int64   `json:"time"`
	States [][]any `json:"states"`
}

// FetchCurrent fetches the current state vectors, retrying on failure.
// Vectors without a position are skipped. It returns the last error
// only after every attempt has failed. The wait between attempts is cut
// short when ctx ends, so a caller's deadline bounds the whole call.
func (c *Client) FetchCurrent(ctx context.Context) ([]track.AircraftState, error) {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			monitoring.Debugf("feed: retry %d/%d after %s", attempt+1, c.attempts, c.retryDelay)
			if err := c.waitRetry(ctx); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		states, err := c.fetchOnce(ctx)
		if err != nil {
			lastErr = err
			monitoring.Logf("feed: fetch attempt %d/%d failed: %v", attempt+1, c.attempts, err)
			continue
		}
		return states, nil
	}
	return nil, fmt.Errorf("feed: all %d attempts failed: %w", c.attempts, lastErr)
}

// waitRetry pauses for the retry delay, returning early with the context
// error when ctx ends first.
func (c *Client) waitRetry(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.clock.After(c.retryDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) fetchOnce(ctx context.Context) ([]track.AircraftState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statesURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("feed: build request: %w", err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("feed: unexpected status %d", resp.StatusCode)
	}

	var envelope statesResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("feed: decode response: %w", err)
	}

	out := make([]track.AircraftState, 0, len(envelope.States))
	for _, vec := range envelope.States {
		state, ok := parseStateVector(vec, envelope.Time)
		if !ok {
			continue
		}
		out = append(out, state)
	}
	return out, nil
}

func (c *Client) statesURL() string {
	u := c.baseURL + "/states/all"
	if c.bbox == nil {
		return u
	}
	q := url.Values{}
	q.Set("lamin", fmt.Sprintf("%g", c.bbox.MinLat))
	q.Set("lomin", fmt.Sprintf("%g", c.bbox.MinLon))
	q.Set("lamax", fmt.Sprintf("%g", c.bbox.MaxLat))
	q.Set("lomax", fmt.Sprintf("%g", c.bbox.MaxLon))
	return u + "?" + q.Encode()
}

// OpenSky state vector indices, per the /states/all documentation.
const (
	vecICAO24        = 0
	vecCallsign      = 1
	vecOriginCountry = 2
	vecTimePosition  = 3
	vecLongitude     = 5
	vecLatitude      = 6
	vecBaroAltitude  = 7
	vecOnGround      = 8
	vecVelocity      = 9
	vecTrueTrack     = 10
	vecVerticalRate  = 11
)

// parseStateVector maps one positional array to an AircraftState. ok is
// false for vectors missing an identifier or a position.
func parseStateVector(vec []any, fetchTime int64) (track.AircraftState, bool) {
	icao24 := vecString(vec, vecICAO24)
	lat := vecFloat(vec, vecLatitude)
	lon := vecFloat(vec, vecLongitude)
	if icao24 == "" || lat == nil || lon == nil {
		return track.AircraftState{}, false
	}

	// The position timestamp is the dead-reckoning anchor; fall back to
	// the fetch time when the vector carries none.
	timestamp := float64(fetchTime)
	if tp := vecFloat(vec, vecTimePosition); tp != nil {
		timestamp = *tp
	}

	return track.AircraftState{
		ICAO24:        icao24,
		Callsign:      strings.TrimSpace(vecString(vec, vecCallsign)),
		OriginCountry: vecString(vec, vecOriginCountry),
		Timestamp:     timestamp,
		Latitude:      lat,
		Longitude:     lon,
		BaroAltitude:  vecFloat(vec, vecBaroAltitude),
		OnGround:      vecBool(vec, vecOnGround),
		Velocity:      vecFloat(vec, vecVelocity),
		Heading:       vecFloat(vec, vecTrueTrack),
		VerticalRate:  vecFloat(vec, vecVerticalRate),
		PlusCode:      olc.Encode(*lat, *lon),
	}, true
}

func vecString(vec []any, i int) string {
	if i >= len(vec) {
		return ""
	}
	s, _ := vec[i].(string)
	return s
}

func vecFloat(vec []any, i int) *float64 {
	if i >= len(vec) {
		return nil
	}
	f, ok := vec[i].(float64)
	if !ok {
		return nil
	}
	return &f
}

func vecBool(vec []any, i int) bool {
	if i >= len(vec) {
		return false
	}
	b, _ := vec[i].(bool)
	return b
}
