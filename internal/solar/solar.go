// Package solar computes approximate sunset instants for a coordinate and
// date. The pipeline only needs second-level agreement with the true sunset
// for its day-scoped sequencing, so a declination/hour-angle approximation
// is used instead of a full ephemeris.
package solar

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/lattice-data/nightpulse/internal/monitoring"
)

// ErrNoSunset is returned for polar day or polar night, when the sun never
// crosses the horizon on the requested date.
var ErrNoSunset = errors.New("solar: no sunset at this latitude and date")

// Calculator computes and caches sunset instants. The zero value is not
// usable; create one with NewCalculator.
type Calculator struct {
	mu        sync.Mutex
	cache     map[string]int64 // cache key -> sunset epoch seconds
	cacheFile string           // optional persistent cache, "" disables
}

// NewCalculator returns a Calculator. When cacheFile is non-empty, previously
// computed sunsets are loaded from it and new results are persisted back.
func NewCalculator(cacheFile string) *Calculator {
	c := &Calculator{
		cache:     make(map[string]int64),
		cacheFile: cacheFile,
	}
	if cacheFile != "" {
		c.loadCache()
	}
	return c
}

func cacheKey(lat, lon float64, date time.Time) string {
	return fmt.Sprintf("%.4f_%.4f_%s", lat, lon, date.UTC().Format("2006-01-02"))
}

func (c *Calculator) loadCache() {
	data, err := os.ReadFile(c.cacheFile)
	if err != nil {
		if !os.IsNotExist(err) {
			monitoring.Logf("solar: failed to read cache file %s: %v", c.cacheFile, err)
		}
		return
	}
	if err := json.Unmarshal(data, &c.cache); err != nil {
		monitoring.Logf("solar: corrupt cache file %s, starting fresh: %v", c.cacheFile, err)
		c.cache = make(map[string]int64)
	}
}

// saveCache persists the cache. Callers must hold c.mu.
func (c *Calculator) saveCache() {
	data, err := json.MarshalIndent(c.cache, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(c.cacheFile, data, 0o644); err != nil {
		monitoring.Logf("solar: failed to write cache file %s: %v", c.cacheFile, err)
	}
}

// SunsetUTC returns the sunset instant in UTC for the given coordinate and
// calendar date.
func (c *Calculator) SunsetUTC(lat, lon float64, date time.Time) (time.Time, error) {
	key := cacheKey(lat, lon, date)

	c.mu.Lock()
	if ts, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return time.Unix(ts, 0).UTC(), nil
	}
	c.mu.Unlock()

	sunset, err := sunsetUTC(lat, lon, date)
	if err != nil {
		return time.Time{}, err
	}

	c.mu.Lock()
	c.cache[key] = sunset.Unix()
	if c.cacheFile != "" {
		c.saveCache()
	}
	c.mu.Unlock()

	return sunset, nil
}

// sunsetUTC is the uncached computation.
//
// Solar declination uses the Cooper approximation; the sunset hour angle
// follows from cos(h) = -tan(lat)·tan(decl). The hour angle converts to a
// UTC clock time via the coordinate's longitude (15° per hour). The
// equation of time (±16 min over the year) is deliberately ignored.
func sunsetUTC(lat, lon float64, date time.Time) (time.Time, error) {
	day := float64(date.UTC().YearDay())

	declDeg := -23.44 * math.Cos(2*math.Pi/365.0*(day+10))
	declRad := declDeg * math.Pi / 180
	latRad := lat * math.Pi / 180

	cosH := -math.Tan(latRad) * math.Tan(declRad)
	if cosH < -1 || cosH > 1 {
		return time.Time{}, ErrNoSunset
	}
	hourAngle := math.Acos(cosH) // radians from solar noon to sunset

	// Local solar sunset hour, then shift to UTC by longitude.
	solarSunsetHour := 12 + hourAngle*12/math.Pi
	utcHour := solarSunsetHour - lon/15

	// Wrap into [0, 24) while keeping the date the caller asked about.
	dayShift := 0
	for utcHour < 0 {
		utcHour += 24
		dayShift--
	}
	for utcHour >= 24 {
		utcHour -= 24
		dayShift++
	}

	d := date.UTC()
	midnight := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	midnight = midnight.AddDate(0, 0, dayShift)

	return midnight.Add(time.Duration(utcHour * float64(time.Hour))), nil
}
