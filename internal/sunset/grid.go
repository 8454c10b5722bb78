// Package sunset maintains quantized lookup tables mapping coarse
// coordinate cells to a sunset instant for a reference date. Grids are
// built offline from a solar calculator and queried per tick to decide
// whether a position is past local sunset.
package sunset

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

// DefaultGridSize is the cell edge in decimal degrees.
const DefaultGridSize = 0.1

// ErrNoCells means a region build produced an empty grid, usually from
// inverted bounds.
var ErrNoCells = errors.New("sunset: region bounds yield no cells")

// SolarSource computes the sunset instant for a coordinate on a date.
// internal/solar.Calculator satisfies it.
type SolarSource interface {
	SunsetUTC(lat, lon float64, date time.Time) (time.Time, error)
}

// Region is one named, immutable grid: cell key to sunset epoch seconds.
// GridSize records the resolution it was built at, so lookups quantize
// queries the same way.
type Region struct {
	Name     string           `json:"name"`
	GridSize float64          `json:"grid_size"`
	Date     string           `json:"date"`
	Cells    map[string]int64 `json:"cells"`
}

// Grid holds the registered regions. Lookup scans regions in
// registration order and the first cell hit wins; overlapping regions
// are not reconciled.
type Grid struct {
	mu      sync.Mutex
	regions []*Region
}

// NewGrid returns an empty Grid.
func NewGrid() *Grid {
	return &Grid{}
}

func cellKey(lat, lon float64) string {
	return fmt.Sprintf("%.4f_%.4f", lat, lon)
}

func quantize(v, gridSize float64) float64 {
	return math.Round(v/gridSize) * gridSize
}

// BuildRegion computes a sunset grid covering the bounding box, both
// ends inclusive, stepping by gridSize, and registers it under name.
// Cells where the calculator reports no sunset (polar day or night) are
// skipped. The built region is also returned so callers can save it.
func (g *Grid) BuildRegion(name string, minLat, minLon, maxLat, maxLon, gridSize float64, date time.Time, source SolarSource) (*Region, error) {
	if gridSize <= 0 {
		gridSize = DefaultGridSize
	}
	region := &Region{
		Name:     name,
		GridSize: gridSize,
		Date:     date.UTC().Format("2006-01-02"),
		Cells:    make(map[string]int64),
	}
	// Integer step counts keep the upper bounds inclusive where naive
	// float accumulation would drift past them.
	latSteps := int(math.Floor((maxLat-minLat)/gridSize + 1e-9))
	lonSteps := int(math.Floor((maxLon-minLon)/gridSize + 1e-9))
	if latSteps < 0 || lonSteps < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCells, name)
	}
	skipped := 0
	for i := 0; i <= latSteps; i++ {
		lat := minLat + float64(i)*gridSize
		for j := 0; j <= lonSteps; j++ {
			lon := minLon + float64(j)*gridSize
			instant, err := source.SunsetUTC(lat, lon, date)
			if err != nil {
				skipped++
				continue
			}
			region.Cells[cellKey(lat, lon)] = instant.Unix()
		}
	}
	if len(region.Cells) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCells, name)
	}
	g.AddRegion(region)
	if skipped > 0 {
		monitoring.Logf("sunset: region %q built with %d cells, %d skipped (no sunset)", name, len(region.Cells), skipped)
	} else {
		monitoring.Logf("sunset: region %q built with %d cells", name, len(region.Cells))
	}
	return region, nil
}

// AddRegion registers a prebuilt region. Registration order is lookup
// order.
func (g *Grid) AddRegion(region *Region) {
	if region.GridSize <= 0 {
		region.GridSize = DefaultGridSize
	}
	g.mu.Lock()
	g.regions = append(g.regions, region)
	g.mu.Unlock()
}

// Regions returns the registered region names in registration order.
func (g *Grid) Regions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, len(g.regions))
	for i, r := range g.regions {
		names[i] = r.Name
	}
	return names
}

// CellCount returns the total number of cells across all regions.
func (g *Grid) CellCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, r := range g.regions {
		n += len(r.Cells)
	}
	return n
}

// Lookup returns the sunset instant for the cell containing the
// coordinate. The query is quantized at each region's own build
// resolution; the first region containing the cell wins. The second
// return is false when no region covers the coordinate.
func (g *Grid) Lookup(lat, lon float64) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range g.regions {
		key := cellKey(quantize(lat, r.GridSize), quantize(lon, r.GridSize))
		if epoch, ok := r.Cells[key]; ok {
			return time.Unix(epoch, 0).UTC(), true
		}
	}
	return time.Time{}, false
}

// PastSunset reports whether the coordinate is past its local sunset at
// the given instant. known is false when no registered region covers
// the coordinate; callers must not conflate that with past == false.
func (g *Grid) PastSunset(lat, lon float64, at time.Time) (past, known bool) {
	instant, ok := g.Lookup(lat, lon)
	if !ok {
		return false, false
	}
	return !at.Before(instant), true
}

// SaveRegion writes a region to path as JSON.
func SaveRegion(region *Region, path string) error {
	data, err := json.MarshalIndent(region, "", "  ")
	if err != nil {
		return fmt.Errorf("sunset: marshal region %q: %w", region.Name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("sunset: write region %q: %w", region.Name, err)
	}
	return nil
}

// LoadRegion reads a region saved by SaveRegion.
func LoadRegion(path string) (*Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sunset: read region: %w", err)
	}
	var region Region
	if err := json.Unmarshal(data, &region); err != nil {
		return nil, fmt.Errorf("sunset: parse region %s: %w", path, err)
	}
	if region.GridSize <= 0 {
		region.GridSize = DefaultGridSize
	}
	return &region, nil
}
