// Command gridtool builds sunset grid region files offline. The
// nightpulse service loads the resulting JSON files at startup, so
// sunset math never runs on the tick path.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/lattice-data/nightpulse/internal/solar"
	"github.com/lattice-data/nightpulse/internal/sunset"
)

var (
	name       = flag.String("name", "", "Region name (required)")
	minLat     = flag.Float64("min-lat", 0, "Minimum latitude")
	minLon     = flag.Float64("min-lon", 0, "Minimum longitude")
	maxLat     = flag.Float64("max-lat", 0, "Maximum latitude")
	maxLon     = flag.Float64("max-lon", 0, "Maximum longitude")
	gridSize   = flag.Float64("grid-size", sunset.DefaultGridSize, "Grid cell size in degrees")
	dateStr    = flag.String("date", "", "Reference date as YYYY-MM-DD (defaults to today, UTC)")
	out        = flag.String("out", "", "Output file (defaults to <name>.json)")
	solarCache = flag.String("solar-cache", "sunset_cache.json", "Solar calculation cache file")
)

func main() {
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "gridtool: -name is required")
		flag.Usage()
		os.Exit(2)
	}
	if *minLat > *maxLat || *minLon > *maxLon {
		log.Fatalf("inverted bounds: min (%g, %g) exceeds max (%g, %g)", *minLat, *minLon, *maxLat, *maxLon)
	}

	date := time.Now().UTC()
	if *dateStr != "" {
		parsed, err := time.Parse("2006-01-02", *dateStr)
		if err != nil {
			log.Fatalf("invalid -date %q: %v", *dateStr, err)
		}
		date = parsed
	}

	outPath := *out
	if outPath == "" {
		outPath = *name + ".json"
	}

	calc := solar.NewCalculator(*solarCache)
	grid := sunset.NewGrid()

	started := time.Now()
	region, err := grid.BuildRegion(*name, *minLat, *minLon, *maxLat, *maxLon, *gridSize, date, calc)
	if err != nil {
		log.Fatalf("failed to build region: %v", err)
	}

	if err := sunset.SaveRegion(region, outPath); err != nil {
		log.Fatalf("failed to save region: %v", err)
	}

	log.Printf("wrote %s: region %q, %d cells, date %s, built in %s",
		outPath, region.Name, len(region.Cells), region.Date, time.Since(started).Round(time.Millisecond))
}
