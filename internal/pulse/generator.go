// Package pulse derives deterministic per-second pulse values for a
// coordinate from the elapsed time since its local sunset. A day-scoped
// 32-byte sequence is memoized per coordinate and rotated by the
// cascade position before hashing, so consecutive seconds yield
// distinct digests.
package pulse

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCascadeLength is the cyclic window, in seconds, over which the
// sequence is consumed one rotation offset per second.
const DefaultCascadeLength = 6000

// Pulse is one emitted pulse record. ID is the only non-deterministic
// field; everything else is a pure function of (coordinate, sunset,
// generation time).
type Pulse struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	SunsetTime      time.Time `json:"sunset_time"`
	CascadePosition int       `json:"cascade_position"`
	PulseHash       string    `json:"pulse_hash"`
}

// Generator owns the memoized sequence cache. The cache is keyed on the
// coordinate rounded to 4 decimals plus the sunset's UTC calendar date,
// while the seed uses 6 decimals and the exact sunset epoch. The key is
// deliberately coarser than the seed: two coordinates within the same
// ~11m cell on the same date share a cache entry even though their
// seeds differ. That asymmetry is kept as-is.
type Generator struct {
	cascadeLength int64

	mu        sync.Mutex
	sequences map[string][]byte
}

// NewGenerator returns a Generator with the given cascade length;
// values < 1 fall back to DefaultCascadeLength.
func NewGenerator(cascadeLength int) *Generator {
	if cascadeLength < 1 {
		cascadeLength = DefaultCascadeLength
	}
	return &Generator{
		cascadeLength: int64(cascadeLength),
		sequences:     make(map[string][]byte),
	}
}

// SequenceFor returns the memoized 32-byte sequence for the coordinate
// and sunset instant. Callers must not mutate the returned slice.
func (g *Generator) SequenceFor(lat, lon float64, sunsetTime time.Time) []byte {
	key := fmt.Sprintf("%.4f_%.4f_%s", lat, lon, sunsetTime.UTC().Format("2006-01-02"))

	g.mu.Lock()
	defer g.mu.Unlock()
	if seq, ok := g.sequences[key]; ok {
		return seq
	}

	seed := fmt.Sprintf("%.6f_%.6f_%d", lat, lon, sunsetTime.Unix())
	digest := sha256.Sum256([]byte(seed))
	seq := digest[:]
	g.sequences[key] = seq
	return seq
}

// CacheSize returns the number of memoized sequences.
func (g *Generator) CacheSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sequences)
}

// Generate produces the pulse for the coordinate at now. The cascade
// position is the whole seconds elapsed since sunset, clamped at zero,
// modulo the cascade length; the sequence is rotated left by that
// position before hashing.
func (g *Generator) Generate(lat, lon float64, sunsetTime, now time.Time) Pulse {
	seq := g.SequenceFor(lat, lon, sunsetTime)

	elapsed := int64(math.Floor(now.Sub(sunsetTime).Seconds()))
	if elapsed < 0 {
		elapsed = 0
	}
	position := elapsed % g.cascadeLength

	// Rotate into a fresh buffer so the cached sequence stays intact.
	offset := int(position) % len(seq)
	rotated := make([]byte, 0, len(seq))
	rotated = append(rotated, seq[offset:]...)
	rotated = append(rotated, seq[:offset]...)

	digest := sha256.Sum256(rotated)

	return Pulse{
		ID:              uuid.NewString(),
		Timestamp:       now,
		Latitude:        lat,
		Longitude:       lon,
		SunsetTime:      sunsetTime,
		CascadePosition: int(position),
		PulseHash:       hex.EncodeToString(digest[:])[:16],
	}
}
