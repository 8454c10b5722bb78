// Package track keeps the latest kinematic state per aircraft and projects
// positions between observations by dead reckoning.
package track

// AircraftState is one position report for one aircraft. Pointer fields are
// nil when the upstream feed had no value; a state missing latitude,
// longitude, velocity or heading cannot be projected.
type AircraftState struct {
	ICAO24        string   `json:"icao24"`
	Callsign      string   `json:"callsign,omitempty"`
	Timestamp     float64  `json:"timestamp"` // epoch seconds, source time
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	BaroAltitude  *float64 `json:"altitude"`      // meters
	Velocity      *float64 `json:"velocity"`      // ground speed, m/s
	Heading       *float64 `json:"heading"`       // degrees, 0-360
	VerticalRate  *float64 `json:"vertical_rate"` // m/s, signed
	OnGround      bool     `json:"on_ground"`
	OriginCountry string   `json:"origin_country,omitempty"`
	PlusCode      string   `json:"plus_code,omitempty"`
}

// HasPosition reports whether the state carries a usable coordinate.
func (s *AircraftState) HasPosition() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// canProject reports whether the state carries everything dead reckoning
// needs.
func (s *AircraftState) canProject() bool {
	return s.Latitude != nil && s.Longitude != nil &&
		s.Velocity != nil && s.Heading != nil && s.Timestamp != 0
}

// InterpolatedPosition is a projected position for one tick. It is derived
// on demand and never stored.
type InterpolatedPosition struct {
	ICAO24       string  `json:"icao24"`
	Timestamp    float64 `json:"timestamp"` // target epoch seconds
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Altitude     float64 `json:"altitude"`
	PlusCode     string  `json:"plus_code"`
	Interpolated bool    `json:"interpolated"`
}

// TickPosition is one aircraft's position resolved for a tick: either a
// live observation or a projection.
type TickPosition struct {
	ICAO24       string
	Latitude     float64
	Longitude    float64
	Altitude     float64
	PlusCode     string
	Interpolated bool
	Live         *AircraftState // set when this tick saw a fresh observation
}
