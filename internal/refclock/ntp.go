package refclock

import (
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

// DefaultNTPServer is the pool used when no server is configured.
const DefaultNTPServer = "pool.ntp.org"

// NTPSource queries an NTP server for the local clock offset.
type NTPSource struct {
	Server string
}

// NewNTPSource returns an NTPSource for the given server, defaulting to
// DefaultNTPServer when empty.
func NewNTPSource(server string) *NTPSource {
	if server == "" {
		server = DefaultNTPServer
	}
	return &NTPSource{Server: server}
}

// Offset implements TimeSource.
func (s *NTPSource) Offset() (time.Duration, error) {
	resp, err := ntp.Query(s.Server)
	if err != nil {
		return 0, fmt.Errorf("ntp query %s: %w", s.Server, err)
	}
	if err := resp.Validate(); err != nil {
		return 0, fmt.Errorf("ntp response from %s: %w", s.Server, err)
	}
	return resp.ClockOffset, nil
}
