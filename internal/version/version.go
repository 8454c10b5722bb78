// Package version carries build metadata injected via -ldflags.
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns a single-line build description for logs and the API.
func String() string {
	return fmt.Sprintf("nightpulse %s (%s, built %s)", Version, GitSHA, BuildTime)
}
