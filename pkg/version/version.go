// Package version exposes build information for the Vicinia server.
package version

import (
	"fmt"
	"runtime"
)

// Build information, overridable at link time via -ldflags.
var (
	BuildVersion = "0.1.0"
	BuildCommit  = "unknown"
	BuildDate    = "unknown"
)

// Info returns version information as a map.
func Info() map[string]string {
	return map[string]string{
		"version":    BuildVersion,
		"commit":     BuildCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
	}
}

// String returns a human-readable version string.
func String() string {
	return fmt.Sprintf("vicinia %s (commit %s, built %s, %s)",
		BuildVersion, BuildCommit, BuildDate, runtime.Version())
}
