// Package version carries build-time identification for the agent binary.
package version

// Version is the agent version, set via build-time ldflags in release builds:
// go build -ldflags "-X github.com/divertscan/fieldsync/internal/version.Version=v1.4.0".
var Version = "dev"

// Build metadata, also set via ldflags.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)
