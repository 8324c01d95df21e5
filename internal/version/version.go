// Package version holds build metadata injected with -ldflags.
package version

// Set at build time: -ldflags "-X github.com/sydlexius/tunevault/internal/version.Version=v1.2.3".
var (
	Version = "dev"
	Commit  = "unknown"
)
