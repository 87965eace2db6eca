package version

import "fmt"

// Program is the name reported by both binaries.
const Program = "shake-guard"

var (
	// Version is the release version, overridden via ldflags.
	Version = "0.1.0"
	// Commit is the short git SHA of the build.
	Commit = "none"
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// Short returns the release version.
func Short() string {
	return Version
}

// Full returns the version with commit and build time.
func Full() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", Program, Version, Commit, BuildTime)
}

// UserAgent identifies update downloads.
func UserAgent() string {
	return Program + "/" + Version
}
