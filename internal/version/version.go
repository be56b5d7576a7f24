package version

import (
	"fmt"
	"runtime"
)

//nolint:gochecknoglobals // Overridden with -ldflags at build time.
var (
	// Version is the semantic version of the build.
	Version = "0.1.0-dev"
	// Commit is the short git SHA of the build, or "none".
	Commit = "none"
	// BuildTime is the UTC build timestamp, or "unknown".
	BuildTime = "unknown"
)

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns the version with commit, build time and toolchain.
func Full() string {
	return fmt.Sprintf("node-upgrader %s (commit %s, built at %s, %s %s/%s)",
		Version, Commit, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// KV returns the build metadata as logger key-value pairs.
func KV() []any {
	return []any{"version", Version, "commit", Commit}
}
