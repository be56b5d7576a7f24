// Package version exposes build metadata of node-upgrader.
//
// Version, Commit and BuildTime are set with -ldflags "-X" at build time, e.g.
//
//	-X github.com/oshokin/node-upgrader/internal/version.Version=1.2.0
//
// and keep placeholder values in local builds.
package version
