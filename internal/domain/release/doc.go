// Package release models upstream release identifiers and the artifacts
// built from them.
package release
