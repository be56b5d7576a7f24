// Package common holds helpers shared by several services.
//
// It detects the system actor (hostname/username) recorded with every run.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
