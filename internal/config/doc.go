// Package config defines the optional settings of node-upgrader and
// provides helpers to load, validate and save them in YAML format.
//
// Paths to the supervisor config, source tree and binary directory come from
// the command line; everything that tunes how the pipeline runs lives here.
package config
