// Package state implements the run journal: the outcome of the last upgrade
// run kept as YAML on disk, so operators can see what the previous scheduled
// run did without digging through logs.
package state
