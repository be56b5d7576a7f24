// Package upgrade defines the upgrade run lifecycle: its states, the legal
// transitions between them, the failure taxonomy shared by every pipeline
// component and the record persisted after each run.
package upgrade
