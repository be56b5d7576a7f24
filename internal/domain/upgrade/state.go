package upgrade

import (
	"errors"
	"fmt"
)

// State is a step of a single upgrade run.
type State string

// Run states in pipeline order. Skipped, Done and Failed are terminal.
const (
	StateIdle              State = "idle"
	StateResolvingVersions State = "resolving-versions"
	StateSkipped           State = "skipped"
	StateUpgrading         State = "upgrading"
	StateBuilt             State = "built"
	StatePublished         State = "published"
	StateConfigUpdated     State = "config-updated"
	StateReloaded          State = "reloaded"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// errIllegalTransition is returned when a run tries to skip or revisit a state.
var errIllegalTransition = errors.New("illegal state transition")

//nolint:gochecknoglobals // Static transition table.
var transitions = map[State][]State{
	StateIdle:              {StateResolvingVersions},
	StateResolvingVersions: {StateSkipped, StateUpgrading},
	StateUpgrading:         {StateBuilt},
	StateBuilt:             {StatePublished},
	StatePublished:         {StateConfigUpdated},
	StateConfigUpdated:     {StateReloaded},
	StateReloaded:          {StateDone},
}

// IsTerminal reports whether no further transition is possible from s.
func (s State) IsTerminal() bool {
	return s == StateSkipped || s == StateDone || s == StateFailed
}

// CanTransition reports whether a run may move from s to next.
// Any non-terminal state may move to Failed.
func (s State) CanTransition(next State) bool {
	if next == StateFailed {
		return !s.IsTerminal()
	}

	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// Machine tracks the state of one run and the reason it failed, if it did.
type Machine struct {
	state  State
	reason error
}

// NewMachine returns a machine in the Idle state.
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Reason returns the error that moved the machine to Failed, or nil.
func (m *Machine) Reason() error {
	return m.reason
}

// Advance moves the machine to next.
func (m *Machine) Advance(next State) error {
	if next == StateFailed || !m.state.CanTransition(next) {
		return fmt.Errorf("%s -> %s: %w", m.state, next, errIllegalTransition)
	}

	m.state = next

	return nil
}

// Fail moves the machine to Failed with reason. Failing a terminal machine is a no-op.
func (m *Machine) Fail(reason error) {
	if m.state.IsTerminal() {
		return
	}

	m.state = StateFailed
	m.reason = reason
}
