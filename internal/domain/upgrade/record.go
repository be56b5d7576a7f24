package upgrade

import "time"

// Actor identifies who started a run.
type Actor struct {
	// Hostname is the machine the run was started on.
	Hostname string `yaml:"hostname"`
	// Username is the system user that started the run.
	Username string `yaml:"username"`
}

// Record is the outcome of one run as kept by the run journal.
type Record struct {
	// State is the terminal state the run ended in.
	State State `yaml:"state"`
	// Latest is the newest release found in the source tree.
	Latest string `yaml:"latest,omitempty"`
	// Current is the release the supervisor config pointed at when the run started.
	Current string `yaml:"current,omitempty"`
	// ArtifactPath is the published binary, empty unless the run got that far.
	ArtifactPath string `yaml:"artifact_path,omitempty"`
	// Failure is the human-readable reason of a failed run.
	Failure string `yaml:"failure,omitempty"`
	// Actor started the run.
	Actor *Actor `yaml:"actor,omitempty"`
	// StartedAt is when the run left Idle.
	StartedAt time.Time `yaml:"started_at"`
	// FinishedAt is when the run reached a terminal state.
	FinishedAt time.Time `yaml:"finished_at"`
}

// Clone returns a copy of the record that shares nothing with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	cloned := *r
	if r.Actor != nil {
		actor := *r.Actor
		cloned.Actor = &actor
	}

	return &cloned
}
