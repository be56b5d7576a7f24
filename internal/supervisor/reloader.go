package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/node-upgrader/internal/command"
	"github.com/oshokin/node-upgrader/internal/domain/upgrade"
	"github.com/oshokin/node-upgrader/internal/logger"
)

const (
	// DefaultCtl is the supervisord control program.
	DefaultCtl = "supervisorctl"
	// DefaultStatusDelay gives supervisord time to start the program before status is read.
	DefaultStatusDelay = 3 * time.Second

	// commLength is how much of an executable name the kernel keeps in the process table.
	commLength = 15
)

// Reloader applies configuration changes through supervisord.
type Reloader interface {
	// Reload rereads configuration files and applies the changes.
	Reload(ctx context.Context) error
	// Report describes the state of supervised programs after a reload and
	// which processes run binary. It never changes anything.
	Report(ctx context.Context, binary string) (*Report, error)
}

// Report is what supervisord and the process table show after a reload.
type Report struct {
	// Status is the output of supervisorctl status.
	Status string
	// PIDs are the processes whose executable is the published binary.
	PIDs []int
}

// CtlOptions configure Supervisorctl.
type CtlOptions struct {
	// Ctl is the supervisorctl executable.
	Ctl string
	// ConfigPath is passed as -c when set.
	ConfigPath string
	// UseSudo runs supervisorctl through sudo.
	UseSudo bool
	// Timeout bounds each supervisorctl call.
	Timeout time.Duration
	// StatusDelay is waited before Report reads status.
	StatusDelay time.Duration
}

// ProcessLister returns the process table.
type ProcessLister func() ([]ps.Process, error)

// Supervisorctl implements Reloader with the supervisorctl command.
type Supervisorctl struct {
	runner    command.Runner
	opts      CtlOptions
	processes ProcessLister
}

// NewSupervisorctl creates a reloader, filling unset options with defaults.
func NewSupervisorctl(runner command.Runner, opts CtlOptions) *Supervisorctl {
	if opts.Ctl == "" {
		opts.Ctl = DefaultCtl
	}

	return &Supervisorctl{
		runner:    runner,
		opts:      opts,
		processes: ps.Processes,
	}
}

// Reload runs "reread" then "update". Both affect every program supervisord manages.
func (s *Supervisorctl) Reload(ctx context.Context) error {
	logger.Warn(ctx, "Rereading supervisor configuration, pending changes of all supervised programs will be applied")

	for _, action := range []string{"reread", "update"} {
		out, err := s.ctl(ctx, action)
		if err != nil {
			return fmt.Errorf("%w: %w", upgrade.ErrSupervisorReloadFailed, err)
		}

		logger.InfoKV(ctx, "Supervisor "+action, "output", out)
	}

	return nil
}

// Report waits StatusDelay, then collects supervisorctl status and the PIDs running binary.
// supervisorctl status exits non-zero while a program is not RUNNING, so its
// output is kept either way.
func (s *Supervisorctl) Report(ctx context.Context, binary string) (*Report, error) {
	if s.opts.StatusDelay > 0 {
		timer := time.NewTimer(s.opts.StatusDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	report := new(Report)

	status, err := s.ctl(ctx, "status")
	if err != nil {
		report.Status = err.Error()
	} else {
		report.Status = status
	}

	pids, err := s.running(binary)
	if err != nil {
		return report, fmt.Errorf("list processes: %w", err)
	}

	report.PIDs = pids

	return report, nil
}

func (s *Supervisorctl) running(binary string) ([]int, error) {
	processes, err := s.processes()
	if err != nil {
		return nil, err
	}

	want := filepath.Base(binary)

	var pids []int

	for _, process := range processes {
		if matchesExecutable(process.Executable(), want) {
			pids = append(pids, process.Pid())
		}
	}

	return pids, nil
}

// matchesExecutable compares a process table name with a binary name,
// allowing for the kernel's truncation of long names.
func matchesExecutable(executable, want string) bool {
	if executable == want {
		return true
	}

	return len(executable) == commLength && strings.HasPrefix(want, executable)
}

func (s *Supervisorctl) ctl(ctx context.Context, action string) (string, error) {
	ctx, cancel := command.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	name, args := s.opts.Ctl, make([]string, 0, 5)
	if s.opts.UseSudo {
		name = "sudo"
		args = append(args, "--non-interactive", s.opts.Ctl)
	}

	if s.opts.ConfigPath != "" {
		args = append(args, "-c", s.opts.ConfigPath)
	}

	args = append(args, action)

	return s.runner.Run(ctx, "", name, args...)
}
