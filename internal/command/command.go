package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/oshokin/node-upgrader/internal/logger"
)

// ErrTimeout is returned when a command outlives its deadline.
var ErrTimeout = errors.New("command timed out")

// Runner runs a program in dir and returns its trimmed standard output.
// On failure the error carries the captured diagnostic output verbatim.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (string, error)
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct {
	// Env is appended to the inherited environment when non-empty.
	Env []string
}

// NewExecRunner creates a runner that inherits the process environment.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes name with args in dir.
func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	line := commandLine(name, args)
	logger.DebugKV(ctx, "Running command", "command", line, "dir", dir)

	started := time.Now()
	err := cmd.Run()

	logger.DebugKV(ctx, "Command finished", "command", line, "elapsed", time.Since(started))

	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}

		return "", fmt.Errorf("%s: %w: %s", line, err, diagnostics(stdout.String(), stderr.String()))
	}

	return strings.TrimRight(stdout.String(), "\r\n"), nil
}

// WithTimeout bounds ctx by timeout. A non-positive timeout only adds cancellation.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, timeout)
}

// diagnostics prefers stderr and falls back to stdout, since build tools
// disagree on where they print failures.
func diagnostics(stdout, stderr string) string {
	if s := strings.TrimSpace(stderr); s != "" {
		return s
	}

	return strings.TrimSpace(stdout)
}

func commandLine(name string, args []string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}
