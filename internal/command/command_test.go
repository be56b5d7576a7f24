package command

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestExecRunner_UsesWorkingDirectory checks the command runs in dir without moving the process.
func TestExecRunner_UsesWorkingDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("here"), 0o600))

	before, err := os.Getwd()
	require.NoError(t, err)

	out, err := NewExecRunner().Run(context.Background(), dir, "cat", "marker.txt")
	require.NoError(t, err)
	require.Equal(t, "here", out)

	after, err := os.Getwd()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

// TestExecRunner_SurfacesDiagnostics ensures stderr of a failing command is kept verbatim.
func TestExecRunner_SurfacesDiagnostics(t *testing.T) {
	t.Parallel()

	_, err := NewExecRunner().Run(context.Background(), t.TempDir(), "sh", "-c", "echo 'no rule to make target' >&2; exit 2")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no rule to make target")
}

// TestExecRunner_FallsBackToStdout covers tools that report failures on stdout.
func TestExecRunner_FallsBackToStdout(t *testing.T) {
	t.Parallel()

	_, err := NewExecRunner().Run(context.Background(), t.TempDir(), "sh", "-c", "echo 'ERROR (no such process)'; exit 1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ERROR (no such process)")
}

// TestExecRunner_Timeout verifies a hung command is cut off.
func TestExecRunner_Timeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewExecRunner().Run(ctx, t.TempDir(), "sleep", "5")
	require.ErrorIs(t, err, ErrTimeout)
}

// TestWithTimeout checks deadline vs cancel-only behavior.
func TestWithTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := WithTimeout(context.Background(), 0)
	_, ok := ctx.Deadline()
	require.False(t, ok)
	cancel()

	ctx, cancel = WithTimeout(context.Background(), time.Second)
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(time.Second), deadline, 100*time.Millisecond)
}
