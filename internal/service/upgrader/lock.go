package upgrader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/node-upgrader/internal/logger"
)

const (
	// MarkerFilename is the default run marker, kept next to the supervisor config.
	MarkerFilename = ".node-upgrader.lock"

	markerPermissions = 0o644
)

// ErrAlreadyRunning is returned when another run holds the marker.
var ErrAlreadyRunning = errors.New("another upgrade is already running")

// Lock is a held run marker.
//
// Exclusion comes from flock(2) on the open marker, which the kernel drops
// when the holder exits. The PID written into the marker only names the
// holder in error messages. The file itself is never removed, so every run
// locks the same inode.
type Lock struct {
	file *os.File
	path string
}

// MarkerPath returns the default marker for a supervisor config.
func MarkerPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), MarkerFilename)
}

// AcquireLock takes the marker at path without waiting.
func AcquireLock(ctx context.Context, path string) (*Lock, error) {
	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_RDWR, markerPermissions)
	if err != nil {
		return nil, fmt.Errorf("open run marker: %w", err)
	}

	if err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()

		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s is held by %s", ErrAlreadyRunning, path, describeHolder(path))
		}

		return nil, fmt.Errorf("lock run marker: %w", err)
	}

	lock := &Lock{file: file, path: path}

	if err = lock.writePID(); err != nil {
		lock.unlock(ctx)

		return nil, fmt.Errorf("write run marker: %w", err)
	}

	logger.DebugKV(ctx, "Run marker acquired", "path", path)

	return lock, nil
}

// Release clears the PID and drops the lock.
func (l *Lock) Release(ctx context.Context) {
	if err := l.file.Truncate(0); err != nil {
		logger.WarnKV(ctx, "Could not clear run marker", "path", l.path, "error", err)
	}

	l.unlock(ctx)
}

func (l *Lock) unlock(ctx context.Context) {
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		logger.WarnKV(ctx, "Could not unlock run marker", "path", l.path, "error", err)
	}

	_ = l.file.Close()
}

func (l *Lock) writePID() error {
	if err := l.file.Truncate(0); err != nil {
		return err
	}

	_, err := l.file.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)

	return err
}

// describeHolder names the process recorded in the marker. The holder may not
// have written its PID yet.
func describeHolder(path string) string {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "an unknown process"
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return "an unknown process"
	}

	process, err := ps.FindProcess(pid)
	if err != nil || process == nil {
		return "pid " + strconv.Itoa(pid)
	}

	return fmt.Sprintf("pid %d (%s)", pid, process.Executable())
}
