package upgrader

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarkerPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/etc/supervisor/conf.d/.node-upgrader.lock", MarkerPath("/etc/supervisor/conf.d/geth.conf"))
}

// TestAcquireLock_WritesPIDAndReleases covers the uncontended path.
func TestAcquireLock_WritesPIDAndReleases(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), MarkerFilename)

	lock, err := AcquireLock(ctx, path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	lock.Release(ctx)

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Empty(t, data)

	again, err := AcquireLock(ctx, path)
	require.NoError(t, err)
	again.Release(ctx)
}

// TestAcquireLock_HeldByAnotherRun refuses to run next to another run and names it.
func TestAcquireLock_HeldByAnotherRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), MarkerFilename)

	held, err := AcquireLock(ctx, path)
	require.NoError(t, err)

	defer held.Release(ctx)

	_, err = AcquireLock(ctx, path)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.Contains(t, err.Error(), "pid "+strconv.Itoa(os.Getpid()))
}

// TestAcquireLock_HolderWithoutPID keeps out a run whose marker is locked but
// still empty, as it is between create and the PID write.
func TestAcquireLock_HolderWithoutPID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), MarkerFilename)

	holder, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	require.NoError(t, err)
	require.NoError(t, syscall.Flock(int(holder.Fd()), syscall.LOCK_EX|syscall.LOCK_NB))

	_, err = AcquireLock(ctx, path)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.Contains(t, err.Error(), "an unknown process")

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Zero(t, info.Size())

	require.NoError(t, syscall.Flock(int(holder.Fd()), syscall.LOCK_UN))
	require.NoError(t, holder.Close())

	lock, err := AcquireLock(ctx, path)
	require.NoError(t, err)
	lock.Release(ctx)
}

// TestAcquireLock_LeftoverMarker takes over markers nobody holds, whatever they contain.
func TestAcquireLock_LeftoverMarker(t *testing.T) {
	t.Parallel()

	for name, contents := range map[string]string{
		"crashed run": "4242",
		"garbage":     "not a pid",
		"empty":       "",
	} {
		name, contents := name, contents
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			path := filepath.Join(t.TempDir(), MarkerFilename)
			require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

			lock, err := AcquireLock(ctx, path)
			require.NoError(t, err)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			require.Equal(t, strconv.Itoa(os.Getpid()), string(data))

			lock.Release(ctx)
		})
	}
}
