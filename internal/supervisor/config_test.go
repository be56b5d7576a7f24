package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/node-upgrader/internal/domain/release"
	"github.com/oshokin/node-upgrader/internal/domain/upgrade"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "geth.conf")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o640))

	return path
}

// TestConfigFile_DeployedRelease reads the identifier from disk.
func TestConfigFile_DeployedRelease(t *testing.T) {
	t.Parallel()

	id, err := NewConfigFile(writeConfig(t, gethConfig)).DeployedRelease(context.Background())
	require.NoError(t, err)
	require.Equal(t, release.Identifier("v1.10.6"), id)
}

// TestConfigFile_PointTo rewrites in place and keeps the file mode.
func TestConfigFile_PointTo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := writeConfig(t, gethConfig)
	cfg := NewConfigFile(path)

	require.NoError(t, cfg.PointTo(ctx, "/opt/node/bin/geth-0badc0de_v1.10.7"))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strings.Replace(gethConfig, "geth_v1.10.6", "geth-0badc0de_v1.10.7", 1), string(got))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	id, err := cfg.DeployedRelease(ctx)
	require.NoError(t, err)
	require.Equal(t, release.Identifier("v1.10.7"), id)
}

// TestConfigFile_PointTo_ReplacesAtomically leaves no temporary file behind
// and rewrites the target of a symlinked config.
func TestConfigFile_PointTo_ReplacesAtomically(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	target := writeConfig(t, gethConfig)
	linkDir := t.TempDir()
	link := filepath.Join(linkDir, "geth.conf")
	require.NoError(t, os.Symlink(target, link))

	require.NoError(t, NewConfigFile(link).PointTo(ctx, "/opt/node/bin/geth-0badc0de_v1.10.7"))

	info, err := os.Lstat(link)
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&os.ModeSymlink)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Contains(t, string(got), "geth-0badc0de_v1.10.7")

	for _, dir := range []string{filepath.Dir(target), linkDir} {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1, dir)
	}

	info, err = os.Stat(target)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

// TestConfigFile_PointTo_LeavesBrokenConfig refuses to touch a config without a single directive.
func TestConfigFile_PointTo_LeavesBrokenConfig(t *testing.T) {
	t.Parallel()

	data := "[program:geth]\ndirectory=/opt\n"
	path := writeConfig(t, data)

	err := NewConfigFile(path).PointTo(context.Background(), "/opt/geth-x_v1.10.7")
	require.ErrorIs(t, err, upgrade.ErrConfigFormat)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, data, string(got))
}

// TestConfigFile_Missing reports an unreadable file.
func TestConfigFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := NewConfigFile(filepath.Join(t.TempDir(), "nope.conf")).DeployedRelease(context.Background())
	require.ErrorIs(t, err, os.ErrNotExist)
}
