package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/oshokin/node-upgrader/internal/domain/release"
	"github.com/oshokin/node-upgrader/internal/logger"
)

// ConfigFile reads and rewrites the program configuration at one path.
type ConfigFile struct {
	path string
}

// NewConfigFile creates a handle for the configuration at path.
func NewConfigFile(path string) *ConfigFile {
	return &ConfigFile{path: filepath.Clean(path)}
}

// Path returns the configuration file path.
func (c *ConfigFile) Path() string {
	return c.path
}

// Load parses the configuration file.
func (c *ConfigFile) Load() (*Document, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("read supervisor config: %w", err)
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.path, err)
	}

	return doc, nil
}

// DeployedRelease returns the release the command directive currently runs.
func (c *ConfigFile) DeployedRelease(_ context.Context) (release.Identifier, error) {
	doc, err := c.Load()
	if err != nil {
		return "", err
	}

	id, err := doc.Release()
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.path, err)
	}

	return id, nil
}

// PointTo rewrites the command directive to run binary. The file is replaced
// atomically and keeps its mode and owner; a symlinked config stays a symlink.
func (c *ConfigFile) PointTo(ctx context.Context, binary string) error {
	doc, err := c.Load()
	if err != nil {
		return err
	}

	updated, err := doc.WithBinary(binary)
	if err != nil {
		return fmt.Errorf("%s: %w", c.path, err)
	}

	if err = replaceFile(c.path, updated.Bytes()); err != nil {
		return fmt.Errorf("write supervisor config: %w", err)
	}

	logger.InfoKV(ctx, "Rewrote supervisor command",
		"config", c.path, "section", doc.Section, "from", doc.Command.Binary, "to", binary)

	return nil
}

// replaceFile writes data next to path and renames it over the file path resolves to.
func replaceFile(path string, data []byte) error {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(target)
	if err != nil {
		return err
	}

	// The temporary name must not match supervisord include globs such as *.conf.
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	err = writeSynced(tmp, data)
	if err == nil {
		err = os.Chmod(tmpName, info.Mode().Perm())
	}

	if err == nil {
		err = keepOwner(tmpName, info)
	}

	if err == nil {
		err = os.Rename(tmpName, target)
	}

	if err != nil {
		_ = os.Remove(tmpName)
	}

	return err
}

func writeSynced(file *os.File, data []byte) error {
	_, err := file.Write(data)
	if err == nil {
		err = file.Sync()
	}

	return errors.Join(err, file.Close())
}

// keepOwner gives path the owner of the file described by info when it differs from ours.
func keepOwner(path string, info os.FileInfo) error {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}

	uid, gid := int(stat.Uid), int(stat.Gid)
	if uid == os.Geteuid() && gid == os.Getegid() {
		return nil
	}

	return os.Chown(path, uid, gid)
}
