// Package artifact publishes built binaries into the binary directory.
//
// Publishing is append-only: a destination is reserved with an exclusive
// create before any content is written, so an existing artifact is never
// overwritten. The binary is hashed from disk and read a second time for
// the copy; the copy is applied atomically and only kept when it matches
// that hash, so a binary still being written by the build is never published.
package artifact

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/google/uuid"

	"github.com/oshokin/node-upgrader/internal/domain/release"
	"github.com/oshokin/node-upgrader/internal/domain/upgrade"
	"github.com/oshokin/node-upgrader/internal/logger"

	// Ensure SHA512 available for checksum calculation.
	_ "crypto/sha512"
)

const (
	// DefaultFileMode is the mode of published binaries.
	DefaultFileMode os.FileMode = 0o755
	// DefaultDirMode is used when the binary directory has to be created.
	DefaultDirMode os.FileMode = 0o755
	// ChecksumFunction verifies the published copy.
	ChecksumFunction crypto.Hash = crypto.SHA512

	// disambiguatorLength is the number of hex characters kept from a random UUID.
	disambiguatorLength = 8
	// maxAttempts bounds retries when a random name is already taken.
	maxAttempts = 5
)

var (
	errHashUnavailable = errors.New("hash function unavailable")
	errNameExhausted   = errors.New("no free artifact name")
)

// Publisher copies built binaries into a directory.
type Publisher interface {
	// Publish copies binary into dir under a name tagged with id.
	Publish(ctx context.Context, binary string, id release.Identifier, dir string) (*release.Artifact, error)
}

// FilePublisher implements Publisher on the local filesystem.
type FilePublisher struct {
	// disambiguator returns a fresh random token; replaceable in tests.
	disambiguator func() string
	// checksum hashes the binary on disk; replaceable in tests.
	checksum func(path string) ([]byte, error)
}

// NewFilePublisher creates a publisher that disambiguates with random UUID prefixes.
func NewFilePublisher() *FilePublisher {
	return &FilePublisher{
		disambiguator: randomToken,
		checksum:      FileChecksum,
	}
}

// Publish copies binary to dir/<name>-<token>_<id>.
func (p *FilePublisher) Publish(
	ctx context.Context,
	binary string,
	id release.Identifier,
	dir string,
) (*release.Artifact, error) {
	artifact, err := p.publish(ctx, binary, id, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", upgrade.ErrPublishFailed, err)
	}

	return artifact, nil
}

func (p *FilePublisher) publish(
	ctx context.Context,
	binary string,
	id release.Identifier,
	dir string,
) (*release.Artifact, error) {
	binary = filepath.Clean(binary)

	checksum, err := p.checksum(binary)
	if err != nil {
		return nil, err
	}

	contents, err := os.ReadFile(binary)
	if err != nil {
		return nil, fmt.Errorf("read built binary: %w", err)
	}

	dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve binary directory: %w", err)
	}

	if err = os.MkdirAll(dir, DefaultDirMode); err != nil {
		return nil, fmt.Errorf("create binary directory: %w", err)
	}

	artifact, err := p.reserve(binary, id, dir)
	if err != nil {
		return nil, err
	}

	options := goupdate.Options{
		TargetPath: artifact.Path,
		TargetMode: DefaultFileMode,
		Checksum:   checksum,
		Hash:       ChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(contents), options); err != nil {
		_ = os.Remove(artifact.Path)

		return nil, fmt.Errorf("write %s: %w", artifact.Path, err)
	}

	logger.InfoKV(ctx, "Published artifact", "path", artifact.Path, "release", id, "size", len(contents))

	return artifact, nil
}

// reserve creates an empty destination that did not exist before.
func (p *FilePublisher) reserve(binary string, id release.Identifier, dir string) (*release.Artifact, error) {
	base := filepath.Base(binary)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		token := p.disambiguator()
		path := filepath.Join(dir, release.ArtifactName(base, token, id))

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, DefaultFileMode)
		if errors.Is(err, os.ErrExist) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("reserve %s: %w", path, err)
		}

		if err = f.Close(); err != nil {
			return nil, fmt.Errorf("reserve %s: %w", path, err)
		}

		return &release.Artifact{
			Release:       id,
			Disambiguator: token,
			Path:          path,
		}, nil
	}

	return nil, fmt.Errorf("%s in %s after %d attempts: %w", base, dir, maxAttempts, errNameExhausted)
}

// FileChecksum returns the ChecksumFunction digest of the file at path.
func FileChecksum(path string) ([]byte, error) {
	if !ChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read built binary: %w", err)
	}

	defer file.Close()

	hasher := ChecksumFunction.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}

func randomToken() string {
	id := uuid.New()

	return id.String()[:disambiguatorLength]
}
