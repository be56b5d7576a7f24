package release

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"
)

// Separator joins an artifact name to the release it was built from.
const Separator = "_"

var (
	// ErrInvalidIdentifier is returned for tokens that are not release identifiers.
	ErrInvalidIdentifier = errors.New("invalid release identifier")
	// errNoIdentifierSuffix is returned when a binary name carries no _<id> suffix.
	errNoIdentifierSuffix = errors.New("binary name has no release suffix")
)

// Identifier names a release tag such as v1.10.7.
// Two identifiers are equal iff their strings are equal; ordering between
// tags is decided by git, not by this type.
type Identifier string

// Parse validates s as a release identifier.
func Parse(s string) (Identifier, error) {
	s = strings.TrimSpace(s)
	if !semver.IsValid(s) {
		return "", fmt.Errorf("%q: %w", s, ErrInvalidIdentifier)
	}

	return Identifier(s), nil
}

// String returns the identifier as written in the tag.
func (id Identifier) String() string {
	return string(id)
}

// Artifact is a published binary built from a release.
type Artifact struct {
	// Release is the identifier the binary was built from.
	Release Identifier
	// Disambiguator keeps repeated publishes of one release apart.
	Disambiguator string
	// Path is where the binary lives in the binary directory.
	Path string
}

// ArtifactName composes <base>-<disambiguator>_<id>.
func ArtifactName(base, disambiguator string, id Identifier) string {
	name := base
	if disambiguator != "" {
		name += "-" + disambiguator
	}

	return name + Separator + id.String()
}

// FromBinaryPath extracts the release identifier from the trailing _<id> of a binary path.
func FromBinaryPath(path string) (Identifier, error) {
	name := filepath.Base(path)

	i := strings.LastIndex(name, Separator)
	if i < 0 || i == len(name)-1 {
		return "", fmt.Errorf("%s: %w", name, errNoIdentifierSuffix)
	}

	return Parse(name[i+len(Separator):])
}
