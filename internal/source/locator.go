package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oshokin/node-upgrader/internal/domain/upgrade"
	"github.com/oshokin/node-upgrader/internal/logger"
)

// DefaultMarker is the API receiver found only in the file that declares the
// public blockchain API of go-ethereum and its forks.
const DefaultMarker = "PublicBlockChainAPI)"

// goFileExt selects the files searched for the marker.
const goFileExt = ".go"

var errEmptyMarker = errors.New("patch marker must not be empty")

// skippedDirs are never descended into.
//
//nolint:gochecknoglobals // Static lookup table.
var skippedDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
}

// Locator finds the single Go file that carries a marker.
type Locator struct {
	marker []byte
}

// NewLocator creates a locator for marker. An empty marker selects DefaultMarker.
func NewLocator(marker string) *Locator {
	if marker == "" {
		marker = DefaultMarker
	}

	return &Locator{marker: []byte(marker)}
}

// Locate walks root and returns the absolute path of the only Go file containing the marker.
// Zero matches yield ErrPatchTargetNotFound, several ErrPatchTargetAmbiguous.
func (l *Locator) Locate(ctx context.Context, root string) (string, error) {
	if len(l.marker) == 0 {
		return "", errEmptyMarker
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve source path: %w", err)
	}

	matches, err := l.matches(ctx, root)
	if err != nil {
		return "", err
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: no %s file under %s contains %q", upgrade.ErrPatchTargetNotFound, goFileExt, root, l.marker)
	case 1:
		logger.DebugKV(ctx, "Located patch target", "path", matches[0])

		return matches[0], nil
	default:
		sort.Strings(matches)

		return "", fmt.Errorf("%w: %d files contain %q: %s",
			upgrade.ErrPatchTargetAmbiguous, len(matches), l.marker, strings.Join(matches, ", "))
	}
}

func (l *Locator) matches(ctx context.Context, root string) ([]string, error) {
	var matches []string

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if entry.IsDir() {
			if _, skip := skippedDirs[entry.Name()]; skip && path != root {
				return filepath.SkipDir
			}

			return nil
		}

		if !entry.Type().IsRegular() || filepath.Ext(path) != goFileExt {
			return nil
		}

		contents, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		if bytes.Contains(contents, l.marker) {
			matches = append(matches, path)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", root, err)
	}

	return matches, nil
}
