package source

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/node-upgrader/internal/domain/upgrade"
	"github.com/oshokin/node-upgrader/internal/logger"
)

// Fragment adds eth_getFullBlockByNumber, a block query that returns the
// block together with its receipts in a single call.
//
//go:embed fragment.go.txt
var Fragment []byte

// Patcher appends a fixed fragment to a file that does not carry it yet.
type Patcher struct {
	fragment []byte
}

// NewPatcher creates a patcher for fragment. A nil fragment selects Fragment.
func NewPatcher(fragment []byte) *Patcher {
	if fragment == nil {
		fragment = Fragment
	}

	return &Patcher{fragment: fragment}
}

// Apply appends the fragment to path, failing with ErrAlreadyPatched and
// leaving the file untouched if the fragment is already there.
func (p *Patcher) Apply(ctx context.Context, path string) error {
	path = filepath.Clean(path)

	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read patch target: %w", err)
	}

	if IsPatched(contents, p.fragment) {
		return fmt.Errorf("%w: %s", upgrade.ErrAlreadyPatched, path)
	}

	if err = Append(path, p.fragment); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Patched source file", "path", path, "bytes", len(p.fragment)+1)

	return nil
}

// IsPatched reports whether contents already hold fragment.
func IsPatched(contents, fragment []byte) bool {
	trimmed := bytes.TrimSpace(fragment)

	return len(trimmed) > 0 && bytes.Contains(contents, trimmed)
}

// Append writes a newline and fragment at the end of path.
// It performs no check: appending twice leaves two copies.
func Append(path string, fragment []byte) error {
	f, err := os.OpenFile(filepath.Clean(path), os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("open patch target: %w", err)
	}

	payload := make([]byte, 0, len(fragment)+1)
	payload = append(payload, '\n')
	payload = append(payload, fragment...)

	if _, err = f.Write(payload); err != nil {
		_ = f.Close()

		return fmt.Errorf("append patch: %w", err)
	}

	if err = f.Close(); err != nil {
		return fmt.Errorf("close patch target: %w", err)
	}

	return nil
}
