// Package build compiles the node binary from a source tree.
package build

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/oshokin/node-upgrader/internal/command"
	"github.com/oshokin/node-upgrader/internal/domain/upgrade"
	"github.com/oshokin/node-upgrader/internal/logger"
)

const (
	// DefaultTool is the build tool invoked in the source tree.
	DefaultTool = "make"
	// DefaultTarget is the make target that builds the node binary.
	DefaultTarget = "geth"
	// DefaultBinaryPath is where DefaultTarget leaves the binary, relative to the tree.
	DefaultBinaryPath = "build/bin/geth"
)

// Builder produces the node binary.
type Builder interface {
	// Build compiles dir and returns the absolute path of the binary.
	Build(ctx context.Context, dir string) (string, error)
}

// Options configure a MakeBuilder.
type Options struct {
	// Tool is the build program, make by default.
	Tool string
	// Target is the target passed to Tool.
	Target string
	// BinaryPath is the produced binary relative to the source tree.
	BinaryPath string
	// Timeout bounds one build.
	Timeout time.Duration
}

// MakeBuilder runs "<tool> <target>" inside the source tree.
type MakeBuilder struct {
	runner command.Runner
	opts   Options
}

// NewMakeBuilder creates a builder, filling unset options with defaults.
func NewMakeBuilder(runner command.Runner, opts Options) *MakeBuilder {
	if opts.Tool == "" {
		opts.Tool = DefaultTool
	}

	if opts.Target == "" {
		opts.Target = DefaultTarget
	}

	if opts.BinaryPath == "" {
		opts.BinaryPath = DefaultBinaryPath
	}

	return &MakeBuilder{
		runner: runner,
		opts:   opts,
	}
}

// Build blocks until the tool exits. A failure carries the tool's output verbatim.
func (b *MakeBuilder) Build(ctx context.Context, dir string) (string, error) {
	ctx, cancel := command.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	logger.InfoKV(ctx, "Building", "tool", b.opts.Tool, "target", b.opts.Target, "dir", dir)

	started := time.Now()
	if _, err := b.runner.Run(ctx, dir, b.opts.Tool, b.opts.Target); err != nil {
		return "", fmt.Errorf("%w: %w", upgrade.ErrBuildFailed, err)
	}

	binary := filepath.Join(dir, filepath.FromSlash(b.opts.BinaryPath))

	logger.InfoKV(ctx, "Build finished", "binary", binary, "elapsed", time.Since(started).Round(time.Second))

	return binary, nil
}
