// Package git drives the local working copy of the node sources by shelling
// out to the git command.
package git

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oshokin/node-upgrader/internal/command"
	"github.com/oshokin/node-upgrader/internal/domain/release"
	"github.com/oshokin/node-upgrader/internal/domain/upgrade"
	"github.com/oshokin/node-upgrader/internal/logger"
)

// DefaultRemote is the remote fetched when none is configured.
const DefaultRemote = "origin"

// Client provides the source tree operations the pipeline needs.
type Client interface {
	// Fetch synchronizes tags and history of dir with its remote.
	Fetch(ctx context.Context, dir string) error
	// LatestTag returns the greatest release tag of dir in git version order.
	LatestTag(ctx context.Context, dir string) (release.Identifier, error)
	// Reset discards uncommitted modifications of tracked files.
	Reset(ctx context.Context, dir string) error
	// Checkout moves HEAD to ref.
	Checkout(ctx context.Context, dir, ref string) error
	// Head returns a ref that checks HEAD out again: the current branch, or
	// the commit hash when HEAD is detached.
	Head(ctx context.Context, dir string) (string, error)
}

// Timeouts bound the individual git invocations.
type Timeouts struct {
	// Fetch bounds network synchronization.
	Fetch time.Duration
	// Local bounds reset, checkout, tag listing and rev-parse.
	Local time.Duration
}

// ShellClient implements Client by running git.
type ShellClient struct {
	runner   command.Runner
	remote   string
	timeouts Timeouts
}

// NewShellClient creates a git client fetching from remote.
func NewShellClient(runner command.Runner, remote string, timeouts Timeouts) *ShellClient {
	if remote == "" {
		remote = DefaultRemote
	}

	return &ShellClient{
		runner:   runner,
		remote:   remote,
		timeouts: timeouts,
	}
}

// Fetch runs git fetch --tags against the configured remote.
func (c *ShellClient) Fetch(ctx context.Context, dir string) error {
	if _, err := c.git(ctx, c.timeouts.Fetch, dir, "fetch", "--tags", "--force", c.remote); err != nil {
		return fmt.Errorf("%w: %w", upgrade.ErrSyncFailed, err)
	}

	return nil
}

// LatestTag lists tags with git's version sort and returns the last one that
// is a release identifier. Pre-release suffixes sort before the release they
// precede, so v1.10.7-rc.1 < v1.10.7.
func (c *ShellClient) LatestTag(ctx context.Context, dir string) (release.Identifier, error) {
	out, err := c.git(ctx, c.timeouts.Local, dir, "-c", "versionsort.suffix=-", "tag", "--list", "--sort=v:refname")
	if err != nil {
		return "", fmt.Errorf("list tags: %w", err)
	}

	tags := strings.Split(out, "\n")
	for i := len(tags) - 1; i >= 0; i-- {
		tag := strings.TrimSpace(tags[i])
		if tag == "" {
			continue
		}

		id, parseErr := release.Parse(tag)
		if parseErr != nil {
			logger.DebugKV(ctx, "Ignoring non-release tag", "tag", tag)
			continue
		}

		return id, nil
	}

	return "", fmt.Errorf("%s: %w", dir, upgrade.ErrNoTagsFound)
}

// Reset discards modifications of tracked files, like the patch left by a previous run.
func (c *ShellClient) Reset(ctx context.Context, dir string) error {
	if _, err := c.git(ctx, c.timeouts.Local, dir, "checkout", "--", "."); err != nil {
		return fmt.Errorf("%w: reset: %w", upgrade.ErrCheckoutFailed, err)
	}

	return nil
}

// Checkout moves HEAD to ref, detaching it for tags and commits.
func (c *ShellClient) Checkout(ctx context.Context, dir, ref string) error {
	if _, err := c.git(ctx, c.timeouts.Local, dir, "checkout", "--quiet", ref); err != nil {
		return fmt.Errorf("%w: %s: %w", upgrade.ErrCheckoutFailed, ref, err)
	}

	return nil
}

// Head returns the branch HEAD is on, or the full hash of HEAD when detached.
func (c *ShellClient) Head(ctx context.Context, dir string) (string, error) {
	out, err := c.git(ctx, c.timeouts.Local, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("rev-parse HEAD: %w", err)
	}

	// A detached HEAD abbreviates to the literal "HEAD".
	if branch := strings.TrimSpace(out); branch != "HEAD" {
		return branch, nil
	}

	out, err = c.git(ctx, c.timeouts.Local, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("rev-parse HEAD: %w", err)
	}

	return strings.TrimSpace(out), nil
}

func (c *ShellClient) git(ctx context.Context, timeout time.Duration, dir string, args ...string) (string, error) {
	ctx, cancel := command.WithTimeout(ctx, timeout)
	defer cancel()

	return c.runner.Run(ctx, dir, "git", args...)
}
