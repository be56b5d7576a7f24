package upgrader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/node-upgrader/internal/artifact"
	"github.com/oshokin/node-upgrader/internal/build"
	"github.com/oshokin/node-upgrader/internal/domain/release"
	"github.com/oshokin/node-upgrader/internal/domain/upgrade"
	"github.com/oshokin/node-upgrader/internal/git"
	"github.com/oshokin/node-upgrader/internal/logger"
	"github.com/oshokin/node-upgrader/internal/supervisor"
)

// PatchLocator finds the file that receives the patch.
type PatchLocator interface {
	Locate(ctx context.Context, root string) (string, error)
}

// Patcher applies the patch to a located file.
type Patcher interface {
	Apply(ctx context.Context, path string) error
}

// SupervisorConfig reads and rewrites the deployed binary of the node program.
type SupervisorConfig interface {
	DeployedRelease(ctx context.Context) (release.Identifier, error)
	PointTo(ctx context.Context, binary string) error
}

// Observer is told about every state a run enters.
type Observer func(state upgrade.State)

// Components are the steps a Pipeline sequences.
type Components struct {
	Tree      git.Client
	Locator   PatchLocator
	Patcher   Patcher
	Builder   build.Builder
	Publisher artifact.Publisher
	Config    SupervisorConfig
	Reloader  supervisor.Reloader
}

// Request describes one run.
type Request struct {
	// SourceDir is the git working copy of the node sources.
	SourceDir string
	// BinaryDir receives published binaries.
	BinaryDir string
	// SkipIfUnchanged ends the run without side effects when the latest
	// release is already deployed.
	SkipIfUnchanged bool
	// ReportStatus collects supervisor status and running processes after a reload.
	ReportStatus bool
}

// Result is the outcome of one run.
type Result struct {
	// State is the terminal state of the run.
	State upgrade.State
	// Latest is the newest release tag.
	Latest release.Identifier
	// Current is the release deployed when the run started.
	Current release.Identifier
	// Artifact is the published binary, nil before Published.
	Artifact *release.Artifact
	// Report is the post-reload status, nil unless requested and collected.
	Report *supervisor.Report
	// StartedAt is when the run started.
	StartedAt time.Time
	// FinishedAt is when the run ended.
	FinishedAt time.Time
}

// Pipeline sequences the upgrade steps.
type Pipeline struct {
	Components

	observer Observer
	now      func() time.Time
}

// NewPipeline creates a pipeline over components.
func NewPipeline(components Components) *Pipeline {
	return &Pipeline{
		Components: components,
		now:        time.Now,
	}
}

// WithObserver registers fn to be told about state changes.
func (p *Pipeline) WithObserver(fn Observer) *Pipeline {
	p.observer = fn

	return p
}

// Resolve synchronizes the tree and returns the latest and deployed releases.
func (p *Pipeline) Resolve(ctx context.Context, sourceDir string) (release.Identifier, release.Identifier, error) {
	if err := p.Tree.Fetch(ctx, sourceDir); err != nil {
		return "", "", err
	}

	latest, err := p.Tree.LatestTag(ctx, sourceDir)
	if err != nil {
		return "", "", err
	}

	current, err := p.Config.DeployedRelease(ctx)
	if err != nil {
		return latest, "", err
	}

	return latest, current, nil
}

// Run executes one upgrade. The returned result is never nil; its State is
// Failed whenever err is not nil.
func (p *Pipeline) Run(ctx context.Context, req *Request) (*Result, error) {
	ctx = logger.WithName(ctx, "pipeline")

	machine := upgrade.NewMachine()
	result := &Result{StartedAt: p.now()}

	err := p.run(ctx, machine, req, result)
	if err != nil {
		machine.Fail(err)
		p.notify(ctx, machine.State())
		logger.ErrorKV(ctx, "Upgrade failed", "error", err)
	}

	result.State = machine.State()
	result.FinishedAt = p.now()

	return result, err
}

//nolint:cyclop,funlen // The pipeline is a fixed linear sequence; splitting it would hide the order.
func (p *Pipeline) run(ctx context.Context, machine *upgrade.Machine, req *Request, result *Result) error {
	if err := p.advance(ctx, machine, upgrade.StateResolvingVersions); err != nil {
		return err
	}

	latest, current, err := p.Resolve(ctx, req.SourceDir)
	result.Latest, result.Current = latest, current

	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Resolved releases", "latest", latest, "current", current)

	if latest == current {
		if req.SkipIfUnchanged {
			logger.Info(ctx, "Latest release is already deployed, nothing to do")

			return p.advance(ctx, machine, upgrade.StateSkipped)
		}

		logger.Infof(ctx, "Release %s is already deployed, rebuilding anyway", latest)
	}

	if err = p.advance(ctx, machine, upgrade.StateUpgrading); err != nil {
		return err
	}

	ctx = logger.WithKV(ctx, "release", latest)

	binary, err := p.prepareAndBuild(ctx, req.SourceDir, latest)
	if err != nil {
		return err
	}

	if err = p.advance(ctx, machine, upgrade.StateBuilt); err != nil {
		return err
	}

	result.Artifact, err = p.Publisher.Publish(ctx, binary, latest, req.BinaryDir)
	if err != nil {
		return err
	}

	if err = p.advance(ctx, machine, upgrade.StatePublished); err != nil {
		return err
	}

	if err = p.Config.PointTo(ctx, result.Artifact.Path); err != nil {
		return err
	}

	if err = p.advance(ctx, machine, upgrade.StateConfigUpdated); err != nil {
		return err
	}

	if err = p.Reloader.Reload(ctx); err != nil {
		return err
	}

	if err = p.advance(ctx, machine, upgrade.StateReloaded); err != nil {
		return err
	}

	if req.ReportStatus {
		result.Report = p.report(ctx, result.Artifact.Path)
	}

	return p.advance(ctx, machine, upgrade.StateDone)
}

// prepareAndBuild resets, checks out, patches and builds the tree. On failure
// the tree is put back on the commit it was on before the checkout.
func (p *Pipeline) prepareAndBuild(ctx context.Context, dir string, id release.Identifier) (string, error) {
	head, err := p.Tree.Head(ctx, dir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", upgrade.ErrCheckoutFailed, err)
	}

	binary, err := p.checkoutPatchBuild(ctx, dir, id)
	if err == nil {
		return binary, nil
	}

	if restoreErr := p.restore(ctx, dir, head); restoreErr != nil {
		logger.ErrorKV(ctx, "Source tree left in an intermediate state", "dir", dir, "error", restoreErr)

		return "", errors.Join(err, fmt.Errorf("restore source tree to %s: %w", head, restoreErr))
	}

	return "", err
}

func (p *Pipeline) checkoutPatchBuild(ctx context.Context, dir string, id release.Identifier) (string, error) {
	if err := p.Tree.Reset(ctx, dir); err != nil {
		return "", err
	}

	if err := p.Tree.Checkout(ctx, dir, id.String()); err != nil {
		return "", err
	}

	logger.InfoKV(ctx, "Checked out release", "dir", dir)

	target, err := p.Locator.Locate(ctx, dir)
	if err != nil {
		return "", err
	}

	if err = p.Patcher.Apply(ctx, target); err != nil {
		return "", err
	}

	return p.Builder.Build(ctx, dir)
}

// restore discards the patch and returns HEAD to head. It runs even when ctx
// has been canceled, since that is usually why the run is failing.
func (p *Pipeline) restore(ctx context.Context, dir, head string) error {
	ctx = context.WithoutCancel(ctx)

	logger.Warnf(ctx, "Restoring source tree %s to %s", dir, head)

	if err := p.Tree.Reset(ctx, dir); err != nil {
		return err
	}

	return p.Tree.Checkout(ctx, dir, head)
}

// report collects the post-reload status. Problems are logged, never fatal:
// the new configuration is already live.
func (p *Pipeline) report(ctx context.Context, binary string) *supervisor.Report {
	logger.Info(ctx, "Checking supervisor status")

	report, err := p.Reloader.Report(ctx, binary)
	if err != nil {
		logger.WarnKV(ctx, "Could not collect status", "error", err)
	}

	if report == nil {
		return nil
	}

	logger.InfoKV(ctx, "Supervisor status", "status", report.Status)

	if len(report.PIDs) == 0 {
		logger.WarnKV(ctx, "No process is running the published binary yet", "binary", binary)
	} else {
		logger.InfoKV(ctx, "Published binary is running", "binary", binary, "pids", report.PIDs)
	}

	return report
}

func (p *Pipeline) advance(ctx context.Context, machine *upgrade.Machine, next upgrade.State) error {
	if err := machine.Advance(next); err != nil {
		return err
	}

	p.notify(ctx, next)

	return nil
}

func (p *Pipeline) notify(ctx context.Context, state upgrade.State) {
	logger.DebugKV(ctx, "State changed", "state", state)

	if p.observer != nil {
		p.observer(state)
	}
}
