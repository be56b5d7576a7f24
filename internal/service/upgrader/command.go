package upgrader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/node-upgrader/internal/artifact"
	"github.com/oshokin/node-upgrader/internal/build"
	"github.com/oshokin/node-upgrader/internal/command"
	"github.com/oshokin/node-upgrader/internal/config"
	"github.com/oshokin/node-upgrader/internal/domain/release"
	"github.com/oshokin/node-upgrader/internal/domain/upgrade"
	"github.com/oshokin/node-upgrader/internal/git"
	"github.com/oshokin/node-upgrader/internal/logger"
	"github.com/oshokin/node-upgrader/internal/repository/state"
	"github.com/oshokin/node-upgrader/internal/service/common"
	"github.com/oshokin/node-upgrader/internal/source"
	"github.com/oshokin/node-upgrader/internal/supervisor"
	"github.com/oshokin/node-upgrader/internal/version"
)

var (
	errPathRequired    = errors.New("path is required")
	errNotDirectory    = errors.New("not a directory")
	errNotRegularFile  = errors.New("not a regular file")
	errNotGitWorkspace = errors.New("not a git working copy")
)

// Options are inputs accepted by the upgrader entry points.
type Options struct {
	// ConfigPath is the supervisor program config.
	ConfigPath string
	// SourceDir is the git working copy of the node sources.
	SourceDir string
	// BinaryDir receives published binaries. Check ignores it.
	BinaryDir string
	// OnlyNew skips the run when the latest release is already deployed.
	OnlyNew bool
	// SkipStatus skips the post-reload status report.
	SkipStatus bool
	// SettingsPath is the optional settings YAML file.
	SettingsPath string
}

// Status is what Check reports.
type Status struct {
	// Latest is the newest release tag.
	Latest release.Identifier
	// Current is the deployed release.
	Current release.Identifier
	// Pending is true when Latest is not deployed.
	Pending bool
}

// runner holds what one invocation needs.
type runner struct {
	opts     Options
	cfg      *config.Config
	pipeline *Pipeline
	journal  state.Repository
}

// Run validates the inputs, takes the run marker and executes one upgrade.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "node-upgrader")

	logger.InfoKV(ctx, "Starting upgrade", version.KV()...)

	r, err := newRunner(ctx, opts, true)
	if err != nil {
		return err
	}

	lock, err := AcquireLock(ctx, r.markerPath())
	if err != nil {
		return err
	}

	defer lock.Release(ctx)

	result, err := r.pipeline.Run(ctx, &Request{
		SourceDir:       r.opts.SourceDir,
		BinaryDir:       r.opts.BinaryDir,
		SkipIfUnchanged: r.opts.OnlyNew,
		ReportStatus:    !r.opts.SkipStatus,
	})

	r.record(ctx, result, err)

	if err != nil {
		return err
	}

	if result.Artifact != nil {
		logger.InfoKV(ctx, "Upgrader completed", "state", result.State, "binary", result.Artifact.Path)
	} else {
		logger.InfoKV(ctx, "Upgrader completed", "state", result.State)
	}

	return nil
}

// Check resolves the latest and deployed releases without changing the
// deployment. It does fetch tags into the source tree.
func Check(ctx context.Context, opts *Options) (*Status, error) {
	ctx = logger.WithName(ctx, "node-upgrader")

	r, err := newRunner(ctx, opts, false)
	if err != nil {
		return nil, err
	}

	latest, current, err := r.pipeline.Resolve(ctx, r.opts.SourceDir)
	if err != nil {
		return nil, err
	}

	return &Status{
		Latest:  latest,
		Current: current,
		Pending: latest != current,
	}, nil
}

func newRunner(ctx context.Context, opts *Options, upgrading bool) (*runner, error) {
	if opts == nil {
		opts = new(Options)
	}

	normalized, err := normalize(opts, upgrading)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(normalized.SettingsPath)
	if err != nil {
		return nil, err
	}

	// The patch target has to be unambiguous before anything is touched.
	target, err := source.NewLocator(cfg.PatchMarker).Locate(ctx, normalized.SourceDir)
	if err != nil {
		return nil, err
	}

	logger.DebugKV(ctx, "Patch target found", "path", target)

	r := &runner{
		opts:     *normalized,
		cfg:      cfg,
		pipeline: NewPipeline(NewComponents(cfg, normalized.ConfigPath)),
	}

	if cfg.JournalFile != "" {
		r.journal = state.NewFileRepository(cfg.JournalFile)
	}

	return r, nil
}

// markerPath is the configured run marker, or the one next to the supervisor config.
func (r *runner) markerPath() string {
	if r.cfg.LockFile != "" {
		return r.cfg.LockFile
	}

	return MarkerPath(r.opts.ConfigPath)
}

// NewComponents wires the production implementation of every step.
func NewComponents(cfg *config.Config, configPath string) Components {
	shell := command.NewExecRunner()

	return Components{
		Tree: git.NewShellClient(shell, cfg.Remote, git.Timeouts{
			Fetch: cfg.Timeouts.Fetch,
			Local: cfg.Timeouts.Checkout,
		}),
		Locator: source.NewLocator(cfg.PatchMarker),
		Patcher: source.NewPatcher(nil),
		Builder: build.NewMakeBuilder(shell, build.Options{
			Target:     cfg.BuildTarget,
			BinaryPath: cfg.BinaryPath,
			Timeout:    cfg.Timeouts.Build,
		}),
		Publisher: artifact.NewFilePublisher(),
		Config:    supervisor.NewConfigFile(configPath),
		Reloader: supervisor.NewSupervisorctl(shell, supervisor.CtlOptions{
			Ctl:         cfg.Supervisorctl,
			ConfigPath:  cfg.SupervisordConfig,
			UseSudo:     cfg.SudoEnabled(),
			Timeout:     cfg.Timeouts.Supervisor,
			StatusDelay: cfg.ReportDelay(),
		}),
	}
}

// normalize makes every path absolute and checks that it exists with the right kind.
func normalize(opts *Options, upgrading bool) (*Options, error) {
	normalized := *opts

	var err error

	if normalized.ConfigPath, err = absolute("config", opts.ConfigPath); err != nil {
		return nil, err
	}

	if err = requireFile(normalized.ConfigPath); err != nil {
		return nil, err
	}

	if normalized.SourceDir, err = absolute("source", opts.SourceDir); err != nil {
		return nil, err
	}

	if err = requireDir(normalized.SourceDir); err != nil {
		return nil, err
	}

	if _, err = os.Stat(filepath.Join(normalized.SourceDir, ".git")); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", normalized.SourceDir, errNotGitWorkspace, err)
	}

	if !upgrading {
		return &normalized, nil
	}

	if normalized.BinaryDir, err = absolute("binary", opts.BinaryDir); err != nil {
		return nil, err
	}

	if err = requireDir(normalized.BinaryDir); err != nil {
		return nil, err
	}

	return &normalized, nil
}

func absolute(name, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%s %w", name, errPathRequired)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%s path %s: %w", name, path, err)
	}

	return abs, nil
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("%s: %w", path, errNotDirectory)
	}

	return nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: %w", path, errNotRegularFile)
	}

	return nil
}

// record writes the outcome to the run journal. A journal failure never
// changes the outcome of the run.
func (r *runner) record(ctx context.Context, result *Result, runErr error) {
	if r.journal == nil || result == nil {
		return
	}

	entry := &upgrade.Record{
		State:      result.State,
		Latest:     result.Latest.String(),
		Current:    result.Current.String(),
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
	}

	if result.Artifact != nil {
		entry.ArtifactPath = result.Artifact.Path
	}

	if runErr != nil {
		entry.Failure = runErr.Error()
	}

	actor, err := common.DetectActor()
	if err != nil {
		logger.WarnKV(ctx, "Could not detect who started the run", "error", err)
	} else {
		entry.Actor = actor
	}

	if err = r.journal.Save(ctx, entry); err != nil {
		logger.WarnKV(ctx, "Could not save run journal", "path", r.cfg.JournalFile, "error", err)
	}
}
