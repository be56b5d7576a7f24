package upgrader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/node-upgrader/internal/domain/release"
	"github.com/oshokin/node-upgrader/internal/domain/upgrade"
	"github.com/oshokin/node-upgrader/internal/supervisor"
)

// fakes records every call in order and fails the call named in failOn.
type fakes struct {
	calls   []string
	failOn  string
	latest  release.Identifier
	current release.Identifier
	head    string
	pointed string
}

func (f *fakes) call(name string, args ...any) error {
	f.calls = append(f.calls, fmt.Sprint(append([]any{name}, args...)...))

	if f.failOn == name {
		return fmt.Errorf("%s failed", name)
	}

	return nil
}

func (f *fakes) Fetch(_ context.Context, _ string) error {
	if err := f.call("fetch"); err != nil {
		return fmt.Errorf("%w: %w", upgrade.ErrSyncFailed, err)
	}

	return nil
}

func (f *fakes) LatestTag(_ context.Context, _ string) (release.Identifier, error) {
	return f.latest, f.call("latest")
}

func (f *fakes) Reset(_ context.Context, _ string) error {
	return f.call("reset")
}

func (f *fakes) Checkout(_ context.Context, _, ref string) error {
	return f.call("checkout", " ", ref)
}

func (f *fakes) Head(_ context.Context, _ string) (string, error) {
	return f.head, f.call("head")
}

func (f *fakes) Locate(_ context.Context, root string) (string, error) {
	return filepath.Join(root, "api.go"), f.call("locate")
}

func (f *fakes) Apply(_ context.Context, _ string) error {
	if err := f.call("patch"); err != nil {
		return fmt.Errorf("%w: %w", upgrade.ErrAlreadyPatched, err)
	}

	return nil
}

func (f *fakes) Build(_ context.Context, dir string) (string, error) {
	if err := f.call("build"); err != nil {
		return "", fmt.Errorf("%w: %w", upgrade.ErrBuildFailed, err)
	}

	return filepath.Join(dir, "build/bin/geth"), nil
}

func (f *fakes) Publish(_ context.Context, _ string, id release.Identifier, dir string) (*release.Artifact, error) {
	if err := f.call("publish"); err != nil {
		return nil, err
	}

	name := release.ArtifactName("geth", "1a2b3c4d", id)

	return &release.Artifact{Release: id, Disambiguator: "1a2b3c4d", Path: filepath.Join(dir, name)}, nil
}

func (f *fakes) DeployedRelease(_ context.Context) (release.Identifier, error) {
	return f.current, f.call("deployed")
}

func (f *fakes) PointTo(_ context.Context, binary string) error {
	f.pointed = binary

	return f.call("point")
}

func (f *fakes) Reload(_ context.Context) error {
	return f.call("reload")
}

func (f *fakes) Report(_ context.Context, binary string) (*supervisor.Report, error) {
	if err := f.call("report"); err != nil {
		return nil, err
	}

	return &supervisor.Report{Status: "geth RUNNING", PIDs: []int{42}}, nil
}

func newFakePipeline(f *fakes) (*Pipeline, *[]upgrade.State) {
	var states []upgrade.State

	p := NewPipeline(Components{
		Tree:      f,
		Locator:   f,
		Patcher:   f,
		Builder:   f,
		Publisher: f,
		Config:    f,
		Reloader:  f,
	}).WithObserver(func(state upgrade.State) {
		states = append(states, state)
	})

	return p, &states
}

func request() *Request {
	return &Request{
		SourceDir:    "/src/go-ethereum",
		BinaryDir:    "/opt/bin",
		ReportStatus: true,
	}
}

func TestPipelineUpgradesToLatestRelease(t *testing.T) {
	t.Parallel()

	f := &fakes{latest: "v1.10.7", current: "v1.10.6", head: "abc123"}
	p, states := newFakePipeline(f)

	result, err := p.Run(context.Background(), request())
	require.NoError(t, err)

	require.Equal(t, upgrade.StateDone, result.State)
	require.Equal(t, release.Identifier("v1.10.7"), result.Latest)
	require.Equal(t, release.Identifier("v1.10.6"), result.Current)
	require.Equal(t, "/opt/bin/geth-1a2b3c4d_v1.10.7", result.Artifact.Path)
	require.Equal(t, result.Artifact.Path, f.pointed)
	require.Equal(t, []int{42}, result.Report.PIDs)
	require.False(t, result.FinishedAt.Before(result.StartedAt))

	require.Equal(t, []string{
		"fetch", "latest", "deployed", "head", "reset", "checkout v1.10.7",
		"locate", "patch", "build", "publish", "point", "reload", "report",
	}, f.calls)

	require.Equal(t, []upgrade.State{
		upgrade.StateResolvingVersions,
		upgrade.StateUpgrading,
		upgrade.StateBuilt,
		upgrade.StatePublished,
		upgrade.StateConfigUpdated,
		upgrade.StateReloaded,
		upgrade.StateDone,
	}, *states)
}

func TestPipelineSkipsWhenLatestIsDeployed(t *testing.T) {
	t.Parallel()

	f := &fakes{latest: "v1.10.6", current: "v1.10.6"}
	p, states := newFakePipeline(f)

	req := request()
	req.SkipIfUnchanged = true

	result, err := p.Run(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, upgrade.StateSkipped, result.State)
	require.Nil(t, result.Artifact)
	require.Equal(t, []string{"fetch", "latest", "deployed"}, f.calls)
	require.Equal(t, []upgrade.State{upgrade.StateResolvingVersions, upgrade.StateSkipped}, *states)
}

func TestPipelineRebuildsUnchangedReleaseWithoutSkip(t *testing.T) {
	t.Parallel()

	f := &fakes{latest: "v1.10.6", current: "v1.10.6", head: "abc123"}
	p, _ := newFakePipeline(f)

	result, err := p.Run(context.Background(), request())
	require.NoError(t, err)

	require.Equal(t, upgrade.StateDone, result.State)
	require.Contains(t, f.calls, "build")
	require.Equal(t, "/opt/bin/geth-1a2b3c4d_v1.10.6", f.pointed)
}

func TestPipelineRestoresTreeWhenStepBeforePublishFails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		failOn string
		err    error
		before []string
	}{
		{
			name:   "build",
			failOn: "build",
			err:    upgrade.ErrBuildFailed,
			before: []string{"head", "reset", "checkout v1.10.7", "locate", "patch", "build"},
		},
		{
			name:   "patch",
			failOn: "patch",
			err:    upgrade.ErrAlreadyPatched,
			before: []string{"head", "reset", "checkout v1.10.7", "locate", "patch"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := &fakes{latest: "v1.10.7", current: "v1.10.6", head: "abc123", failOn: tt.failOn}
			p, states := newFakePipeline(f)

			result, err := p.Run(context.Background(), request())
			require.ErrorIs(t, err, tt.err)
			require.Equal(t, upgrade.StateFailed, result.State)
			require.Nil(t, result.Artifact)
			require.Empty(t, f.pointed)

			expected := append([]string{"fetch", "latest", "deployed"}, tt.before...)
			expected = append(expected, "reset", "checkout abc123")
			require.Equal(t, expected, f.calls)
			require.Equal(t, upgrade.StateFailed, (*states)[len(*states)-1])
		})
	}
}

func TestPipelineRestoresBranch(t *testing.T) {
	t.Parallel()

	f := &fakes{latest: "v1.10.7", current: "v1.10.6", head: "master", failOn: "build"}
	p, _ := newFakePipeline(f)

	_, err := p.Run(context.Background(), request())
	require.ErrorIs(t, err, upgrade.ErrBuildFailed)
	require.Equal(t, []string{"reset", "checkout master"}, f.calls[len(f.calls)-2:])
}

func TestPipelineJoinsRestoreFailure(t *testing.T) {
	t.Parallel()

	f := &fakes{latest: "v1.10.7", current: "v1.10.6", head: "abc123", failOn: "reset"}
	p, _ := newFakePipeline(f)

	result, err := p.Run(context.Background(), request())
	require.Error(t, err)
	require.Contains(t, err.Error(), "restore source tree to abc123")
	require.Equal(t, upgrade.StateFailed, result.State)
	require.NotContains(t, f.calls, "build")
}

func TestPipelineStopsAfterPublishWithoutRollback(t *testing.T) {
	t.Parallel()

	f := &fakes{latest: "v1.10.7", current: "v1.10.6", head: "abc123", failOn: "reload"}
	p, states := newFakePipeline(f)

	result, err := p.Run(context.Background(), request())
	require.Error(t, err)
	require.Equal(t, upgrade.StateFailed, result.State)
	require.NotNil(t, result.Artifact)
	require.Equal(t, result.Artifact.Path, f.pointed)
	require.Equal(t, "reload", f.calls[len(f.calls)-1])
	require.Equal(t, []upgrade.State{
		upgrade.StateResolvingVersions,
		upgrade.StateUpgrading,
		upgrade.StateBuilt,
		upgrade.StatePublished,
		upgrade.StateConfigUpdated,
		upgrade.StateFailed,
	}, *states)
}

func TestPipelineFailsWhenSyncFails(t *testing.T) {
	t.Parallel()

	f := &fakes{latest: "v1.10.7", current: "v1.10.6", failOn: "fetch"}
	p, _ := newFakePipeline(f)

	result, err := p.Run(context.Background(), request())
	require.ErrorIs(t, err, upgrade.ErrSyncFailed)
	require.Equal(t, upgrade.StateFailed, result.State)
	require.Equal(t, []string{"fetch"}, f.calls)
}

func TestPipelineReportFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := &fakes{latest: "v1.10.7", current: "v1.10.6", head: "abc123", failOn: "report"}
	p, _ := newFakePipeline(f)

	result, err := p.Run(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, upgrade.StateDone, result.State)
	require.Nil(t, result.Report)
}

func TestPipelineResolveReportsDeployedReleaseError(t *testing.T) {
	t.Parallel()

	f := &fakes{latest: "v1.10.7", failOn: "deployed"}
	p, _ := newFakePipeline(f)

	latest, current, err := p.Resolve(context.Background(), "/src")
	require.Error(t, err)
	require.False(t, errors.Is(err, upgrade.ErrSyncFailed))
	require.Equal(t, release.Identifier("v1.10.7"), latest)
	require.Empty(t, current)
}
