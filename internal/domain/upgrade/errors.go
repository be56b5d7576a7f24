package upgrade

import "errors"

// Failure taxonomy. Components wrap these with fmt.Errorf("%w: ...") and
// callers match them with errors.Is. All of them end the current run.
var (
	// ErrSyncFailed means the source tree could not be synchronized with its remote.
	ErrSyncFailed = errors.New("sync failed")
	// ErrNoTagsFound means the source tree has no release tags.
	ErrNoTagsFound = errors.New("no tags found")
	// ErrConfigFormat means the supervisor config does not hold exactly one usable command directive.
	ErrConfigFormat = errors.New("supervisor config format error")
	// ErrCheckoutFailed means the tree could not be reset or moved to a release.
	ErrCheckoutFailed = errors.New("checkout failed")
	// ErrPatchTargetNotFound means no source file carries the patch marker.
	ErrPatchTargetNotFound = errors.New("patch target not found")
	// ErrPatchTargetAmbiguous means more than one source file carries the patch marker.
	ErrPatchTargetAmbiguous = errors.New("patch target ambiguous")
	// ErrAlreadyPatched means the target file already contains the patch fragment.
	ErrAlreadyPatched = errors.New("already patched")
	// ErrBuildFailed means the build tool exited unsuccessfully.
	ErrBuildFailed = errors.New("build failed")
	// ErrPublishFailed means the built binary could not be copied into the binary directory.
	ErrPublishFailed = errors.New("publish failed")
	// ErrSupervisorReloadFailed means supervisorctl could not reread or update.
	ErrSupervisorReloadFailed = errors.New("supervisor reload failed")
)
