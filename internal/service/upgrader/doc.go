// Package upgrader runs the node upgrade pipeline.
//
// A run resolves the newest release tag and the deployed release, decides
// whether to proceed, then resets and checks out the source tree, patches it,
// builds, publishes the binary, points the supervisor config at it and
// reloads supervisord, in that order. Any failure ends the run. Failures
// before publishing put the source tree back on the commit it started from;
// nothing after publishing is rolled back.
//
// The pipeline does not guard against concurrent runs on the same tree and
// config. Run takes a marker lock for that before the pipeline starts.
package upgrader
