// Package preflight provides readiness checks for the filesystem paths and
// external services ferry depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and publishes the results in its
//     status payload. Failures are logged but do not stop the daemon, since
//     the remote system may come up later.
//   - The CLI "ferry status" command runs the same checks when the daemon is
//     not reachable, so operators still see configuration problems.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
