// Package update provides small helpers for ordering release versions and
// deciding whether a published release is an update over the installed one.
//
// It does not download, verify or install anything. Callers resolve the
// latest release from verified metadata and pass its version here.
//
// Version model
//   - Full semver "MAJOR.MINOR.PATCH" with optional prerelease/build metadata,
//     with or without a leading "v" (e.g. "1.2.0-rc.1", "v1.0.0+build123").
//   - Ordering is golang.org/x/mod/semver: "1.2.0-rc.1" < "1.2.0", build
//     metadata is ignored.
//   - "dev", "0.0.0-dev" and empty versions are not comparable; any valid
//     release is offered over them.
package update
