// Package scan finds npm projects whose installed version of a package falls
// outside a version range.
//
// A [Coordinator] runs a scan in three steps:
//
//  1. Search the codebase for lockfiles that mention the package.
//  2. For every hit, fetch the lockfile and the package.json next to it.
//  3. Resolve the installed version with [lockfile.ResolveDependency] and
//     check it against the range with [versionrange].
//
// Pairs are checked concurrently. A pair that cannot be checked (missing
// manifest, malformed JSON, unsupported lockfile layout) is logged and left
// out of the result; it never fails the scan. Cancelling the context does.
//
//	c := scan.NewCoordinator(searcher, fetcher, scan.Options{}, logger)
//	pkgs, err := c.FindUnsatisfied(ctx, "lodash", "^4.17.21")
//
// [Coordinator.Scan] returns a [Report] with the outcome of every pair.
package scan
