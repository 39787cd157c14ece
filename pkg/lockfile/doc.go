// Package lockfile answers "which version of package X is actually
// installed" for an npm project, given its package.json and its
// package-lock.json (or npm-shrinkwrap.json).
//
// # Formats
//
// All lockfile versions written by npm are understood:
//
//   - lockfileVersion 1: nested "dependencies" objects
//   - lockfileVersion 2: both sections; "packages" is preferred
//   - lockfileVersion 3: flat "packages" map keyed by install path
//
// Input is read through [hujson], so comments and trailing commas left behind
// by hand edits do not break parsing. Malformed input is a PARSE_ERROR.
//
// # Tree
//
// [ParseLockfile] builds a [Tree]: entries live in a slice and refer to their
// parent and children by index. Index 0 is the project itself.
// [Tree.Lookup] applies npm's shadowing rule: a package installed in a
// dependency's own node_modules wins over a hoisted copy further up.
//
// # Resolution
//
// [ResolveDependency] walks the tree depth-first, visiting an entry before
// its dependencies, and reports the first entry with the requested name:
//
//	dep, found, err := lockfile.ResolveDependency(manifest, lock, "lodash")
//
// By default the walk follows the logical dependency graph: the manifest's
// declared dependencies, then each entry's "requires", every edge resolved
// with [Tree.Lookup] from the requiring entry. [TraversalPhysical] walks the
// nested node_modules layout instead.
//
// Lockfiles that delegate to files outside the manifest/lockfile pair (npm
// workspaces, linked directories, dependencies missing from the lockfile) are
// reported as UNSUPPORTED_LOCKFILE_TOPOLOGY instead of being guessed at.
//
// [hujson]: github.com/tailscale/hujson
package lockfile
