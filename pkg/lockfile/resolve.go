package lockfile

import (
	"slices"

	"github.com/matzehuels/lockcheck/pkg/errors"
)

// Traversal selects how [Tree.Resolve] walks the tree.
type Traversal int

const (
	// TraversalLogical follows declared dependency edges: the manifest's
	// dependencies, then each entry's requires, every edge resolved with
	// [Tree.Lookup] from the entry that declares it.
	TraversalLogical Traversal = iota
	// TraversalPhysical walks the nested node_modules layout in install path
	// order.
	TraversalPhysical
)

// String returns "logical" or "physical".
func (t Traversal) String() string {
	if t == TraversalPhysical {
		return "physical"
	}
	return "logical"
}

// ParseTraversal parses a traversal name. The empty string selects the default.
func ParseTraversal(s string) (Traversal, error) {
	switch s {
	case "", "logical":
		return TraversalLogical, nil
	case "physical":
		return TraversalPhysical, nil
	default:
		return 0, errors.New(errors.ErrCodeInvalidInput, "unknown traversal %q (want logical or physical)", s)
	}
}

// Options configures resolution.
type Options struct {
	Traversal Traversal
}

// Dependency is a resolved package: the concrete version installed and
// where it was found.
type Dependency struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
	Path    string `json:"path" yaml:"path"`
}

// ResolveDependency finds the version of name installed by the project
// described by manifestText and lockfileText, using the default options.
// found is false when the package does not appear in the tree.
func ResolveDependency(manifestText, lockfileText, name string) (Dependency, bool, error) {
	return Resolve(manifestText, lockfileText, name, Options{})
}

// Resolve is [ResolveDependency] with explicit options.
func Resolve(manifestText, lockfileText, name string, opts Options) (Dependency, bool, error) {
	m, err := ParseManifest([]byte(manifestText))
	if err != nil {
		return Dependency{}, false, err
	}
	t, err := ParseLockfile([]byte(lockfileText))
	if err != nil {
		return Dependency{}, false, err
	}
	return t.Resolve(m, name, opts)
}

// Resolve walks the tree depth-first, an entry before its dependencies,
// and returns the first entry named name. The project entry itself never
// matches.
func (t *Tree) Resolve(m *Manifest, name string, opts Options) (Dependency, bool, error) {
	if m.HasWorkspaces() || t.Workspaces {
		return Dependency{}, false, errors.New(errors.ErrCodeUnsupportedTopology,
			"npm workspaces delegate to lockfile entries outside this package")
	}

	// Every dependency the manifest installs must be in this lockfile;
	// otherwise it is installed from somewhere else.
	for _, req := range m.RootEdges() {
		if _, ok := t.Lookup(RootIndex, req.Name); !ok && !m.isOptional(req.Name) {
			return Dependency{}, false, errors.New(errors.ErrCodeUnsupportedTopology,
				"%s is declared in package.json but missing from the lockfile", req.Name)
		}
	}

	var (
		idx   int
		found bool
		err   error
	)
	if opts.Traversal == TraversalPhysical {
		idx, found, err = t.walkPhysical(name)
	} else {
		idx, found, err = t.walkLogical(m, name)
	}
	if err != nil || !found {
		return Dependency{}, false, err
	}
	return t.dependency(idx), true, nil
}

// ResolveAt resolves name as seen by the entry installed at path, for
// example "what lodash does node_modules/foo load". The empty path is the
// project root.
func (t *Tree) ResolveAt(path, name string) (Dependency, bool, error) {
	from, ok := t.Find(path)
	if !ok {
		return Dependency{}, false, errors.New(errors.ErrCodeNotFound, "no entry installed at %q", path)
	}
	idx, ok := t.Lookup(from, name)
	if !ok {
		return Dependency{}, false, nil
	}
	if t.entries[idx].Link {
		return Dependency{}, false, linkError(t.entries[idx])
	}
	return t.dependency(idx), true, nil
}

func (t *Tree) dependency(i int) Dependency {
	e := t.entries[i]
	return Dependency{Name: e.Name, Version: e.Version, Path: e.Path}
}

func (t *Tree) walkLogical(m *Manifest, name string) (int, bool, error) {
	seen := make([]bool, len(t.entries))

	var visit func(i int) (int, bool, error)
	visit = func(i int) (int, bool, error) {
		if seen[i] {
			return 0, false, nil
		}
		seen[i] = true
		e := &t.entries[i]
		if e.Link {
			return 0, false, linkError(*e)
		}
		if e.Name == name {
			return i, true, nil
		}
		for _, req := range e.Requires {
			j, ok := t.Lookup(i, req.Name)
			if !ok {
				return 0, false, errors.New(errors.ErrCodeUnsupportedTopology,
					"%s requires %s, which is not installed in this lockfile", e.Path, req.Name)
			}
			if k, found, err := visit(j); err != nil || found {
				return k, found, err
			}
		}
		for _, req := range e.OptionalRequires {
			j, ok := t.Lookup(i, req.Name)
			if !ok {
				continue
			}
			if k, found, err := visit(j); err != nil || found {
				return k, found, err
			}
		}
		return 0, false, nil
	}

	for _, req := range m.RootEdges() {
		j, ok := t.Lookup(RootIndex, req.Name)
		if !ok {
			continue
		}
		if k, found, err := visit(j); err != nil || found {
			return k, found, err
		}
	}
	return 0, false, nil
}

func (t *Tree) walkPhysical(name string) (int, bool, error) {
	stack := t.Children(RootIndex)
	slices.Reverse(stack)
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		e := &t.entries[i]
		if e.Name == name {
			if e.Link {
				return 0, false, linkError(*e)
			}
			return i, true, nil
		}
		children := t.Children(i)
		slices.Reverse(children)
		stack = append(stack, children...)
	}
	return 0, false, nil
}

func linkError(e Entry) error {
	return errors.New(errors.ErrCodeUnsupportedTopology,
		"%s is linked to a directory outside this lockfile", e.Path)
}

