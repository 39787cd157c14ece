package lockfile

import "strings"

// RootIndex is the index of the project entry in every [Tree].
const RootIndex = 0

// Entry is one installed package in a lock tree.
type Entry struct {
	Name    string // install name, e.g. "lodash" or "@babel/core"
	Version string // resolved concrete version
	Path    string // install path, "" for the project itself

	// Requires are the entry's own dependency ranges as recorded in the
	// lockfile. OptionalRequires may legitimately be missing from the tree.
	Requires         Requirements
	OptionalRequires Requirements

	Dev      bool
	Optional bool
	Link     bool // symlink to a directory outside node_modules

	parent   int
	children []int
	byName   map[string]int
}

// Tree is an npm lock tree with index-based parent and child relations.
// The parent relation is only used for upward lookups.
type Tree struct {
	LockfileVersion int
	Workspaces      bool

	entries []Entry
	byPath  map[string]int
}

func newTree(name, version string) *Tree {
	t := &Tree{byPath: make(map[string]int)}
	t.entries = append(t.entries, Entry{Name: name, Version: version, parent: -1})
	t.byPath[""] = RootIndex
	return t
}

// add appends an entry under parent and returns its index.
func (t *Tree) add(parent int, e Entry) int {
	idx := len(t.entries)
	e.parent = parent
	t.entries = append(t.entries, e)
	p := &t.entries[parent]
	p.children = append(p.children, idx)
	if p.byName == nil {
		p.byName = make(map[string]int)
	}
	p.byName[e.Name] = idx
	t.byPath[e.Path] = idx
	return idx
}

// Len returns the number of entries, root included.
func (t *Tree) Len() int { return len(t.entries) }

// Root returns the project entry.
func (t *Tree) Root() Entry { return t.entries[RootIndex] }

// Entry returns the entry at index i.
func (t *Tree) Entry(i int) Entry { return t.entries[i] }

// Parent returns the parent index of entry i. The root has no parent.
func (t *Tree) Parent(i int) (int, bool) {
	p := t.entries[i].parent
	return p, p >= 0
}

// Children returns the indices of the packages nested directly in entry i's
// node_modules, in install path order.
func (t *Tree) Children(i int) []int {
	return append([]int(nil), t.entries[i].children...)
}

// Find returns the index of the entry installed at path.
func (t *Tree) Find(path string) (int, bool) {
	i, ok := t.byPath[strings.TrimSuffix(path, "/")]
	return i, ok
}

// Lookup resolves name the way Node's module loader does from entry from:
// from's own node_modules first, then each ancestor's, up to the project root.
// The nearest match wins.
func (t *Tree) Lookup(from int, name string) (int, bool) {
	for i := from; i >= 0; i = t.entries[i].parent {
		if j, ok := t.entries[i].byName[name]; ok {
			return j, true
		}
	}
	return 0, false
}

// splitInstallPath splits "node_modules/a/node_modules/@s/b" into the parent
// install path "node_modules/a" and the package name "@s/b". Paths outside
// node_modules (workspace folders, link targets) are reported as not ok.
func splitInstallPath(path string) (parent, name string, ok bool) {
	const seg = "node_modules/"
	i := strings.LastIndex(path, seg)
	if i < 0 || (i > 0 && path[i-1] != '/') {
		return "", "", false
	}
	name = path[i+len(seg):]
	if name == "" {
		return "", "", false
	}
	parent = strings.TrimSuffix(path[:i], "/")
	return parent, name, true
}
