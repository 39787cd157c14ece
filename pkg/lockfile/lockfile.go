package lockfile

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/matzehuels/lockcheck/pkg/errors"
)

type lockDocument struct {
	Name            string                    `json:"name"`
	Version         string                    `json:"version"`
	LockfileVersion int                       `json:"lockfileVersion"`
	Packages        map[string]lockPackage    `json:"packages"`
	Dependencies    map[string]lockDependency `json:"dependencies"`
}

// lockPackage is an entry of the "packages" section (lockfileVersion 2 and 3).
type lockPackage struct {
	Name                 string          `json:"name"`
	Version              string          `json:"version"`
	Resolved             string          `json:"resolved"`
	Dependencies         Requirements    `json:"dependencies"`
	OptionalDependencies Requirements    `json:"optionalDependencies"`
	Dev                  bool            `json:"dev"`
	Optional             bool            `json:"optional"`
	DevOptional          bool            `json:"devOptional"`
	Link                 bool            `json:"link"`
	Workspaces           json.RawMessage `json:"workspaces"`
}

// lockDependency is an entry of the nested "dependencies" section
// (lockfileVersion 1).
type lockDependency struct {
	Version      string                    `json:"version"`
	Requires     Requirements              `json:"requires"`
	Dependencies map[string]lockDependency `json:"dependencies"`
	Dev          bool                      `json:"dev"`
	Optional     bool                      `json:"optional"`
}

// ParseLockfile parses package-lock.json or npm-shrinkwrap.json contents into
// a [Tree]. When both sections are present the "packages" section wins.
func ParseLockfile(data []byte) (*Tree, error) {
	var doc lockDocument
	if err := decode(data, &doc); err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, err, "parse lockfile")
	}
	if len(doc.Packages) > 0 {
		return buildFromPackages(&doc), nil
	}
	return buildFromDependencies(&doc), nil
}

func buildFromPackages(doc *lockDocument) *Tree {
	root := doc.Packages[""]
	name, version := doc.Name, doc.Version
	if root.Name != "" {
		name = root.Name
	}
	if root.Version != "" {
		version = root.Version
	}
	t := newTree(name, version)
	t.LockfileVersion = doc.LockfileVersion
	t.Workspaces = declaresWorkspaces(root.Workspaces)
	t.entries[RootIndex].Requires = root.Dependencies

	paths := make([]string, 0, len(doc.Packages))
	for p := range doc.Packages {
		if p != "" {
			paths = append(paths, p)
		}
	}
	// A parent path is a prefix of its children's paths, so sorting
	// guarantees parents are added first.
	sort.Strings(paths)

	for _, p := range paths {
		parentPath, pkgName, ok := splitInstallPath(p)
		if !ok {
			// Workspace folders and link targets live outside node_modules.
			continue
		}
		parent, ok := t.nearestInstalled(parentPath)
		if !ok {
			continue
		}
		pkg := doc.Packages[p]
		t.add(parent, Entry{
			Name:             pkgName,
			Version:          pkg.Version,
			Path:             p,
			Requires:         pkg.Dependencies,
			OptionalRequires: pkg.OptionalDependencies,
			Dev:              pkg.Dev,
			Optional:         pkg.Optional || pkg.DevOptional,
			Link:             pkg.Link,
		})
	}
	return t
}

// nearestInstalled returns the entry at path, or at the closest enclosing
// install path when npm omitted an intermediate entry. Paths nested in a
// workspace folder have no enclosing entry.
func (t *Tree) nearestInstalled(path string) (int, bool) {
	for {
		if i, ok := t.byPath[path]; ok {
			return i, true
		}
		parent, _, ok := splitInstallPath(path)
		if !ok {
			return 0, false
		}
		path = parent
	}
}

func buildFromDependencies(doc *lockDocument) *Tree {
	t := newTree(doc.Name, doc.Version)
	t.LockfileVersion = doc.LockfileVersion
	t.addDependencies(RootIndex, "", doc.Dependencies)
	return t
}

func (t *Tree) addDependencies(parent int, parentPath string, deps map[string]lockDependency) {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		dep := deps[name]
		path := "node_modules/" + name
		if parentPath != "" {
			path = parentPath + "/" + path
		}
		idx := t.add(parent, Entry{
			Name:     name,
			Version:  dep.Version,
			Path:     path,
			Requires: dep.Requires,
			Dev:      dep.Dev,
			Optional: dep.Optional,
			Link:     strings.HasPrefix(dep.Version, "file:"),
		})
		t.addDependencies(idx, path, dep.Dependencies)
	}
}
