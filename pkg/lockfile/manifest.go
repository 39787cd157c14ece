package lockfile

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tailscale/hujson"

	"github.com/matzehuels/lockcheck/pkg/errors"
)

// Requirement is a declared dependency: a package name and the range it
// must satisfy.
type Requirement struct {
	Name  string `json:"name" yaml:"name"`
	Range string `json:"range" yaml:"range"`
}

// Requirements is a JSON object of name to range, kept in declaration order.
type Requirements []Requirement

// UnmarshalJSON decodes an object of string values without losing member order.
func (r *Requirements) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}
	var out Requirements
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var rng string
		if err := dec.Decode(&rng); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, Requirement{Name: name, Range: rng})
	}
	*r = out
	return nil
}

// Get returns the range declared for name.
func (r Requirements) Get(name string) (string, bool) {
	for _, req := range r {
		if req.Name == name {
			return req.Range, true
		}
	}
	return "", false
}

// Manifest is a parsed package.json.
type Manifest struct {
	Name                 string          `json:"name"`
	Version              string          `json:"version"`
	Dependencies         Requirements    `json:"dependencies"`
	DevDependencies      Requirements    `json:"devDependencies"`
	PeerDependencies     Requirements    `json:"peerDependencies"`
	OptionalDependencies Requirements    `json:"optionalDependencies"`
	Workspaces           json.RawMessage `json:"workspaces"`
}

// HasWorkspaces reports whether the manifest declares npm workspaces.
func (m *Manifest) HasWorkspaces() bool {
	return declaresWorkspaces(m.Workspaces)
}

// declaresWorkspaces reports whether a "workspaces" value names at least one
// workspace: a non-empty array of globs, or an object whose "packages" array
// is non-empty. Empty and malformed values declare none.
func declaresWorkspaces(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	var globs []json.RawMessage
	if raw[0] == '{' {
		var obj struct {
			Packages []json.RawMessage `json:"packages"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return false
		}
		globs = obj.Packages
	} else if err := json.Unmarshal(raw, &globs); err != nil {
		return false
	}
	return len(globs) > 0
}

// RootEdges returns the dependencies the project installs itself, in the
// order npm's logical tree visits them: devDependencies, optionalDependencies,
// then dependencies. A name declared in several groups appears once, at its
// first position. Peer dependencies are not installed by the project and are
// left out.
func (m *Manifest) RootEdges() Requirements {
	seen := make(map[string]bool)
	var out Requirements
	for _, group := range []Requirements{m.DevDependencies, m.OptionalDependencies, m.Dependencies} {
		for _, req := range group {
			if seen[req.Name] {
				continue
			}
			seen[req.Name] = true
			out = append(out, req)
		}
	}
	return out
}

// isOptional reports whether name is only declared as an optional dependency.
func (m *Manifest) isOptional(name string) bool {
	if _, ok := m.OptionalDependencies.Get(name); !ok {
		return false
	}
	_, dep := m.Dependencies.Get(name)
	_, dev := m.DevDependencies.Get(name)
	return !dep && !dev
}

// ParseManifest parses package.json contents.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := decode(data, &m); err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, err, "parse package.json")
	}
	return &m, nil
}

// decode standardizes JSON-with-comments input and unmarshals it into v.
// The document must be a JSON object.
func decode(data []byte, v any) error {
	std, err := hujson.Standardize(bytes.Clone(data))
	if err != nil {
		return err
	}
	std = bytes.TrimSpace(std)
	if len(std) == 0 || std[0] != '{' {
		return fmt.Errorf("expected a JSON object")
	}
	return json.Unmarshal(std, v)
}
