// Package versionrange decides whether a concrete npm version satisfies a
// semantic-version range.
//
// Ranges use npm syntax (^1.2.0, ~1.2, >=1 <2, 1.x, 1.2.3 - 2.0.0, a || b) and
// are evaluated by [github.com/Masterminds/semver/v3]. Versions must be full
// semantic versions; a leading "v" or "=" is accepted, as npm does.
//
// Prerelease versions follow npm: 1.3.0-beta only satisfies an alternative
// of the range that names a 1.3.0 prerelease itself, so ^1.2.3-alpha admits
// 1.2.3-beta but not 1.5.0-beta. Within such an alternative every comparator
// must also carry a prerelease; >=1.2.3-alpha <1.3.0 rejects 1.2.3-beta
// where npm would accept it.
package versionrange

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/matzehuels/lockcheck/pkg/errors"
)

// Range is a parsed version range. The zero value is not usable; use ParseRange.
type Range struct {
	raw  string
	alts []alternative
}

// alternative is one "||" branch of a range.
type alternative struct {
	c   *semver.Constraints
	pre []*semver.Version // comparator versions carrying a prerelease tag
}

// prereleaseRegex finds comparator versions with a prerelease tag.
var prereleaseRegex = regexp.MustCompile(`v?\d+\.\d+\.\d+-[0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*`)

// admits reports whether a prerelease of v's major.minor.patch may match.
func (a alternative) admits(v *semver.Version) bool {
	for _, p := range a.pre {
		if p.Major() == v.Major() && p.Minor() == v.Minor() && p.Patch() == v.Patch() {
			return true
		}
	}
	return false
}

// ParseRange parses an npm range. An empty range means any version.
// Malformed ranges return an INVALID_RANGE error.
func ParseRange(rng string) (*Range, error) {
	raw := strings.TrimSpace(rng)
	expr := raw
	if expr == "" {
		expr = "*"
	}
	if _, err := semver.NewConstraint(expr); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidRange, err, "invalid version range %q", rng)
	}

	r := &Range{raw: raw}
	for _, part := range strings.Split(expr, "||") {
		part = strings.TrimSpace(part)
		if part == "" {
			part = "*"
		}
		c, err := semver.NewConstraint(part)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidRange, err, "invalid version range %q", rng)
		}
		alt := alternative{c: c}
		for _, m := range prereleaseRegex.FindAllString(part, -1) {
			if v, err := semver.NewVersion(m); err == nil {
				alt.pre = append(alt.pre, v)
			}
		}
		r.alts = append(r.alts, alt)
	}
	return r, nil
}

// String returns the range as given.
func (r *Range) String() string { return r.raw }

// Contains reports whether version is inside the range.
// Malformed versions return an INVALID_VERSION error.
func (r *Range) Contains(version string) (bool, error) {
	v, err := ParseVersion(version)
	if err != nil {
		return false, err
	}
	for _, alt := range r.alts {
		if v.Prerelease() != "" && !alt.admits(v) {
			continue
		}
		if alt.c.Check(v) {
			return true, nil
		}
	}
	return false, nil
}

// ParseVersion parses a concrete version the way npm's semver.clean does
// before comparing: surrounding whitespace and a single "v" or "=" prefix
// are dropped, the remainder must be strict semver.
func ParseVersion(version string) (*semver.Version, error) {
	s := strings.TrimSpace(version)
	s = strings.TrimPrefix(s, "=")
	s = strings.TrimPrefix(s, "v")
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidVersion, err, "invalid version %q", version)
	}
	return v, nil
}

// Satisfies reports whether version falls inside rng.
//
// The range is checked before the version, so an input where both are
// malformed always fails with INVALID_RANGE.
func Satisfies(version, rng string) (bool, error) {
	r, err := ParseRange(rng)
	if err != nil {
		return false, err
	}
	return r.Contains(version)
}
