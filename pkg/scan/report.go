package scan

import (
	"time"

	"github.com/matzehuels/lockcheck/pkg/lockfile"
	"github.com/matzehuels/lockcheck/pkg/workspace"
)

// PackageJSONPackage is a package.json and the lockfile beside it.
type PackageJSONPackage struct {
	Manifest workspace.Document `json:"manifest" yaml:"manifest"`
	Lockfile workspace.Document `json:"lockfile" yaml:"lockfile"`
}

// Status is the result of checking one pair.
type Status string

const (
	StatusUnsatisfied Status = "unsatisfied" // installed version outside the range
	StatusSatisfied   Status = "satisfied"
	StatusNotFound    Status = "not-found" // package not installed by this project
	StatusError       Status = "error"     // pair could not be checked
)

// Outcome is the result of checking one lockfile.
type Outcome struct {
	Lockfile   string               `json:"lockfile" yaml:"lockfile"`
	Manifest   string               `json:"manifest" yaml:"manifest"`
	Status     Status               `json:"status" yaml:"status"`
	Dependency *lockfile.Dependency `json:"dependency,omitempty" yaml:"dependency,omitempty"`
	Error      string               `json:"error,omitempty" yaml:"error,omitempty"`
	Code       string               `json:"code,omitempty" yaml:"code,omitempty"`

	// Package holds the fetched documents. It is empty when fetching failed.
	Package PackageJSONPackage `json:"-" yaml:"-"`
}

// Report is the result of a scan.
type Report struct {
	ID         string        `json:"id" yaml:"id"`
	Package    string        `json:"package" yaml:"package"`
	Range      string        `json:"range" yaml:"range"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
	Candidates int           `json:"candidates" yaml:"candidates"`
	Outcomes   []Outcome     `json:"outcomes" yaml:"outcomes"`
}

// Count returns how many outcomes have status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Counts returns the number of outcomes per status.
func (r *Report) Counts() map[Status]int {
	counts := map[Status]int{
		StatusUnsatisfied: 0,
		StatusSatisfied:   0,
		StatusNotFound:    0,
		StatusError:       0,
	}
	for _, o := range r.Outcomes {
		counts[o.Status]++
	}
	return counts
}

// Unsatisfied returns the pairs whose installed version is outside the range,
// in lockfile URI order.
func (r *Report) Unsatisfied() []PackageJSONPackage {
	var out []PackageJSONPackage
	for _, o := range r.Outcomes {
		if o.Status == StatusUnsatisfied {
			out = append(out, o.Package)
		}
	}
	return out
}

// Find returns the outcome for a lockfile URI.
func (r *Report) Find(lockfileURI string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Lockfile == lockfileURI {
			return o, true
		}
	}
	return Outcome{}, false
}
