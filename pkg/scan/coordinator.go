package scan

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/lockcheck/pkg/errors"
	"github.com/matzehuels/lockcheck/pkg/lockfile"
	"github.com/matzehuels/lockcheck/pkg/observability"
	"github.com/matzehuels/lockcheck/pkg/versionrange"
	"github.com/matzehuels/lockcheck/pkg/workspace"
)

const (
	DefaultMaxResults  = 100
	DefaultConcurrency = 8

	manifestName   = "package.json"
	lockfileName   = "package-lock.json"
	shrinkwrapName = "npm-shrinkwrap.json"
)

// Options configures a [Coordinator].
type Options struct {
	// MaxResults caps the number of lockfiles a search may return.
	// Zero or negative selects DefaultMaxResults; a scan is never unbounded.
	MaxResults int
	// Concurrency caps the number of pairs checked at once.
	Concurrency int
	// IncludeShrinkwrap also scans npm-shrinkwrap.json files.
	IncludeShrinkwrap bool
	// Traversal selects how the lock tree is walked.
	Traversal lockfile.Traversal
	// Repositories restricts the search to matching repositories (regexes).
	Repositories []string
}

// WithDefaults returns a copy of o with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	if o.MaxResults <= 0 {
		o.MaxResults = DefaultMaxResults
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

// Coordinator runs scans against a searcher and a fetcher.
// It holds no per-scan state and is safe for concurrent use.
type Coordinator struct {
	Searcher workspace.Searcher
	Fetcher  workspace.Fetcher
	Options  Options
	Logger   *log.Logger
}

// NewCoordinator creates a coordinator. A nil logger uses log.Default().
func NewCoordinator(s workspace.Searcher, f workspace.Fetcher, opts Options, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		Searcher: s,
		Fetcher:  f,
		Options:  opts.WithDefaults(),
		Logger:   logger,
	}
}

// FindUnsatisfied returns every package.json / lockfile pair whose installed
// version of name is outside versionRange, ordered by lockfile URI.
// Pairs that do not install name are left out.
func (c *Coordinator) FindUnsatisfied(ctx context.Context, name, versionRange string) ([]PackageJSONPackage, error) {
	r, err := c.Scan(ctx, name, versionRange)
	if err != nil {
		return nil, err
	}
	return r.Unsatisfied(), nil
}

// Scan checks every candidate lockfile and reports the outcome of each.
func (c *Coordinator) Scan(ctx context.Context, name, versionRange string) (r *Report, err error) {
	rng, err := versionrange.ParseRange(versionRange)
	if err != nil {
		return nil, err
	}
	if err := errors.ValidateNpmPackageName(name); err != nil {
		return nil, err
	}

	opts := c.Options.WithDefaults()
	start := time.Now()
	hooks := observability.Scan()
	hooks.OnScanStart(ctx, name, rng.String())
	defer func() {
		candidates, unsatisfied := 0, 0
		if r != nil {
			candidates, unsatisfied = r.Candidates, r.Count(StatusUnsatisfied)
		}
		hooks.OnScanComplete(ctx, name, candidates, unsatisfied, time.Since(start), err)
	}()

	matches, err := c.Searcher.Search(ctx, c.query(name, opts))
	if err != nil {
		return nil, fmt.Errorf("search lockfiles: %w", err)
	}
	if len(matches) > opts.MaxResults {
		matches = matches[:opts.MaxResults]
	}
	c.Logger.Debug("search complete", "package", name, "candidates", len(matches))

	outcomes, err := c.checkAll(ctx, matches, name, rng, opts)
	if err != nil {
		return nil, err
	}

	r = &Report{
		ID:         uuid.NewString(),
		Package:    name,
		Range:      rng.String(),
		StartedAt:  start,
		Duration:   time.Since(start),
		Candidates: len(matches),
		Outcomes:   outcomes,
	}
	c.Logger.Info("scan complete",
		"package", name,
		"range", rng.String(),
		"candidates", r.Candidates,
		"unsatisfied", r.Count(StatusUnsatisfied),
		"errors", r.Count(StatusError),
		"duration", r.Duration)
	return r, nil
}

func (c *Coordinator) query(name string, opts Options) workspace.Query {
	includes := []string{`(^|/)package-lock\.json$`}
	if opts.IncludeShrinkwrap {
		includes = append(includes, `(^|/)npm-shrinkwrap\.json$`)
	}
	return workspace.Query{
		Pattern:            regexp.QuoteMeta(`"` + name + `"`),
		FileIncludes:       includes,
		FileExcludes:       []string{`node_modules`},
		RepositoryIncludes: opts.Repositories,
		MaxResults:         opts.MaxResults,
	}
}

func (c *Coordinator) checkAll(ctx context.Context, matches []workspace.Match, name string, rng *versionrange.Range, opts Options) ([]Outcome, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	var (
		mu       sync.Mutex
		outcomes = make([]Outcome, 0, len(matches))
	)
	for _, m := range matches {
		g.Go(func() error {
			start := time.Now()
			o := c.check(gctx, m.URI, name, rng, opts)
			if err := gctx.Err(); err != nil {
				return err
			}
			observability.Scan().OnPairChecked(gctx, m.URI, string(o.Status), time.Since(start))

			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(outcomes, func(a, b Outcome) int {
		return strings.Compare(a.Lockfile, b.Lockfile)
	})
	return outcomes, nil
}

// check never returns an error: failures become StatusError outcomes.
func (c *Coordinator) check(ctx context.Context, lockURI, name string, rng *versionrange.Range, opts Options) Outcome {
	o := Outcome{Lockfile: lockURI}

	manifestURI, ok := ManifestURI(lockURI)
	if !ok {
		return c.fail(o, errors.New(errors.ErrCodeInvalidInput, "%s is not a lockfile", lockURI))
	}
	o.Manifest = manifestURI

	pkg, err := c.fetchPair(ctx, manifestURI, lockURI)
	if err != nil {
		return c.fail(o, err)
	}
	o.Package = pkg

	dep, found, err := lockfile.Resolve(pkg.Manifest.Text, pkg.Lockfile.Text, name, lockfile.Options{Traversal: opts.Traversal})
	if err != nil {
		return c.fail(o, err)
	}
	if !found {
		o.Status = StatusNotFound
		return o
	}
	o.Dependency = &dep

	ok, err = rng.Contains(dep.Version)
	if err != nil {
		return c.fail(o, err)
	}
	if ok {
		o.Status = StatusSatisfied
	} else {
		o.Status = StatusUnsatisfied
	}
	return o
}

func (c *Coordinator) fetchPair(ctx context.Context, manifestURI, lockURI string) (PackageJSONPackage, error) {
	var pkg PackageJSONPackage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		doc, err := c.Fetcher.Fetch(gctx, manifestURI)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", manifestURI, err)
		}
		pkg.Manifest = doc
		return nil
	})
	g.Go(func() error {
		doc, err := c.Fetcher.Fetch(gctx, lockURI)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", lockURI, err)
		}
		pkg.Lockfile = doc
		return nil
	})
	if err := g.Wait(); err != nil {
		return PackageJSONPackage{}, err
	}
	return pkg, nil
}

func (c *Coordinator) fail(o Outcome, err error) Outcome {
	o.Status = StatusError
	o.Error = errors.UserMessage(err)
	o.Code = string(errors.GetCode(err))
	c.Logger.Error("check failed",
		"lockfile", o.Lockfile,
		"manifest", o.Manifest,
		"err", err,
		"lockfile_text", o.Package.Lockfile.Text,
		"manifest_text", o.Package.Manifest.Text)
	o.Package = PackageJSONPackage{}
	return o
}

// ManifestURI returns the URI of the package.json next to a lockfile.
func ManifestURI(lockURI string) (string, bool) {
	for _, base := range []string{lockfileName, shrinkwrapName} {
		if lockURI == base {
			return manifestName, true
		}
		if dir, ok := strings.CutSuffix(lockURI, "/"+base); ok {
			return dir + "/" + manifestName, true
		}
	}
	return "", false
}
