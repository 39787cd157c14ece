package workspace

import (
	"bytes"
	"context"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"

	"github.com/matzehuels/lockcheck/pkg/errors"
)

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
}

// LocalSearcher searches directories on disk. Each root is one repository,
// named by its base name for RepositoryIncludes. File patterns are matched
// against the slash-separated path relative to the root.
type LocalSearcher struct {
	Roots   []string
	Exclude []string // doublestar globs relative to each root, e.g. "fixtures/**"
	Logger  *log.Logger
}

// NewLocalSearcher creates a searcher over roots.
func NewLocalSearcher(roots []string, exclude []string, logger *log.Logger) *LocalSearcher {
	if logger == nil {
		logger = log.Default()
	}
	return &LocalSearcher{Roots: roots, Exclude: exclude, Logger: logger}
}

// Search walks every root in lexical order and stops at q.MaxResults.
func (s *LocalSearcher) Search(ctx context.Context, q Query) ([]Match, error) {
	cq, err := compileQuery(q)
	if err != nil {
		return nil, err
	}
	for _, g := range s.Exclude {
		if !doublestar.ValidatePattern(g) {
			return nil, errors.New(errors.ErrCodeInvalidConfig, "invalid exclude glob %q", g)
		}
	}

	var matches []Match
	for _, root := range s.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "resolve root %s", root)
		}
		if !cq.repositoryAllowed(filepath.Base(abs)) {
			continue
		}
		found, err := s.searchRoot(ctx, abs, cq, q.MaxResults-len(matches))
		if err != nil {
			return nil, err
		}
		matches = append(matches, found...)
		if q.MaxResults > 0 && len(matches) >= q.MaxResults {
			break
		}
	}
	return matches, nil
}

func (s *LocalSearcher) searchRoot(ctx context.Context, root string, cq *compiledQuery, limit int) ([]Match, error) {
	var matches []Match
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger().Debug("skipping unreadable path", "path", path, "err", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if path != root && (skipDirs[d.Name()] || s.excluded(rel)) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || s.excluded(rel) || !cq.fileAllowed(rel) {
			return nil
		}
		m, ok, err := cq.matchFile(path)
		if err != nil {
			s.logger().Debug("skipping unreadable file", "path", path, "err", err)
			return nil
		}
		if ok {
			matches = append(matches, m)
			if limit > 0 && len(matches) >= limit {
				return fs.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *LocalSearcher) excluded(rel string) bool {
	for _, g := range s.Exclude {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

func (s *LocalSearcher) logger() *log.Logger {
	if s.Logger == nil {
		return log.Default()
	}
	return s.Logger
}

type compiledQuery struct {
	pattern  *regexp.Regexp
	includes []*regexp.Regexp
	excludes []*regexp.Regexp
	repos    []*regexp.Regexp
}

func compileQuery(q Query) (*compiledQuery, error) {
	pattern, err := regexp.Compile(q.Pattern)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid search pattern")
	}
	cq := &compiledQuery{pattern: pattern}
	for _, set := range []struct {
		src []string
		dst *[]*regexp.Regexp
	}{
		{q.FileIncludes, &cq.includes},
		{q.FileExcludes, &cq.excludes},
		{q.RepositoryIncludes, &cq.repos},
	} {
		for _, expr := range set.src {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid file pattern %q", expr)
			}
			*set.dst = append(*set.dst, re)
		}
	}
	return cq, nil
}

func (cq *compiledQuery) fileAllowed(rel string) bool {
	for _, re := range cq.excludes {
		if re.MatchString(rel) {
			return false
		}
	}
	return matchesAny(cq.includes, rel)
}

func (cq *compiledQuery) repositoryAllowed(name string) bool {
	return matchesAny(cq.repos, name)
}

func (cq *compiledQuery) matchFile(path string) (Match, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Match{}, false, err
	}
	loc := cq.pattern.FindIndex(data)
	if loc == nil {
		return Match{}, false, nil
	}
	start := bytes.LastIndexByte(data[:loc[0]], '\n') + 1
	end := len(data)
	if i := bytes.IndexByte(data[loc[0]:], '\n'); i >= 0 {
		end = loc[0] + i
	}
	return Match{
		URI:     FileURI(path),
		Preview: string(bytes.TrimSpace(data[start:end])),
		Line:    bytes.Count(data[:loc[0]], []byte("\n")) + 1,
	}, true, nil
}

// matchesAny reports whether s matches one of res. An empty set matches all.
func matchesAny(res []*regexp.Regexp, s string) bool {
	if len(res) == 0 {
		return true
	}
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// FileURI returns the file:// URI of an absolute path.
func FileURI(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// PathFromURI returns the local path of a file:// URI.
func PathFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidPath, err, "invalid URI %q", uri)
	}
	if u.Scheme != "file" {
		return "", errors.New(errors.ErrCodeUnsupported, "not a local file URI: %s", uri)
	}
	return filepath.FromSlash(u.Path), nil
}

// LocalFetcher reads file:// URIs from disk.
type LocalFetcher struct{}

// Fetch reads the file behind uri.
func (LocalFetcher) Fetch(ctx context.Context, uri string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	path, err := PathFromURI(uri)
	if err != nil {
		return Document{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, errors.Wrap(errors.ErrCodeFileNotFound, err, "%s not found", uri)
		}
		return Document{}, errors.Wrap(errors.ErrCodeInternal, err, "read %s", uri)
	}
	return Document{URI: uri, Text: string(data)}, nil
}
