// Package workspace defines the collaborators a scan reads a codebase
// through: a text [Searcher] that finds candidate files and a [Fetcher]
// that loads their contents.
//
// [LocalSearcher] and [LocalFetcher] serve directories on disk. The
// sourcegraph integration serves a remote code host.
package workspace

import "context"

// Query describes a text search. Pattern, FileIncludes, FileExcludes and
// RepositoryIncludes are regular expressions; a file must match at least
// one include (when any are given) and no exclude.
type Query struct {
	Pattern            string
	FileIncludes       []string
	FileExcludes       []string
	RepositoryIncludes []string
	MaxResults         int
}

// Match is a file containing the pattern.
type Match struct {
	URI     string `json:"uri" yaml:"uri"`
	Preview string `json:"preview" yaml:"preview"` // first matching line
	Line    int    `json:"line" yaml:"line"`       // 1-based
}

// Document is the full text of a file.
type Document struct {
	URI  string `json:"uri" yaml:"uri"`
	Text string `json:"text" yaml:"text"`
}

// Searcher finds files whose contents match a query. Implementations return
// at most one Match per file and never more than MaxResults matches.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Match, error)
}

// Fetcher returns the contents of a file by URI.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (Document, error)
}
