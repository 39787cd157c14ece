package sourcegraph

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/matzehuels/lockcheck/pkg/cache"
	"github.com/matzehuels/lockcheck/pkg/errors"
	"github.com/matzehuels/lockcheck/pkg/integrations"
	"github.com/matzehuels/lockcheck/pkg/workspace"
)

// DefaultEndpoint is the public Sourcegraph instance.
const DefaultEndpoint = "https://sourcegraph.com"

const searchQuery = `query Search($query: String!) {
  search(query: $query, version: V3, patternType: regexp) {
    results {
      limitHit
      results {
        __typename
        ... on FileMatch {
          repository { name }
          file { path commit { oid } }
          lineMatches { preview lineNumber }
        }
      }
    }
  }
}`

// Config configures a [Client].
type Config struct {
	Endpoint string        // base URL, defaults to DefaultEndpoint
	Token    string        // access token, optional for public code
	CacheTTL time.Duration // lifetime of cached search results
	Refresh  bool          // bypass cached search results
}

// Client is a Sourcegraph API client.
type Client struct {
	*integrations.Client
	endpoint string
	refresh  bool
}

// NewClient creates a client. A nil cache disables caching.
func NewClient(c cache.Cache, cfg Config) *Client {
	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	var headers map[string]string
	keyer := cache.NewScopedKeyer(nil, "anon:")
	if cfg.Token != "" {
		headers = map[string]string{"Authorization": "token " + cfg.Token}
		keyer = cache.NewScopedKeyer(nil, "token:"+cache.Hash([]byte(cfg.Token))[:12]+":")
	}
	return &Client{
		Client:   integrations.NewClient(c, "sourcegraph:"+endpoint, cfg.CacheTTL, headers).WithKeyer(keyer),
		endpoint: endpoint,
		refresh:  cfg.Refresh,
	}
}

// Endpoint returns the base URL the client talks to.
func (c *Client) Endpoint() string { return c.endpoint }

// Search runs q as a regexp search and returns one match per file,
// limited to q.MaxResults.
func (c *Client) Search(ctx context.Context, q workspace.Query) ([]workspace.Match, error) {
	query := BuildQuery(q)
	key := "search:" + cache.Hash([]byte(query))

	var matches []workspace.Match
	err := c.Cached(ctx, key, c.refresh, &matches, func() error {
		var err error
		matches, err = c.search(ctx, query)
		return err
	})
	if err != nil {
		return nil, wrapErr(err, "search %s", c.endpoint)
	}
	if q.MaxResults > 0 && len(matches) > q.MaxResults {
		matches = matches[:q.MaxResults]
	}
	return matches, nil
}

func (c *Client) search(ctx context.Context, query string) ([]workspace.Match, error) {
	req := graphQLRequest{Query: searchQuery, Variables: map[string]any{"query": query}}
	var resp searchResponse
	if err := c.PostJSON(ctx, c.endpoint+"/.api/graphql", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			msgs[i] = e.Message
		}
		return nil, errors.New(errors.ErrCodeInvalidInput, "graphql: %s", strings.Join(msgs, "; "))
	}

	var matches []workspace.Match
	for _, r := range resp.Data.Search.Results.Results {
		if r.Typename != "FileMatch" {
			continue
		}
		m := workspace.Match{URI: c.RawURL(r.Repository.Name, r.File.Commit.OID, r.File.Path)}
		if len(r.LineMatches) > 0 {
			m.Preview = strings.TrimSpace(r.LineMatches[0].Preview)
			m.Line = r.LineMatches[0].LineNumber + 1
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Fetch returns the contents of a raw file URL on this endpoint.
func (c *Client) Fetch(ctx context.Context, uri string) (workspace.Document, error) {
	if !strings.HasPrefix(uri, c.endpoint+"/") {
		return workspace.Document{}, errors.New(errors.ErrCodeUnsupported, "%s is not on %s", uri, c.endpoint)
	}
	var text string
	// Raw URLs are pinned to a commit, so a cached copy is always current.
	err := c.Cached(ctx, "raw:"+uri, false, &text, func() error {
		var err error
		text, err = c.GetText(ctx, uri)
		return err
	})
	if err != nil {
		return workspace.Document{}, wrapErr(err, "fetch %s", uri)
	}
	return workspace.Document{URI: uri, Text: text}, nil
}

// RawURL returns the raw file URL of path in repo at rev.
func (c *Client) RawURL(repo, rev, path string) string {
	u := c.endpoint + "/" + repo
	if rev != "" {
		u += "@" + rev
	}
	return u + "/-/raw/" + strings.TrimPrefix(path, "/")
}

// BuildQuery translates q into Sourcegraph query syntax. Each include list
// becomes one alternation filter; each exclude becomes its own negated filter.
func BuildQuery(q workspace.Query) string {
	parts := []string{"content:" + strconv.Quote(q.Pattern)}
	if len(q.RepositoryIncludes) > 0 {
		parts = append(parts, "repo:"+strconv.Quote(alternation(q.RepositoryIncludes)))
	}
	if len(q.FileIncludes) > 0 {
		parts = append(parts, "file:"+strconv.Quote(alternation(q.FileIncludes)))
	}
	for _, ex := range q.FileExcludes {
		parts = append(parts, "-file:"+strconv.Quote(ex))
	}
	if q.MaxResults > 0 {
		parts = append(parts, "count:"+strconv.Itoa(q.MaxResults))
	}
	parts = append(parts, "select:file")
	return strings.Join(parts, " ")
}

func alternation(exprs []string) string {
	if len(exprs) == 1 {
		return exprs[0]
	}
	wrapped := make([]string, len(exprs))
	for i, e := range exprs {
		wrapped[i] = "(?:" + e + ")"
	}
	return strings.Join(wrapped, "|")
}

func wrapErr(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	var rl *errors.RateLimitedError
	switch {
	case errors.GetCode(err) != "":
		return err
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(errors.ErrCodeTimeout, err, "%s", msg)
	case stderrors.Is(err, integrations.ErrUnauthorized):
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "%s: check the access token", msg)
	case stderrors.Is(err, integrations.ErrNotFound):
		return errors.Wrap(errors.ErrCodeFileNotFound, err, "%s", msg)
	case stderrors.As(err, &rl):
		return errors.Wrap(errors.ErrCodeRateLimited, err, "%s", msg)
	default:
		return errors.Wrap(errors.ErrCodeNetwork, err, "%s", msg)
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type searchResponse struct {
	Data struct {
		Search struct {
			Results struct {
				LimitHit bool          `json:"limitHit"`
				Results  []searchMatch `json:"results"`
			} `json:"results"`
		} `json:"search"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type searchMatch struct {
	Typename   string `json:"__typename"`
	Repository struct {
		Name string `json:"name"`
	} `json:"repository"`
	File struct {
		Path   string `json:"path"`
		Commit struct {
			OID string `json:"oid"`
		} `json:"commit"`
	} `json:"file"`
	LineMatches []struct {
		Preview    string `json:"preview"`
		LineNumber int    `json:"lineNumber"`
	} `json:"lineMatches"`
}

var (
	_ workspace.Searcher = (*Client)(nil)
	_ workspace.Fetcher  = (*Client)(nil)
)
