package sourcegraph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/lockcheck/pkg/cache"
	"github.com/matzehuels/lockcheck/pkg/errors"
	"github.com/matzehuels/lockcheck/pkg/workspace"
)

func lockfileQuery() workspace.Query {
	return workspace.Query{
		Pattern:      `"lodash"`,
		FileIncludes: []string{`(^|/)package-lock\.json$`},
		FileExcludes: []string{`node_modules`},
		MaxResults:   100,
	}
}

func TestBuildQuery(t *testing.T) {
	q := lockfileQuery()
	q.RepositoryIncludes = []string{`^github\.com/acme/`, `^github\.com/corp/web$`}

	got := BuildQuery(q)
	assert.Equal(t,
		`content:"\"lodash\"" repo:"(?:^github\\.com/acme/)|(?:^github\\.com/corp/web$)" `+
			`file:"(^|/)package-lock\\.json$" -file:"node_modules" count:100 select:file`,
		got)
}

type fakeSourcegraph struct {
	searches atomic.Int32
	raws     atomic.Int32
	token    atomic.Value
}

func (f *fakeSourcegraph) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/.api/graphql", func(w http.ResponseWriter, r *http.Request) {
		f.searches.Add(1)
		f.token.Store(r.Header.Get("Authorization"))

		var req graphQLRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "FileMatch")
		assert.Contains(t, req.Variables["query"], `content:"\"lodash\""`)

		w.Write([]byte(`{"data":{"search":{"results":{"limitHit":false,"results":[
			{"__typename":"FileMatch","repository":{"name":"github.com/acme/web"},
			 "file":{"path":"package-lock.json","commit":{"oid":"abc123"}},
			 "lineMatches":[{"preview":"    \"lodash\": \"^4.0.0\"","lineNumber":6}]},
			{"__typename":"Repository"},
			{"__typename":"FileMatch","repository":{"name":"github.com/acme/api"},
			 "file":{"path":"svc/package-lock.json","commit":{"oid":"def456"}},
			 "lineMatches":[]}
		]}}}}`))
	})
	mux.HandleFunc("/github.com/acme/web@abc123/-/raw/package.json", func(w http.ResponseWriter, r *http.Request) {
		f.raws.Add(1)
		w.Write([]byte(`{"dependencies":{"lodash":"^4.0.0"}}`))
	})
	return mux
}

func TestClientSearch(t *testing.T) {
	fake := &fakeSourcegraph{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := NewClient(nil, Config{Endpoint: srv.URL + "/", Token: "secret"})
	c.SetHTTPClient(srv.Client())

	matches, err := c.Search(context.Background(), lockfileQuery())
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, srv.URL+"/github.com/acme/web@abc123/-/raw/package-lock.json", matches[0].URI)
	assert.Equal(t, 7, matches[0].Line)
	assert.Equal(t, `"lodash": "^4.0.0"`, matches[0].Preview)
	assert.Equal(t, srv.URL+"/github.com/acme/api@def456/-/raw/svc/package-lock.json", matches[1].URI)
	assert.Equal(t, "token secret", fake.token.Load())
}

func TestClientSearchMaxResults(t *testing.T) {
	fake := &fakeSourcegraph{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := NewClient(nil, Config{Endpoint: srv.URL})
	c.SetHTTPClient(srv.Client())

	q := lockfileQuery()
	q.MaxResults = 1
	matches, err := c.Search(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestClientSearchIsCached(t *testing.T) {
	fake := &fakeSourcegraph{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	store, err := cache.NewFileCache(t.TempDir())
	require.NoError(t, err)
	c := NewClient(store, Config{Endpoint: srv.URL, CacheTTL: time.Hour})
	c.SetHTTPClient(srv.Client())

	for range 3 {
		_, err := c.Search(context.Background(), lockfileQuery())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), fake.searches.Load())

	refreshing := NewClient(store, Config{Endpoint: srv.URL, CacheTTL: time.Hour, Refresh: true})
	refreshing.SetHTTPClient(srv.Client())
	_, err = refreshing.Search(context.Background(), lockfileQuery())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.searches.Load())
}

func TestClientSearchGraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"invalid query"}]}`))
	}))
	defer srv.Close()

	c := NewClient(nil, Config{Endpoint: srv.URL})
	c.SetHTTPClient(srv.Client())

	_, err := c.Search(context.Background(), lockfileQuery())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	assert.Contains(t, err.Error(), "invalid query")
}

func TestClientSearchUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(nil, Config{Endpoint: srv.URL})
	c.SetHTTPClient(srv.Client())

	_, err := c.Search(context.Background(), lockfileQuery())
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidConfig), "got %v", err)
}

func TestClientSearchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(nil, Config{Endpoint: srv.URL})
	c.SetHTTPClient(srv.Client())

	_, err := c.Search(context.Background(), lockfileQuery())
	assert.True(t, errors.Is(err, errors.ErrCodeNetwork), "got %v", err)
}

func TestClientFetch(t *testing.T) {
	fake := &fakeSourcegraph{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	store, err := cache.NewFileCache(t.TempDir())
	require.NoError(t, err)
	c := NewClient(store, Config{Endpoint: srv.URL})
	c.SetHTTPClient(srv.Client())

	uri := c.RawURL("github.com/acme/web", "abc123", "package.json")
	for range 2 {
		doc, err := c.Fetch(context.Background(), uri)
		require.NoError(t, err)
		assert.Equal(t, `{"dependencies":{"lodash":"^4.0.0"}}`, doc.Text)
		assert.Equal(t, uri, doc.URI)
	}
	assert.Equal(t, int32(1), fake.raws.Load())

	_, err = c.Fetch(context.Background(), c.RawURL("github.com/acme/web", "abc123", "missing.json"))
	assert.True(t, errors.Is(err, errors.ErrCodeFileNotFound))

	_, err = c.Fetch(context.Background(), "https://elsewhere.example/package.json")
	assert.True(t, errors.Is(err, errors.ErrCodeUnsupported))
}

func TestRawURL(t *testing.T) {
	c := NewClient(nil, Config{Endpoint: "https://sg.example/"})
	assert.Equal(t, "https://sg.example/github.com/a/b@main/-/raw/x/package.json", c.RawURL("github.com/a/b", "main", "/x/package.json"))
	assert.Equal(t, "https://sg.example/github.com/a/b/-/raw/package.json", c.RawURL("github.com/a/b", "", "package.json"))
	assert.True(t, strings.HasPrefix(NewClient(nil, Config{}).Endpoint(), DefaultEndpoint))
}
