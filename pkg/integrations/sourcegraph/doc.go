// Package sourcegraph searches and reads code hosted behind a
// Sourcegraph-compatible API.
//
// # Usage
//
//	client := sourcegraph.NewClient(store, sourcegraph.Config{
//	    Endpoint: "https://sourcegraph.com",
//	    Token:    os.Getenv("SRC_ACCESS_TOKEN"),
//	})
//	matches, err := client.Search(ctx, workspace.Query{...})
//	doc, err := client.Fetch(ctx, matches[0].URI)
//
// [Client] implements both [workspace.Searcher] and [workspace.Fetcher], so a
// scan can run against a remote code host without a checkout.
//
// # URIs
//
// Match URIs are raw file URLs pinned to the commit the search saw:
//
//	<endpoint>/<repo>@<commit>/-/raw/<path>
//
// Pinning keeps a manifest and its lockfile from being read at different
// revisions.
//
// # Caching
//
// Search results and file contents are cached under keys scoped to the
// endpoint and token. Raw URLs include the commit, so cached file contents
// never go stale.
//
// [workspace.Searcher]: github.com/matzehuels/lockcheck/pkg/workspace.Searcher
// [workspace.Fetcher]: github.com/matzehuels/lockcheck/pkg/workspace.Fetcher
package sourcegraph
