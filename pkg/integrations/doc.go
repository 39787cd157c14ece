// Package integrations provides HTTP clients for code host APIs.
//
// # Overview
//
// Scans can read a codebase hosted remotely instead of a local checkout.
// Each host has its own subpackage:
//
//   - [sourcegraph]: Sourcegraph-compatible code search and raw file API
//   - [npm]: registry metadata for picking upgrade versions
//
// # Shared Infrastructure
//
// The [Client] type provides shared HTTP functionality used by all host
// clients:
//
//   - Response caching via [cache.Cache] with a configurable TTL
//   - Retry with exponential backoff for network errors, 5xx and 429
//   - Default headers (authentication tokens)
//   - Request events for [observability.HTTPHooks]
//
// Example:
//
//	c := integrations.NewClient(store, "sourcegraph", time.Hour, map[string]string{
//	    "Authorization": "token " + token,
//	})
//	err := c.Cached(ctx, key, false, &v, func() error {
//	    return c.PostJSON(ctx, endpoint, query, &v)
//	})
//
// [sourcegraph]: github.com/matzehuels/lockcheck/pkg/integrations/sourcegraph
// [npm]: github.com/matzehuels/lockcheck/pkg/integrations/npm
// [cache.Cache]: github.com/matzehuels/lockcheck/pkg/cache.Cache
// [observability.HTTPHooks]: github.com/matzehuels/lockcheck/pkg/observability.HTTPHooks
package integrations
