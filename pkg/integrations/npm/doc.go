// Package npm provides an HTTP client for the npm registry API.
//
// # Overview
//
// This package lists the published versions of a package so an upgrade can
// pin a concrete version when the user only gives a range:
//
//	client := npm.NewClient(store, "", 24*time.Hour)
//	version, err := client.ResolveVersion(ctx, "lodash", "^4.17.0", false)
//
// # Version Selection
//
// An empty range or "latest" selects the "latest" dist-tag. Any other range
// selects the highest published version inside it, skipping deprecated
// releases and versions that are not strict semver.
//
// # Caching
//
// Responses are cached to reduce load on the registry. The cache TTL is set
// when creating the client. Pass refresh=true to bypass the cache.
// Requests use the abbreviated install metadata format.
package npm
