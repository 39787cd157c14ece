// Package httputil provides retry support for code host API clients.
//
// [RetryWithBackoff] re-runs an operation that failed with a [RetryableError]:
//
//   - network errors
//   - 5xx server errors
//   - 429 rate limit responses, honoring Retry-After
//
// Any other error is returned immediately:
//
//	err := httputil.RetryWithBackoff(ctx, func() error {
//	    return client.Get(ctx, url, &v)
//	})
//
// Defaults: 3 attempts, 1 second initial delay, doubling after each attempt.
package httputil
