// Package httputil provides fetch helpers shared by repository clients and
// the transitive resolution engine.
//
// # Overview
//
//   - [Retry]: bounded retry with exponential backoff for transient failures
//   - [Cache]: file-based cache of fetched documents (POMs, metadata)
//
// # Retry
//
// Only errors wrapped in [RetryableError] are retried. Repository clients
// wrap connection failures, per-attempt timeouts, 5xx and 429 responses;
// a 404 is never wrapped, so fallback to the next repository is immediate:
//
//	err := httputil.Retry(ctx, httputil.Policy{Attempts: 3, Delay: time.Second}, func() error {
//	    data, err = fetch(ctx)
//	    return err
//	})
//
// # Caching
//
// [Cache] stores documents under a directory keyed by SHA-256 of the cache
// key, with an optional TTL. The engine keeps release POMs for as long as
// the cache directory lives; SNAPSHOT metadata uses a short TTL.
package httputil
