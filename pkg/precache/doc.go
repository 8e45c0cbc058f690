// Package precache provides parallel fetching of the essential asset list.
//
// The install step of the cache agent must fetch every essential asset before the
// new generation can take over. Assets are independent: each one succeeds or
// fails on its own and a failure never cancels the rest. This package implements
// a worker pool that runs every asset to completion and reports one Result per
// asset, in input order.
//
// Example usage:
//
//	config := precache.DefaultConfig()
//	fetcher := precache.NewFetcher(precache.AssetFetcherFunc(store), config)
//	results := fetcher.FetchAll(ctx, []string{"/", "/manifest.json"})
//	summary := precache.Summarize(results)
//
// The fetcher:
//   - Spawns a bounded worker pool (default 4 workers)
//   - Applies a per-asset timeout (default 15s)
//   - Never retries a failed asset
//   - Stops handing out assets once the context is cancelled; those report ctx.Err()
package precache
