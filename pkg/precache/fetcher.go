package precache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds worker pool configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel asset fetches
	MaxConcurrency int
	// Timeout per asset fetch
	Timeout time.Duration
}

// DefaultConfig returns the default pool configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// AssetFetcher fetches and stores a single asset.
type AssetFetcher interface {
	FetchAsset(ctx context.Context, url string) error
}

// AssetFetcherFunc adapts a function to AssetFetcher.
type AssetFetcherFunc func(ctx context.Context, url string) error

// FetchAsset calls f(ctx, url).
func (f AssetFetcherFunc) FetchAsset(ctx context.Context, url string) error {
	return f(ctx, url)
}

// Result represents the outcome of fetching a single asset
type Result struct {
	URL      string
	Err      error
	Duration time.Duration
}

// OK reports whether the asset was fetched successfully.
func (r Result) OK() bool {
	return r.Err == nil
}

// Summary aggregates a batch of results.
type Summary struct {
	Succeeded int
	Failed    int
	// FailedURLs lists failing assets in input order
	FailedURLs []string
}

// Summarize counts successes and failures.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		if r.OK() {
			s.Succeeded++
			continue
		}
		s.Failed++
		s.FailedURLs = append(s.FailedURLs, r.URL)
	}
	return s
}

// Fetcher runs asset fetches through a bounded worker pool
type Fetcher struct {
	fetcher AssetFetcher
	config  Config
}

// NewFetcher creates a new pool-backed fetcher
func NewFetcher(fetcher AssetFetcher, config Config) *Fetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &Fetcher{
		fetcher: fetcher,
		config:  config,
	}
}

type job struct {
	index int
	url   string
}

// FetchAll fetches every URL and waits for all of them to settle.
// The returned slice has one Result per URL, in the order given.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []Result {
	start := time.Now()
	results := make([]Result, len(urls))
	if len(urls) == 0 {
		return results
	}

	workers := f.config.MaxConcurrency
	if workers > len(urls) {
		workers = len(urls)
	}

	log.Debug().
		Int("assets", len(urls)).
		Int("workers", workers).
		Msg("Starting parallel asset fetch")

	// Fill queue
	queue := make(chan job, len(urls))
	for i, u := range urls {
		queue <- job{index: i, url: u}
	}
	close(queue)

	// Start worker pool
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go f.worker(ctx, queue, results, &wg, i)
	}
	wg.Wait()

	summary := Summarize(results)
	log.Debug().
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Dur("duration", time.Since(start)).
		Msg("Asset fetch complete")

	return results
}

// worker processes assets from the queue. Each job writes only its own slot.
func (f *Fetcher) worker(ctx context.Context, queue <-chan job, results []Result, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for j := range queue {
		// Drain remaining jobs once cancelled so every slot gets a result
		if err := ctx.Err(); err != nil {
			results[j.index] = Result{URL: j.url, Err: err}
			continue
		}

		started := time.Now()
		assetCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
		err := f.fetcher.FetchAsset(assetCtx, j.url)
		cancel()

		results[j.index] = Result{
			URL:      j.url,
			Err:      err,
			Duration: time.Since(started),
		}
		if err != nil {
			log.Debug().
				Err(err).
				Int("worker_id", workerID).
				Str("url", j.url).
				Msg("Asset fetch failed")
		}
		processed++
	}

	if processed > 0 {
		log.Debug().
			Int("worker_id", workerID).
			Int("assets_processed", processed).
			Msg("Worker completed")
	}
}
