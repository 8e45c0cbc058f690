package agent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Sternrassler/offline-cache-agent/pkg/cache"
	"github.com/Sternrassler/offline-cache-agent/pkg/client"
	"github.com/Sternrassler/offline-cache-agent/pkg/precache"
)

// AssetFailure describes an essential asset that could not be cached.
type AssetFailure struct {
	URL string
	Err error
}

// InstallReport is the outcome of Install.
type InstallReport struct {
	Generation string
	Cached     []string
	Failed     []AssetFailure
	Duration   time.Duration
}

// SkipWaiting reports that the new version activates without waiting for the
// old one to release its clients. Always true.
func (r InstallReport) SkipWaiting() bool {
	return true
}

// Install opens the generation container and caches every essential asset.
//
// Asset failures are logged and skipped: install succeeds even when nothing
// could be cached. Only failing to open the container returns an error.
func (a *Agent) Install(ctx context.Context) (InstallReport, error) {
	start := time.Now()
	report := InstallReport{Generation: a.config.Generation}

	a.logger.Info().Msg("Agent installing")

	container, err := a.openContainer(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("Cache installation failed")
		report.Duration = time.Since(start)
		return report, fmt.Errorf("open container %s: %w", a.config.Generation, err)
	}

	a.logger.Info().Int("assets", len(a.config.EssentialAssets)).Msg("Caching essential assets")

	pool := precache.NewFetcher(precache.AssetFetcherFunc(func(ctx context.Context, path string) error {
		return a.addAsset(ctx, container, path)
	}), precache.Config{
		MaxConcurrency: a.config.PrecacheConcurrency,
		Timeout:        a.config.PrecacheTimeout,
	})

	for _, r := range pool.FetchAll(ctx, a.config.EssentialAssets) {
		if r.OK() {
			report.Cached = append(report.Cached, r.URL)
			PrecacheAssets.WithLabelValues(a.config.Generation, "ok").Inc()
			continue
		}
		report.Failed = append(report.Failed, AssetFailure{URL: r.URL, Err: r.Err})
		PrecacheAssets.WithLabelValues(a.config.Generation, "error").Inc()
		a.logger.Warn().Err(r.Err).Str("url", r.URL).Msg("Failed to cache essential asset")
	}

	report.Duration = time.Since(start)
	if len(report.Cached) == 0 && len(report.Failed) > 0 {
		a.logger.Error().
			Int("failed", len(report.Failed)).
			Msg("No essential asset could be cached")
	} else {
		a.logger.Info().
			Int("cached", len(report.Cached)).
			Int("failed", len(report.Failed)).
			Dur("duration", report.Duration).
			Msg("Essential assets cached")
	}
	return report, nil
}

// addAsset fetches path from the origin and stores the response when it is ok.
func (a *Agent) addAsset(ctx context.Context, container cache.Container, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.resolve(path).String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := a.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}

	entry, err := cache.ResponseToEntry(resp, req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	entry.Type = client.ResponseType(resp, a.config.Origin)

	if err := container.Put(ctx, req, entry); err != nil {
		return fmt.Errorf("%s: store: %w", path, err)
	}
	return nil
}
