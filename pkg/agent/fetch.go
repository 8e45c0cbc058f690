package agent

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Sternrassler/offline-cache-agent/pkg/cache"
	"github.com/Sternrassler/offline-cache-agent/pkg/client"
)

// Source names what produced a fetch response.
type Source string

const (
	// SourceCache is a stored response from the generation container.
	SourceCache Source = "cache"

	// SourceNetwork is a live response from the origin.
	SourceNetwork Source = "network"

	// SourceFallbackRoot is the cached root document served for an offline navigation.
	SourceFallbackRoot Source = "fallback-root"

	// SourceOfflinePage is the built-in offline page served for an offline navigation.
	SourceOfflinePage Source = "offline-page"

	// SourceOfflineError is the 503 served for an offline sub-resource request.
	SourceOfflineError Source = "offline-error"
)

// Result is the outcome of Fetch.
type Result struct {
	// Response is nil when the request was not intercepted
	Response *http.Response

	// Source names what produced Response
	Source Source

	// Intercepted is false for requests the agent leaves to the network untouched
	Intercepted bool
}

// Fetch answers r. Non-GET requests are not intercepted. GET requests are served
// from the generation container when present, else from the network, with a
// successful same-origin response stored in the background. When the network
// fails the agent answers with an offline substitute and never with an error.
func (a *Agent) Fetch(ctx context.Context, r *http.Request) Result {
	if r.Method != http.MethodGet {
		PassThroughTotal.Inc()
		return Result{}
	}

	req := a.originRequest(ctx, r)

	if resp := a.lookup(ctx, req); resp != nil {
		a.logger.Debug().Str("url", req.URL.String()).Msg("Serving from cache")
		return a.result(resp, SourceCache)
	}

	resp, err := a.fetcher.Fetch(ctx, req)
	if err != nil {
		a.logger.Info().Err(err).Str("url", req.URL.String()).Msg("Network failed")
		return a.offline(ctx, req)
	}

	if !a.cacheable(resp) {
		return a.result(resp, SourceNetwork)
	}

	// ResponseToEntry buffers the body and hands resp a fresh reader, giving
	// the caller and the cache independent copies
	entry, err := cache.ResponseToEntry(resp, req)
	if err != nil {
		resp.Body.Close()
		a.logger.Info().Err(err).Str("url", req.URL.String()).Msg("Network failed reading body")
		return a.offline(ctx, req)
	}
	entry.Type = cache.TypeBasic

	a.store(ctx, req, entry)
	return a.result(resp, SourceNetwork)
}

func (a *Agent) result(resp *http.Response, source Source) Result {
	FetchTotal.WithLabelValues(string(source)).Inc()
	return Result{Response: resp, Source: source, Intercepted: true}
}

// cacheable reports whether a network response may be stored.
func (a *Agent) cacheable(resp *http.Response) bool {
	return resp != nil &&
		resp.StatusCode == http.StatusOK &&
		resp.Body != nil &&
		client.ResponseType(resp, a.config.Origin) == cache.TypeBasic
}

// lookup returns the cached response for req, or nil on a miss or storage error.
func (a *Agent) lookup(ctx context.Context, req *http.Request) *http.Response {
	container, err := a.openContainer(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Cache open failed")
		return nil
	}
	entry, err := container.Match(ctx, req)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			a.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Cache match failed")
		}
		return nil
	}
	return cache.EntryToResponse(entry, req)
}

// store writes entry in a detached task. Errors reach the task group's error
// loop and are never returned to the caller.
func (a *Agent) store(ctx context.Context, req *http.Request, entry *cache.Entry) {
	key := req.Clone(context.Background())
	a.tasks.Go(ctx, "cache-put "+req.URL.String(), func(ctx context.Context) error {
		container, err := a.openContainer(ctx)
		if err != nil {
			return err
		}
		if err := container.Put(ctx, key, entry); err != nil {
			return err
		}
		CacheWrites.WithLabelValues("ok").Inc()
		a.logger.Debug().Str("url", key.URL.String()).Msg("Caching")
		return nil
	})
}

// originRequest maps an incoming request onto the origin, so cache keys are the
// same whichever host the client used to reach the agent.
func (a *Agent) originRequest(ctx context.Context, r *http.Request) *http.Request {
	req := r.Clone(ctx)
	u := *r.URL
	u.Scheme = a.config.Origin.Scheme
	u.Host = a.config.Origin.Host
	u.Fragment = ""
	req.URL = &u
	req.Host = a.config.Origin.Host
	req.RequestURI = ""
	return req
}

// IsNavigation reports whether r loads a full document.
// Without Sec-Fetch-Mode, a GET accepting text/html counts as navigation.
func IsNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	if r.Method != http.MethodGet {
		return false
	}
	for _, v := range r.Header.Values("Accept") {
		for _, part := range strings.Split(v, ",") {
			mediaType, _, _ := strings.Cut(part, ";")
			if strings.EqualFold(strings.TrimSpace(mediaType), "text/html") {
				return true
			}
		}
	}
	return false
}
