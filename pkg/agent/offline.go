package agent

import (
	"context"
	"net/http"

	"github.com/Sternrassler/offline-cache-agent/pkg/cache"
)

// OfflinePage is served for offline navigations when the root document was never cached.
const OfflinePage = `<html><body><h1>Offline</h1><p>This app works offline, but some resources are still loading.</p></body></html>`

// OfflineBody is the body of the 503 served for offline sub-resource requests.
const OfflineBody = "Offline"

// offline builds the substitute response for a request whose network fetch failed.
func (a *Agent) offline(ctx context.Context, req *http.Request) Result {
	if !IsNavigation(req) {
		return a.result(offlineError(req), SourceOfflineError)
	}

	root, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.resolve("/").String(), nil)
	if err == nil {
		if resp := a.lookup(ctx, root); resp != nil {
			return a.result(resp, SourceFallbackRoot)
		}
	}
	return a.result(offlinePage(req), SourceOfflinePage)
}

func offlinePage(req *http.Request) *http.Response {
	header := http.Header{"Content-Type": []string{"text/html"}}
	return cache.NewResponse(req, http.StatusOK, "", header, []byte(OfflinePage))
}

func offlineError(req *http.Request) *http.Response {
	header := http.Header{"Content-Type": []string{"text/plain"}}
	return cache.NewResponse(req, http.StatusServiceUnavailable, "Service Unavailable", header, []byte(OfflineBody))
}
