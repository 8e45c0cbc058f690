package agent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/Sternrassler/offline-cache-agent/internal/testutil"
	"github.com/Sternrassler/offline-cache-agent/pkg/cache"
	"github.com/rs/zerolog"
)

type fetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f fetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestFetch_NonGETNotIntercepted(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetFile("/api/foods", "application/json", `{}`)

	a := newTestAgent(t, origin, cache.NewMemoryStorage(), "v7")

	for _, method := range []string{"POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/api/foods", strings.NewReader(`{"name":"apple"}`))
			res := a.Fetch(context.Background(), req)
			if res.Intercepted || res.Response != nil {
				t.Errorf("%s request was intercepted: %+v", method, res)
			}
		})
	}
	if origin.TotalRequests() != 0 {
		t.Errorf("Fetch must leave non-GET requests to the caller, origin saw %d", origin.TotalRequests())
	}
}

func TestFetch_CacheHitWithoutNetwork(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetAppAssets()

	a := newTestAgent(t, origin, cache.NewMemoryStorage(), "v7")
	ctx := context.Background()
	a.Install(ctx)
	origin.Reset()

	for _, path := range DefaultEssentialAssets {
		res := a.Fetch(ctx, httptest.NewRequest("GET", path, nil))
		if res.Source != SourceCache {
			t.Errorf("%s: Source = %v, want cache", path, res.Source)
		}
		if res.Response.StatusCode != http.StatusOK {
			t.Errorf("%s: status = %d", path, res.Response.StatusCode)
		}
		res.Response.Body.Close()
	}
	if origin.TotalRequests() != 0 {
		t.Errorf("cache hits must not touch the network, origin saw %d requests", origin.TotalRequests())
	}

	// stale-forever: a changed origin is not noticed
	origin.SetFile("/manifest.json", "application/json", `{"name":"changed"}`)
	res := a.Fetch(ctx, httptest.NewRequest("GET", "/manifest.json", nil))
	if body := readBody(t, res.Response); strings.Contains(body, "changed") {
		t.Errorf("cached response was revalidated: %s", body)
	}
}

func TestFetch_RuntimeCaching(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetFile("/foods.json", "application/json", `[{"name":"apple","grams":150}]`)

	storage := cache.NewMemoryStorage()
	a := newTestAgent(t, origin, storage, "v7")
	ctx := context.Background()

	res := a.Fetch(ctx, httptest.NewRequest("GET", "/foods.json", nil))
	if res.Source != SourceNetwork {
		t.Fatalf("first Fetch() Source = %v, want network", res.Source)
	}
	if body := readBody(t, res.Response); body != `[{"name":"apple","grams":150}]` {
		t.Errorf("body = %q", body)
	}
	a.Wait()

	res = a.Fetch(ctx, httptest.NewRequest("GET", "/foods.json", nil))
	if res.Source != SourceCache {
		t.Errorf("second Fetch() Source = %v, want cache", res.Source)
	}
	if body := readBody(t, res.Response); body != `[{"name":"apple","grams":150}]` {
		t.Errorf("cached body = %q", body)
	}
	if n := origin.RequestCount("/foods.json"); n != 1 {
		t.Errorf("origin saw %d requests, want 1", n)
	}
}

func TestFetch_BodyUsableWhenCacheWriteFails(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetFile("/foods.json", "application/json", `[1,2,3]`)

	storage := &faultyStorage{MemoryStorage: cache.NewMemoryStorage(), putErr: errors.New("disk full")}
	a := newTestAgent(t, origin, storage, "v7")

	res := a.Fetch(context.Background(), httptest.NewRequest("GET", "/foods.json", nil))
	if res.Source != SourceNetwork {
		t.Fatalf("Source = %v, want network", res.Source)
	}
	a.Wait()
	if body := readBody(t, res.Response); body != `[1,2,3]` {
		t.Errorf("body = %q, want the full network body", body)
	}
}

func TestFetch_NotCached(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"not found", http.StatusNotFound, "missing"},
		{"server error", http.StatusInternalServerError, "boom"},
		{"no content", http.StatusNoContent, ""},
		{"partial content", http.StatusPartialContent, "part"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origin := testutil.NewMockOrigin()
			defer origin.Close()
			origin.SetResponse("/x", testutil.MockResponse{StatusCode: tt.status, Body: tt.body})

			a := newTestAgent(t, origin, cache.NewMemoryStorage(), "v7")
			ctx := context.Background()

			for i := 0; i < 2; i++ {
				res := a.Fetch(ctx, httptest.NewRequest("GET", "/x", nil))
				if res.Source != SourceNetwork || res.Response.StatusCode != tt.status {
					t.Errorf("Fetch() #%d = %v %d", i+1, res.Source, res.Response.StatusCode)
				}
				if body := readBody(t, res.Response); body != tt.body {
					t.Errorf("body = %q, want %q", body, tt.body)
				}
				a.Wait()
			}
			if n := origin.RequestCount("/x"); n != 2 {
				t.Errorf("origin saw %d requests, want 2 (never cached)", n)
			}
		})
	}
}

func TestFetch_CrossOriginNotCached(t *testing.T) {
	origin, _ := url.Parse("http://app.example.com")
	calls := 0
	fetcher := fetcherFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		calls++
		// redirected to a CDN
		final, _ := url.Parse("http://cdn.example.com/font.woff")
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body:       io.NopCloser(bytes.NewReader([]byte("font"))),
			Request:    &http.Request{Method: "GET", URL: final},
		}, nil
	})

	a, err := New(DefaultConfig(origin), cache.NewMemoryStorage(), fetcher, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	for i := 0; i < 2; i++ {
		res := a.Fetch(context.Background(), httptest.NewRequest("GET", "/font.woff", nil))
		if res.Source != SourceNetwork {
			t.Errorf("Source = %v, want network", res.Source)
		}
		readBody(t, res.Response)
		a.Wait()
	}
	if calls != 2 {
		t.Errorf("fetcher called %d times, want 2 (cross-origin never cached)", calls)
	}
}

func TestFetch_OfflineNavigation(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetAppAssets()
	ctx := context.Background()

	t.Run("root never cached", func(t *testing.T) {
		a := newTestAgent(t, origin, cache.NewMemoryStorage(), "v7")
		origin.SetOffline(true)
		defer origin.SetOffline(false)

		req := httptest.NewRequest("GET", "/diary/today", nil)
		req.Header.Set("Sec-Fetch-Mode", "navigate")
		res := a.Fetch(ctx, req)

		if res.Source != SourceOfflinePage {
			t.Errorf("Source = %v, want offline-page", res.Source)
		}
		if res.Response.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", res.Response.StatusCode)
		}
		if ct := res.Response.Header.Get("Content-Type"); ct != "text/html" {
			t.Errorf("Content-Type = %q, want text/html", ct)
		}
		body := readBody(t, res.Response)
		if body != OfflinePage || !strings.Contains(body, "Offline") {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("root cached", func(t *testing.T) {
		a := newTestAgent(t, origin, cache.NewMemoryStorage(), "v7")
		a.Install(ctx)
		origin.SetOffline(true)
		defer origin.SetOffline(false)

		req := httptest.NewRequest("GET", "/diary/today", nil)
		req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
		res := a.Fetch(ctx, req)

		if res.Source != SourceFallbackRoot {
			t.Errorf("Source = %v, want fallback-root", res.Source)
		}
		if body := readBody(t, res.Response); !strings.Contains(body, "Food Scale") {
			t.Errorf("body = %q, want the cached root page", body)
		}
	})
}

func TestFetch_OfflineSubresource(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetAppAssets()

	a := newTestAgent(t, origin, cache.NewMemoryStorage(), "v7")
	ctx := context.Background()
	a.Install(ctx)
	origin.SetOffline(true)

	for _, accept := range []string{"image/png", "application/json", ""} {
		req := httptest.NewRequest("GET", "/api/foods.json", nil)
		if accept != "" {
			req.Header.Set("Accept", accept)
		}
		req.Header.Set("Sec-Fetch-Mode", "cors")
		res := a.Fetch(ctx, req)

		if res.Source != SourceOfflineError {
			t.Errorf("Accept %q: Source = %v, want offline-error", accept, res.Source)
		}
		if res.Response.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", res.Response.StatusCode)
		}
		if res.Response.Status != "503 Service Unavailable" {
			t.Errorf("Status = %q", res.Response.Status)
		}
		if body := readBody(t, res.Response); body != "Offline" {
			t.Errorf("body = %q, want Offline", body)
		}
	}

	// cached assets keep working offline
	res := a.Fetch(ctx, httptest.NewRequest("GET", "/icon-192.png", nil))
	if res.Source != SourceCache {
		t.Errorf("Source = %v, want cache", res.Source)
	}
}

// echoFetcher answers every request with a body naming its request URI.
func echoFetcher(calls *int) fetcherFunc {
	return func(ctx context.Context, req *http.Request) (*http.Response, error) {
		*calls++
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/plain"}},
			Body:       io.NopCloser(strings.NewReader("resource " + req.URL.RequestURI())),
			Request:    req,
		}, nil
	}
}

func TestFetch_DistinctURLsNotShared(t *testing.T) {
	pairs := []struct {
		name       string
		first      string
		second     string
		wantSecond string
	}{
		{"escaped slash", "/files/a%2Fb", "/files/a/b", "resource /files/a/b"},
		{"semicolon query", "/x?id=1;2", "/x?id=3;4", "resource /x?id=3;4"},
		{"invalid escape", "/s?q=%zz", "/s", "resource /s"},
		{"query order", "/search?q=apple&limit=5", "/search?limit=5&q=apple", "resource /search?limit=5&q=apple"},
	}

	origin, _ := url.Parse("http://app.example.com")
	for _, tt := range pairs {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			a, err := New(DefaultConfig(origin), cache.NewMemoryStorage(), echoFetcher(&calls), nil, zerolog.Nop())
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer a.Close()
			ctx := context.Background()

			readBody(t, a.Fetch(ctx, httptest.NewRequest("GET", tt.first, nil)).Response)
			a.Wait()

			res := a.Fetch(ctx, httptest.NewRequest("GET", tt.second, nil))
			if res.Source != SourceNetwork {
				t.Errorf("Source = %v, want network", res.Source)
			}
			if body := readBody(t, res.Response); body != tt.wantSecond {
				t.Errorf("body = %q, want %q", body, tt.wantSecond)
			}
			if calls != 2 {
				t.Errorf("fetcher called %d times, want 2", calls)
			}

			// the first URL is still served from its own entry
			again := a.Fetch(ctx, httptest.NewRequest("GET", tt.first, nil))
			if again.Source != SourceCache {
				t.Errorf("repeat Source = %v, want cache", again.Source)
			}
			if body := readBody(t, again.Response); body != "resource "+tt.first {
				t.Errorf("repeat body = %q", body)
			}
		})
	}
}

func TestIsNavigation(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		headers map[string]string
		want    bool
	}{
		{"sec-fetch navigate", "GET", map[string]string{"Sec-Fetch-Mode": "navigate"}, true},
		{"sec-fetch cors", "GET", map[string]string{"Sec-Fetch-Mode": "cors", "Accept": "text/html"}, false},
		{"sec-fetch no-cors", "GET", map[string]string{"Sec-Fetch-Mode": "no-cors"}, false},
		{"accept html", "GET", map[string]string{"Accept": "text/html"}, true},
		{"accept html with params", "GET", map[string]string{"Accept": "application/xml, TEXT/HTML;q=0.9"}, true},
		{"accept json", "GET", map[string]string{"Accept": "application/json"}, false},
		{"accept xhtml only", "GET", map[string]string{"Accept": "application/xhtml+xml"}, false},
		{"no headers", "GET", nil, false},
		{"post with html accept", "POST", map[string]string{"Accept": "text/html"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := IsNavigation(req); got != tt.want {
				t.Errorf("IsNavigation() = %v, want %v", got, tt.want)
			}
		})
	}
}
