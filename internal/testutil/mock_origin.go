// Package testutil provides testing utilities for the offline cache agent.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock origin path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockOrigin is a configurable application origin for testing.
type MockOrigin struct {
	server    *httptest.Server
	mu        sync.RWMutex
	responses map[string]MockResponse
	offline   bool

	// Tracking
	requests    map[string]int
	lastMethods map[string]string
}

// NewMockOrigin creates a new mock origin. Unknown paths answer 404.
func NewMockOrigin() *MockOrigin {
	mock := &MockOrigin{
		responses:   make(map[string]MockResponse),
		requests:    make(map[string]int),
		lastMethods: make(map[string]string),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requests[r.URL.Path]++
		mock.lastMethods[r.URL.Path] = r.Method
		offline := mock.offline
		resp, exists := mock.responses[r.URL.Path]
		mock.mu.Unlock()

		if offline {
			dropConnection(w)
			return
		}
		if !exists {
			http.NotFound(w, r)
			return
		}
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	}))

	return mock
}

// dropConnection closes the client connection without a response, which the
// client sees as a transport error.
func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("mock origin: response writer cannot be hijacked")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(err)
	}
	conn.Close()
}

// URL returns the mock origin base URL.
func (m *MockOrigin) URL() string {
	return m.server.URL
}

// ParsedURL returns the mock origin base URL parsed.
func (m *MockOrigin) ParsedURL() *url.URL {
	u, err := url.Parse(m.server.URL)
	if err != nil {
		panic(err)
	}
	return u
}

// Close shuts down the mock origin.
func (m *MockOrigin) Close() {
	m.server.Close()
}

// SetResponse configures the response for a path.
func (m *MockOrigin) SetResponse(path string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[path] = resp
}

// SetFile configures a 200 response with the given content type and body.
func (m *MockOrigin) SetFile(path, contentType, body string) {
	m.SetResponse(path, MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": contentType},
	})
}

// SetAppAssets serves the essential assets of the food scale app.
func (m *MockOrigin) SetAppAssets() {
	m.SetFile("/", "text/html; charset=utf-8", "<html><body><h1>Food Scale</h1></body></html>")
	m.SetFile("/manifest.json", "application/manifest+json", `{"name":"Food Scale","start_url":"/"}`)
	m.SetFile("/icon-192.png", "image/png", "png-192")
	m.SetFile("/icon-512.png", "image/png", "png-512")
	m.SetFile("/favicon.ico", "image/x-icon", "ico")
}

// SetOffline makes every request fail at the transport level while offline is true.
func (m *MockOrigin) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// RequestCount returns the number of requests made for path.
func (m *MockOrigin) RequestCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[path]
}

// TotalRequests returns the number of requests made for all paths.
func (m *MockOrigin) TotalRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, n := range m.requests {
		total += n
	}
	return total
}

// LastMethod returns the method of the latest request for path.
func (m *MockOrigin) LastMethod(path string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastMethods[path]
}

// Reset clears all tracking counters.
func (m *MockOrigin) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = make(map[string]int)
	m.lastMethods = make(map[string]string)
}
