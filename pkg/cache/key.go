package cache

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// RequestKey identifies a stored request within a container.
type RequestKey struct {
	// Method is the upper-case HTTP method (e.g., "GET")
	Method string

	// URL is the absolute request URL without fragment, path and query as sent
	URL string
}

// NewRequestKey builds the normalized key for a request.
// Relative request URLs (server-side requests) are resolved against the Host header.
func NewRequestKey(r *http.Request) RequestKey {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}
	return RequestKey{
		Method: method,
		URL:    normalizeURL(requestURL(r)),
	}
}

// KeyForURL builds the GET key for an absolute URL string.
func KeyForURL(rawURL string) (RequestKey, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return RequestKey{}, fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() {
		return RequestKey{}, fmt.Errorf("url %q is not absolute", rawURL)
	}
	return RequestKey{Method: http.MethodGet, URL: normalizeURL(u)}, nil
}

// String generates a deterministic key string.
// Format: METHOD URL
//
// Example:
//
//	GET https://app.example.com/icon-192.png
func (k RequestKey) String() string {
	return k.Method + " " + k.URL
}

// ParseRequestKey is the inverse of RequestKey.String.
func ParseRequestKey(s string) (RequestKey, error) {
	method, rawURL, ok := strings.Cut(s, " ")
	if !ok || method == "" || rawURL == "" {
		return RequestKey{}, fmt.Errorf("%w: malformed key %q", ErrInvalidEntry, s)
	}
	return RequestKey{Method: method, URL: rawURL}, nil
}

func requestURL(r *http.Request) *url.URL {
	u := *r.URL
	if u.Host == "" {
		u.Host = r.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}
	return &u
}

// normalizeURL lowercases scheme and host and drops the fragment. Path and
// query keep their escaped form and order, so distinct URLs never share a key.
func normalizeURL(u *url.URL) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(u.Scheme))
	b.WriteString("://")
	b.WriteString(strings.ToLower(u.Host))

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	b.WriteString(path)

	if u.RawQuery != "" || u.ForceQuery {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return b.String()
}
