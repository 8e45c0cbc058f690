package cache

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ResponseType mirrors the response types a browser assigns to fetched responses.
type ResponseType string

const (
	// TypeBasic is a same-origin response.
	TypeBasic ResponseType = "basic"

	// TypeCORS is a response from another origin.
	TypeCORS ResponseType = "cors"

	// TypeError is a synthetic network-error response.
	TypeError ResponseType = "error"

	// TypeDefault is a response built locally (offline page, 503).
	TypeDefault ResponseType = "default"
)

// Entry represents a stored response.
type Entry struct {
	// URL is the final response URL
	URL string `json:"url"`

	// StatusCode is the HTTP status code of the stored response
	StatusCode int `json:"status_code"`

	// Status is the status line text (e.g., "200 OK")
	Status string `json:"status"`

	// Headers are the response headers
	Headers http.Header `json:"headers"`

	// Data is the response body
	Data []byte `json:"data"`

	// Type is the response type at the time it was stored
	Type ResponseType `json:"type"`

	// Vary holds the request header values named by the response Vary header
	Vary http.Header `json:"vary,omitempty"`

	// CachedAt is when the response was stored
	CachedAt time.Time `json:"cached_at"`
}

// MatchesVary reports whether r carries the same values for every header the
// stored response varied on.
func (e *Entry) MatchesVary(r *http.Request) bool {
	for _, name := range varyNames(e.Headers) {
		if name == "*" {
			return false
		}
		if r.Header.Get(name) != e.Vary.Get(name) {
			return false
		}
	}
	return true
}

// Size returns the number of body bytes held by the entry.
func (e *Entry) Size() int {
	return len(e.Data)
}

func encodeEntry(e *Entry) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("cache entry cannot be nil")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

// varyNames returns the canonical header names listed by Vary.
func varyNames(h http.Header) []string {
	var names []string
	for _, v := range h.Values("Vary") {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if part == "*" {
				names = append(names, "*")
				continue
			}
			names = append(names, http.CanonicalHeaderKey(part))
		}
	}
	return names
}

// matchEntry decodes a stored entry and applies the Vary rule for r.
func matchEntry(data []byte, r *http.Request) (*Entry, error) {
	entry, err := decodeEntry(data)
	if err != nil {
		return nil, err
	}
	if !entry.MatchesVary(r) {
		return nil, ErrCacheMiss
	}
	return entry, nil
}
