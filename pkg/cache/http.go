package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ResponseToEntry converts an HTTP response to an Entry.
// It reads the response body and restores it afterwards, so resp stays usable
// by the caller while the entry holds an independent copy.
func ResponseToEntry(resp *http.Response, req *http.Request) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}
	if resp.Body == nil {
		return nil, fmt.Errorf("response body already consumed")
	}

	// Read body
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()

	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry := &Entry{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    resp.Header.Clone(),
		Data:       body,
		Type:       TypeBasic,
		CachedAt:   time.Now(),
	}
	if entry.Headers == nil {
		entry.Headers = http.Header{}
	}
	if resp.Request != nil && resp.Request.URL != nil {
		entry.URL = resp.Request.URL.String()
	}

	// Snapshot the request headers the response varies on
	if req != nil {
		for _, name := range varyNames(entry.Headers) {
			if name == "*" {
				continue
			}
			if v := req.Header.Get(name); v != "" {
				if entry.Vary == nil {
					entry.Vary = http.Header{}
				}
				entry.Vary.Set(name, v)
			}
		}
	}

	return entry, nil
}

// EntryToResponse converts a stored entry back to an HTTP response with a fresh body.
func EntryToResponse(entry *Entry, req *http.Request) *http.Response {
	status := entry.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode))
	}
	header := entry.Headers.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(entry.Data)))

	return &http.Response{
		Status:        status,
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Data)),
		ContentLength: int64(len(entry.Data)),
		Request:       req,
	}
}

// NewResponse builds a locally synthesized response (offline page, 503 and the like).
func NewResponse(req *http.Request, statusCode int, reason string, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	if reason == "" {
		reason = http.StatusText(statusCode)
	}
	entry := &Entry{
		StatusCode: statusCode,
		Status:     fmt.Sprintf("%d %s", statusCode, reason),
		Headers:    header,
		Data:       body,
		Type:       TypeDefault,
	}
	return EntryToResponse(entry, req)
}
