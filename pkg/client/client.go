// Package client provides the network fetcher used by the cache agent to reach
// the application origin.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/offline-cache-agent/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for network fetches.
var (
	networkRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_agent_network_requests_total",
		Help: "Total network requests by status",
	}, []string{"status"})

	networkRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_agent_network_request_duration_seconds",
		Help:    "Network request duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	networkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_agent_network_errors_total",
		Help: "Total network errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of fetch outcomes.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport failures and timeouts.
	ErrorClassNetwork ErrorClass = "network"
)

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Fetcher performs network requests on behalf of the agent.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Config holds the client configuration.
type Config struct {
	// Origin is the absolute base URL of the application (e.g., "http://127.0.0.1:3000")
	Origin string

	// Timeout bounds a single request including the body read by the caller
	Timeout time.Duration

	// UserAgent is sent when the incoming request carries none
	UserAgent string
}

// DefaultConfig returns a default configuration for origin.
func DefaultConfig(origin string) Config {
	return Config{
		Origin:    origin,
		Timeout:   30 * time.Second,
		UserAgent: "offline-cache-agent/1.0",
	}
}

// Client fetches resources from the origin.
type Client struct {
	httpClient *http.Client
	origin     *url.URL
	config     Config
	logger     zerolog.Logger
}

// New creates a new network client.
func New(cfg Config) (*Client, error) {
	if cfg.Origin == "" {
		return nil, fmt.Errorf("origin is required")
	}
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return nil, fmt.Errorf("origin must be an absolute http(s) URL (got %q)", cfg.Origin)
	}
	if origin.Host == "" {
		return nil, fmt.Errorf("origin host is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "network-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		origin: origin,
		config: cfg,
		logger: logger,
	}, nil
}

// Origin returns a copy of the origin URL.
func (c *Client) Origin() *url.URL {
	u := *c.origin
	return &u
}

// Fetch sends req to the origin. The request path and query are kept and the
// scheme and host are replaced by the origin's.
//
// HTTP error statuses are returned as responses. Only transport failures produce
// an error, always a *FetchError of class network. Failed attempts are not retried.
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	out, err := c.outboundRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	target := out.URL.String()

	startTime := time.Now()
	defer func() {
		networkRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	c.logger.Debug().
		Str("url", target).
		Str("method", out.Method).
		Msg("Fetching from network")

	resp, err := c.httpClient.Do(out)
	if err != nil {
		networkErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		networkRequestsTotal.WithLabelValues("network_error").Inc()
		c.logger.Warn().Err(err).Str("url", target).Msg("Network request failed")
		return nil, &FetchError{
			Class: ErrorClassNetwork,
			URL:   target,
			Err:   err,
		}
	}

	networkRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	if class := Classify(resp.StatusCode); class != "" {
		networkErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Debug().
			Str("url", target).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Origin returned error status")
	}

	return resp, nil
}

// Get fetches path (e.g., "/manifest.json") from the origin.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.Fetch(ctx, req)
}

// URL resolves path against the origin.
func (c *Client) URL(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.origin.String() + path
	}
	return c.origin.ResolveReference(ref).String()
}

func (c *Client) outboundRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	target := *req.URL
	target.Scheme = c.origin.Scheme
	target.Host = c.origin.Host
	target.Fragment = ""
	target.User = nil

	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), req.Body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	out.ContentLength = req.ContentLength
	out.Header = req.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	RemoveHopHeaders(out.Header)
	if out.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		out.Header.Set("User-Agent", c.config.UserAgent)
	}
	return out, nil
}

// RemoveHopHeaders deletes the connection-scoped headers from h, including any
// named by Connection.
func RemoveHopHeaders(h http.Header) {
	// headers named by Connection are hop-by-hop too
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// Classify maps a status code to an error class. Non-error statuses return "".
func Classify(statusCode int) ErrorClass {
	switch {
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// ResponseType reports the type a browser would assign to resp when fetched
// from a page served by origin.
func ResponseType(resp *http.Response, origin *url.URL) cache.ResponseType {
	if resp == nil {
		return cache.TypeError
	}
	if resp.Request == nil || resp.Request.URL == nil || origin == nil {
		return cache.TypeBasic
	}
	final := resp.Request.URL
	if strings.EqualFold(final.Scheme, origin.Scheme) && strings.EqualFold(final.Host, origin.Host) {
		return cache.TypeBasic
	}
	return cache.TypeCORS
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
