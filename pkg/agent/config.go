package agent

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Defaults for a deployment of the food scale app.
const (
	// DefaultGeneration names the cache container of the current deployment.
	// Bumping it is the only way to invalidate earlier caches.
	DefaultGeneration = "food-scale-v7"

	// DefaultSyncTag is the background sync tag the agent answers.
	DefaultSyncTag = "food-data-sync"

	// DefaultNotificationIcon is used as both icon and badge of push notifications.
	DefaultNotificationIcon = "/icon-192.png"
)

// DefaultEssentialAssets lists the resources cached at install time.
var DefaultEssentialAssets = []string{
	"/",
	"/manifest.json",
	"/icon-192.png",
	"/icon-512.png",
	"/favicon.ico",
}

// ErrInvalidConfig is returned by New and Validate for unusable configurations.
var ErrInvalidConfig = errors.New("invalid agent config")

// SyncFunc is the deferred action run for a registered sync tag.
type SyncFunc func(ctx context.Context, tag string) error

// Config is the immutable configuration of one agent version.
type Config struct {
	// Generation is the cache container name of this version (e.g., "food-scale-v7")
	Generation string

	// EssentialAssets are root-relative paths cached at install time
	EssentialAssets []string

	// Origin is the absolute base URL the assets and requests resolve against
	Origin *url.URL

	// SyncTags lists the background sync tags handled by Sync
	SyncTags []string

	// OnSync runs for a registered sync tag (default: no-op)
	OnSync SyncFunc

	// NotificationIcon and NotificationBadge are attached to every push notification
	NotificationIcon  string
	NotificationBadge string

	// PrecacheConcurrency bounds parallel asset fetches during install
	PrecacheConcurrency int

	// PrecacheTimeout bounds a single asset fetch during install
	PrecacheTimeout time.Duration
}

// DefaultConfig returns the default configuration for origin.
func DefaultConfig(origin *url.URL) Config {
	return Config{
		Generation:          DefaultGeneration,
		EssentialAssets:     append([]string(nil), DefaultEssentialAssets...),
		Origin:              origin,
		SyncTags:            []string{DefaultSyncTag},
		NotificationIcon:    DefaultNotificationIcon,
		NotificationBadge:   DefaultNotificationIcon,
		PrecacheConcurrency: 4,
		PrecacheTimeout:     15 * time.Second,
	}
}

// Validate reports every problem with the configuration.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Generation) == "" {
		problems = append(problems, "generation is required")
	}
	if c.Origin == nil || !c.Origin.IsAbs() || c.Origin.Host == "" {
		problems = append(problems, "origin must be an absolute URL")
	}
	for _, asset := range c.EssentialAssets {
		if !strings.HasPrefix(asset, "/") || strings.HasPrefix(asset, "//") {
			problems = append(problems, fmt.Sprintf("essential asset %q must be root-relative", asset))
		}
	}
	if c.PrecacheConcurrency < 0 {
		problems = append(problems, "precache concurrency must not be negative")
	}
	if c.PrecacheTimeout < 0 {
		problems = append(problems, "precache timeout must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// handlesTag reports whether tag is a registered sync tag.
func (c Config) handlesTag(tag string) bool {
	for _, t := range c.SyncTags {
		if t == tag {
			return true
		}
	}
	return false
}

// resolve returns the absolute origin URL of a root-relative path.
func (c Config) resolve(path string) *url.URL {
	ref, err := url.Parse(path)
	if err != nil {
		// path came through Validate; keep it verbatim
		return &url.URL{Scheme: c.Origin.Scheme, Host: c.Origin.Host, Path: path}
	}
	return c.Origin.ResolveReference(ref)
}
