// Package config loads the cache agent configuration from the environment and
// an optional YAML asset manifest.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/offline-cache-agent/pkg/agent"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CACHE_AGENT_"

// Storage backends.
const (
	BackendMemory  = "memory"
	BackendRedis   = "redis"
	BackendSQLite  = "sqlite"
	BackendLevelDB = "leveldb"
)

// ErrInvalid is returned by Validate for unusable configurations.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the process configuration.
type Config struct {
	// HTTP
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	Origin     string `env:"ORIGIN"`

	// Diagnostics routes (health, metrics, state, sync, push, notifications).
	// With AdminAddr empty they share the app listener under AdminPrefix, which
	// is then reserved: origin paths below it never reach the agent. With
	// AdminAddr set they move to that listener and every app path is proxied.
	// AdminToken, when set, is required as a bearer token on every route but
	// health and metrics.
	AdminAddr   string `env:"ADMIN_ADDR"`
	AdminPrefix string `env:"ADMIN_PREFIX" envDefault:"/_agent"`
	AdminToken  string `env:"ADMIN_TOKEN"`

	// Agent
	Generation          string        `env:"GENERATION"           envDefault:"food-scale-v7"`
	EssentialAssets     []string      `env:"ESSENTIAL_ASSETS"     envSeparator:","`
	SyncTags            []string      `env:"SYNC_TAGS"            envSeparator:","`
	PrecacheConcurrency int           `env:"PRECACHE_CONCURRENCY" envDefault:"4"`
	PrecacheTimeout     time.Duration `env:"PRECACHE_TIMEOUT"     envDefault:"15s"`
	FetchTimeout        time.Duration `env:"FETCH_TIMEOUT"        envDefault:"30s"`
	Manifest            string        `env:"MANIFEST"`

	// Storage
	Backend     string `env:"BACKEND"      envDefault:"memory"`
	RedisAddr   string `env:"REDIS_ADDR"   envDefault:"localhost:6379"`
	RedisDB     int    `env:"REDIS_DB"     envDefault:"0"`
	RedisPrefix string `env:"REDIS_PREFIX" envDefault:"cache-agent"`
	SQLitePath  string `env:"SQLITE_PATH"  envDefault:"cache-agent.db"`
	LevelDBPath string `env:"LEVELDB_PATH" envDefault:"cache-agent.leveldb"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
	LogFile   string `env:"LOG_FILE"`

	// Notifications
	NotifyWebhook string `env:"NOTIFY_WEBHOOK"`
	NotifyRecord  bool   `env:"NOTIFY_RECORD" envDefault:"true"`

	manifest *Manifest
}

// Manifest is the YAML document that overrides the deployment's agent settings.
//
// Example:
//
//	generation: food-scale-v8
//	essential_assets:
//	  - /
//	  - /manifest.json
//	sync_tags: [food-data-sync]
type Manifest struct {
	Generation        string   `yaml:"generation"`
	EssentialAssets   []string `yaml:"essential_assets"`
	SyncTags          []string `yaml:"sync_tags"`
	NotificationIcon  string   `yaml:"notification_icon"`
	NotificationBadge string   `yaml:"notification_badge"`
}

// Load reads the configuration from the process environment and applies the
// manifest named by CACHE_AGENT_MANIFEST.
func Load() (*Config, error) {
	return load(env.Options{Prefix: EnvPrefix})
}

// LoadEnvironment is Load reading from environ instead of the process environment.
func LoadEnvironment(environ map[string]string) (*Config, error) {
	return load(env.Options{Prefix: EnvPrefix, Environment: environ})
}

func load(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if len(cfg.EssentialAssets) == 0 {
		cfg.EssentialAssets = append([]string(nil), agent.DefaultEssentialAssets...)
	}
	if len(cfg.SyncTags) == 0 {
		cfg.SyncTags = []string{agent.DefaultSyncTag}
	}

	if cfg.Manifest != "" {
		m, err := ReadManifest(cfg.Manifest)
		if err != nil {
			return nil, err
		}
		cfg.apply(m)
	}
	return &cfg, nil
}

// ReadManifest parses the YAML manifest at path.
func ReadManifest(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// apply overrides the agent settings present in m.
func (c *Config) apply(m *Manifest) {
	if m.Generation != "" {
		c.Generation = m.Generation
	}
	if len(m.EssentialAssets) > 0 {
		c.EssentialAssets = m.EssentialAssets
	}
	if len(m.SyncTags) > 0 {
		c.SyncTags = m.SyncTags
	}
	c.manifest = m
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var problems []string

	if c.Origin == "" {
		problems = append(problems, "origin is required")
	} else if u, err := url.Parse(c.Origin); err != nil || !u.IsAbs() || u.Host == "" {
		problems = append(problems, fmt.Sprintf("origin %q must be an absolute URL", c.Origin))
	}
	if c.AdminAddr == "" {
		if !strings.HasPrefix(c.AdminPrefix, "/") || c.AdminPrefix == "/" || strings.HasSuffix(c.AdminPrefix, "/") {
			problems = append(problems, fmt.Sprintf("admin prefix %q must be a non-root path without trailing slash", c.AdminPrefix))
		}
	} else if c.AdminAddr == c.ListenAddr {
		problems = append(problems, "admin addr must differ from listen addr")
	}
	if strings.TrimSpace(c.Generation) == "" {
		problems = append(problems, "generation is required")
	}
	for _, asset := range c.EssentialAssets {
		if !strings.HasPrefix(asset, "/") {
			problems = append(problems, fmt.Sprintf("essential asset %q must be root-relative", asset))
		}
	}
	switch c.Backend {
	case BackendMemory, BackendRedis, BackendSQLite, BackendLevelDB:
	default:
		problems = append(problems, fmt.Sprintf("unknown backend %q", c.Backend))
	}
	if c.PrecacheConcurrency <= 0 {
		problems = append(problems, "precache concurrency must be positive")
	}
	if c.PrecacheTimeout <= 0 || c.FetchTimeout <= 0 {
		problems = append(problems, "timeouts must be positive")
	}
	if c.NotifyWebhook != "" {
		if u, err := url.Parse(c.NotifyWebhook); err != nil || !u.IsAbs() {
			problems = append(problems, fmt.Sprintf("notify webhook %q must be an absolute URL", c.NotifyWebhook))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// AgentConfig builds the agent configuration. Call Validate first.
func (c *Config) AgentConfig() (agent.Config, error) {
	origin, err := url.Parse(c.Origin)
	if err != nil {
		return agent.Config{}, fmt.Errorf("parse origin: %w", err)
	}
	cfg := agent.DefaultConfig(origin)
	cfg.Generation = c.Generation
	cfg.EssentialAssets = c.EssentialAssets
	cfg.SyncTags = c.SyncTags
	cfg.PrecacheConcurrency = c.PrecacheConcurrency
	cfg.PrecacheTimeout = c.PrecacheTimeout
	if c.manifest != nil {
		if c.manifest.NotificationIcon != "" {
			cfg.NotificationIcon = c.manifest.NotificationIcon
		}
		if c.manifest.NotificationBadge != "" {
			cfg.NotificationBadge = c.manifest.NotificationBadge
		}
	}
	return cfg, nil
}
