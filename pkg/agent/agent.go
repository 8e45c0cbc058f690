// Package agent implements the offline cache agent.
//
// An Agent is one deployed version of the request-mediating worker. It owns a
// single cache container named by its generation and handles five events:
//
//   - install: precache the essential assets, best effort
//   - activate: delete every container of earlier generations
//   - fetch: answer GET requests cache-first, network second, offline last
//   - sync: run the deferred action of a registered sync tag
//   - push: turn a JSON payload into a notification
//
// The agent holds no global state. Everything it needs is injected through
// Config and New, so several versions can run side by side in one process.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/Sternrassler/offline-cache-agent/pkg/cache"
	"github.com/Sternrassler/offline-cache-agent/pkg/client"
	"github.com/Sternrassler/offline-cache-agent/pkg/notify"
	"github.com/Sternrassler/offline-cache-agent/pkg/tasks"
	"github.com/rs/zerolog"
)

// Agent is a single version of the cache agent.
type Agent struct {
	config   Config
	storage  cache.Storage
	fetcher  client.Fetcher
	notifier notify.Notifier
	tasks    *tasks.Group
	logger   zerolog.Logger

	mu        sync.Mutex
	container cache.Container
}

// New creates an agent. A nil notifier logs notifications instead of showing them.
func New(cfg Config, storage cache.Storage, fetcher client.Fetcher, notifier notify.Notifier, logger zerolog.Logger) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if storage == nil {
		return nil, fmt.Errorf("%w: storage is required", ErrInvalidConfig)
	}
	if fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher is required", ErrInvalidConfig)
	}

	logger = logger.With().Str("generation", cfg.Generation).Logger()
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	if cfg.OnSync == nil {
		cfg.OnSync = func(context.Context, string) error { return nil }
	}

	return &Agent{
		config:   cfg,
		storage:  storage,
		fetcher:  fetcher,
		notifier: notifier,
		tasks: tasks.NewGroup(logger, tasks.WithErrorHandler(func(*tasks.TaskError) {
			CacheWrites.WithLabelValues("error").Inc()
		})),
		logger: logger,
	}, nil
}

// Generation returns the generation identifier of this version.
func (a *Agent) Generation() string {
	return a.config.Generation
}

// Config returns the agent configuration.
func (a *Agent) Config() Config {
	return a.config
}

// Wait blocks until all detached cache writes have settled.
func (a *Agent) Wait() {
	a.tasks.Wait()
}

// Close waits for detached work and stops the agent's error loop.
// It does not close the shared storage.
func (a *Agent) Close() {
	a.tasks.Close()
}

// openContainer returns the generation container handle, opening it once.
// The handle is retained so that writes made after a newer generation deleted
// the container fail instead of recreating it.
func (a *Agent) openContainer(ctx context.Context) (cache.Container, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.container != nil {
		return a.container, nil
	}
	c, err := a.storage.Open(ctx, a.config.Generation)
	if err != nil {
		return nil, err
	}
	a.container = c
	return c, nil
}
