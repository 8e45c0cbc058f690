// Command cache-agent serves an application origin through the offline cache agent.
//
// Configuration is read from CACHE_AGENT_* environment variables; see pkg/config.
//
// The diagnostics routes (health, metrics, state, sync, push, notifications)
// live under CACHE_AGENT_ADMIN_PREFIX (default /_agent) on the app listener, or
// at the root of CACHE_AGENT_ADMIN_ADDR when that is set.
package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/offline-cache-agent/pkg/agent"
	"github.com/Sternrassler/offline-cache-agent/pkg/cache"
	"github.com/Sternrassler/offline-cache-agent/pkg/client"
	"github.com/Sternrassler/offline-cache-agent/pkg/config"
	"github.com/Sternrassler/offline-cache-agent/pkg/lifecycle"
	"github.com/Sternrassler/offline-cache-agent/pkg/logging"
	"github.com/Sternrassler/offline-cache-agent/pkg/metrics"
	"github.com/Sternrassler/offline-cache-agent/pkg/notify"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const maxPushPayload = 64 << 10

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(cfg.LogLevel)
	logCfg.Pretty = cfg.LogPretty
	logCfg.File.Path = cfg.LogFile
	logger := logging.Setup(logCfg)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	storage, stateStore, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	agentCfg, err := cfg.AgentConfig()
	if err != nil {
		return err
	}

	netClient, err := client.New(client.Config{
		Origin:    cfg.Origin,
		Timeout:   cfg.FetchTimeout,
		UserAgent: "offline-cache-agent/1.0",
	})
	if err != nil {
		return fmt.Errorf("create network client: %w", err)
	}
	defer netClient.Close()

	notifier, recorder := newNotifier(cfg, logger)

	a, err := agent.New(agentCfg, storage, netClient, notifier, logging.NewLogger("agent"))
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	reg := lifecycle.NewRegistration(agentCfg.Origin, stateStore, logging.NewLogger("registration"))
	defer reg.Close()

	report := reg.Register(ctx, a)
	logger.Info().
		Str("generation", report.State.Generation).
		Str("phase", string(report.State.Phase)).
		Int("cached", report.State.CachedAssets).
		Int("failed", report.State.FailedAssets).
		Msg("Agent registered")

	rt := routes{reg: reg, recorder: recorder, logger: logger, token: cfg.AdminToken}
	if cfg.AdminToken == "" {
		logger.Warn().Msg("Diagnostics routes are unauthenticated; set CACHE_AGENT_ADMIN_TOKEN")
	}

	servers := []*http.Server{{
		Addr:              cfg.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.AdminAddr == "" {
		servers[0].Handler = rt.app(cfg.AdminPrefix)
	} else {
		servers[0].Handler = rt.app("")
		servers = append(servers, &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           rt.admin(),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func() {
			logger.Info().Str("addr", srv.Addr).Str("origin", cfg.Origin).Msg("Starting listener")
			errCh <- srv.ListenAndServe()
		}()
	}

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

// openStorage opens the configured cache backend and the matching lifecycle state store.
func openStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.Storage, lifecycle.StateStore, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
		storage := cache.NewRedisStorage(redisClient, cfg.RedisPrefix)
		store := lifecycle.NewRedisStateStore(redisClient, cfg.RedisPrefix, logging.NewLogger("state-store"))
		return storage, store, nil

	case config.BackendSQLite:
		storage, err := cache.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return storage, lifecycle.NewMemoryStateStore(), nil

	case config.BackendLevelDB:
		storage, err := cache.NewLevelDBStorage(cfg.LevelDBPath)
		if err != nil {
			return nil, nil, err
		}
		return storage, lifecycle.NewMemoryStateStore(), nil

	default:
		return cache.NewMemoryStorage(), lifecycle.NewMemoryStateStore(), nil
	}
}

// newNotifier builds the notification chain. The recorder is nil unless enabled.
func newNotifier(cfg *config.Config, logger zerolog.Logger) (notify.Notifier, *notify.Recorder) {
	var n notify.Notifier = notify.NewLogNotifier(logging.NewLogger("notify"))
	if cfg.NotifyWebhook != "" {
		n = notify.NewWebhookNotifier(cfg.NotifyWebhook)
		logger.Info().Str("url", cfg.NotifyWebhook).Msg("Delivering notifications to webhook")
	}
	if !cfg.NotifyRecord {
		return n, nil
	}
	rec := notify.NewRecorder(n)
	return rec, rec
}

// routes builds the HTTP handlers of the process.
type routes struct {
	reg      *lifecycle.Registration
	recorder *notify.Recorder
	logger   zerolog.Logger
	token    string
}

func (rt routes) base() chi.Router {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(rt.logger))
	r.Use(requestID)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request served")
	}))
	return r
}

// app serves every path through the registration. A non-empty adminPrefix
// reserves that subtree for the diagnostics routes.
func (rt routes) app(adminPrefix string) http.Handler {
	r := rt.base()
	if adminPrefix != "" {
		r.Route(adminPrefix, rt.adminRoutes)
	}
	r.Handle("/*", rt.reg.Handler())
	return r
}

// admin serves only the diagnostics routes, for a dedicated listener.
func (rt routes) admin() http.Handler {
	r := rt.base()
	rt.adminRoutes(r)
	return r
}

func (rt routes) adminRoutes(r chi.Router) {
	r.Get("/health", healthHandler)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(requireToken(rt.token))
		r.Get("/state", stateHandler(rt.reg))
		r.Post("/sync", syncHandler(rt.reg))
		r.Post("/push", pushHandler(rt.reg))
		r.Get("/notifications", notificationsHandler(rt.recorder))
	})
}

// requireToken demands "Authorization: Bearer <token>". An empty token allows all.
func requireToken(token string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="cache-agent"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestID tags the request logger and response with an X-Request-Id.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		log := zerolog.Ctx(r.Context())
		log.UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("request_id", id)
		})
		next.ServeHTTP(w, r)
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func stateHandler(reg *lifecycle.Registration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := reg.State(r.Context())
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Failed to load lifecycle state")
			http.Error(w, "state unavailable", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func syncHandler(reg *lifecycle.Registration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tag := r.URL.Query().Get("tag")
		if tag == "" {
			http.Error(w, "tag is required", http.StatusBadRequest)
			return
		}
		writeEventResult(w, r, reg.Sync(r.Context(), tag))
	}
}

func pushHandler(reg *lifecycle.Registration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxPushPayload))
		if err != nil {
			http.Error(w, "read payload", http.StatusBadRequest)
			return
		}
		writeEventResult(w, r, reg.Push(r.Context(), data))
	}
}

func notificationsHandler(recorder *notify.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if recorder == nil {
			http.Error(w, "notification recording disabled", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, recorder.Notifications())
	}
}

func writeEventResult(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, lifecycle.ErrNoController):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		hlog.FromRequest(r).Warn().Err(err).Msg("Event handler failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
