//go:build integration

package lifecycle

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/Sternrassler/offline-cache-agent/internal/testutil"
	"github.com/Sternrassler/offline-cache-agent/pkg/agent"
	"github.com/Sternrassler/offline-cache-agent/pkg/cache"
	"github.com/Sternrassler/offline-cache-agent/pkg/client"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestRedisStateStore_Integration(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	testStateStoreRoundTrip(t, NewRedisStateStore(redisClient, "it", zerolog.Nop()))
}

// TestRegistration_Integration_RedisDeployment runs two deployments against
// one Redis holding both the cache containers and the lifecycle state.
func TestRegistration_Integration_RedisDeployment(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetAppAssets()

	ctx := context.Background()
	storage := cache.NewRedisStorage(redisClient, "it")
	store := NewRedisStateStore(redisClient, "it", zerolog.Nop())
	reg := NewRegistration(origin.ParsedURL(), store, zerolog.Nop())
	defer reg.Close()

	fetcher, err := client.New(client.DefaultConfig(origin.URL()))
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	for _, gen := range []string{"food-scale-v6", "food-scale-v7"} {
		cfg := agent.DefaultConfig(origin.ParsedURL())
		cfg.Generation = gen
		a, err := agent.New(cfg, storage, fetcher, nil, zerolog.Nop())
		if err != nil {
			t.Fatalf("agent.New(%s) error = %v", gen, err)
		}
		reg.Register(ctx, a)
	}

	names, err := storage.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(names) != 1 || names[0] != "food-scale-v7" {
		t.Errorf("containers = %v, want [food-scale-v7]", names)
	}

	state, err := reg.State(ctx)
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if !state.IsActive() || state.Generation != "food-scale-v7" {
		t.Errorf("state = %+v", state)
	}

	// cached assets keep working with the origin down
	origin.SetOffline(true)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/icon-512.png", nil))
	if rec.Code != 200 || rec.Header().Get(agent.HeaderSource) != string(agent.SourceCache) {
		t.Errorf("offline asset = %d %q", rec.Code, rec.Header().Get(agent.HeaderSource))
	}
}
