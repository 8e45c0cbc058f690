package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces all keys written by RedisStorage.
const DefaultRedisPrefix = "cache-agent"

// putIfExists stores a hash field only while the container is still registered,
// so a late write from a superseded generation cannot resurrect its container.
var putIfExists = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// RedisStorage stores containers in Redis.
//
// Layout:
//
//	<prefix>:containers         SET of container names
//	<prefix>:container:<name>   HASH of request key -> JSON entry
type RedisStorage struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStorage creates a Redis-backed storage.
func NewRedisStorage(redisClient *redis.Client, prefix string) *RedisStorage {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStorage{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisStorage) indexKey() string {
	return s.prefix + ":containers"
}

func (s *RedisStorage) containerKey(name string) string {
	return s.prefix + ":container:" + name
}

// Open returns the named container, creating it if absent.
func (s *RedisStorage) Open(ctx context.Context, name string) (Container, error) {
	if err := s.redis.SAdd(ctx, s.indexKey(), name).Err(); err != nil {
		observe(BackendRedis, "open", err)
		return nil, fmt.Errorf("redis sadd: %w", err)
	}
	observe(BackendRedis, "open", nil)
	return &redisContainer{storage: s, name: name}, nil
}

// Has reports whether the named container exists.
func (s *RedisStorage) Has(ctx context.Context, name string) (bool, error) {
	ok, err := s.redis.SIsMember(ctx, s.indexKey(), name).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember: %w", err)
	}
	return ok, nil
}

// Keys returns the names of all containers, sorted.
func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	names, err := s.redis.SMembers(ctx, s.indexKey()).Result()
	observe(BackendRedis, "keys", err)
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(names)
	Containers.WithLabelValues(BackendRedis).Set(float64(len(names)))
	return names, nil
}

// Delete removes the container hash and its index entry in one transaction.
func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.containerKey(name))
		removed = pipe.SRem(ctx, s.indexKey(), name)
		return nil
	})
	observe(BackendRedis, "drop", err)
	if err != nil {
		return false, fmt.Errorf("redis delete container: %w", err)
	}
	return removed.Val() > 0, nil
}

// Close closes the underlying Redis client.
func (s *RedisStorage) Close() error {
	return s.redis.Close()
}

type redisContainer struct {
	storage *RedisStorage
	name    string
}

func (c *redisContainer) Name() string {
	return c.name
}

func (c *redisContainer) Match(ctx context.Context, r *http.Request) (*Entry, error) {
	key := NewRequestKey(r).String()

	data, err := c.storage.redis.HGet(ctx, c.storage.containerKey(c.name), key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			observe(BackendRedis, "match", ErrCacheMiss)
			return nil, ErrCacheMiss
		}
		observe(BackendRedis, "match", err)
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	entry, err := matchEntry(data, r)
	observe(BackendRedis, "match", err)
	return entry, err
}

func (c *redisContainer) Put(ctx context.Context, r *http.Request, entry *Entry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		observe(BackendRedis, "put", err)
		return err
	}
	key := NewRequestKey(r).String()

	stored, err := putIfExists.Run(ctx, c.storage.redis,
		[]string{c.storage.indexKey(), c.storage.containerKey(c.name)},
		c.name, key, data,
	).Int()
	if err != nil {
		observe(BackendRedis, "put", err)
		return fmt.Errorf("redis put: %w", err)
	}
	if stored == 0 {
		observe(BackendRedis, "put", ErrContainerDeleted)
		return ErrContainerDeleted
	}
	observe(BackendRedis, "put", nil)
	return nil
}

func (c *redisContainer) Delete(ctx context.Context, r *http.Request) (bool, error) {
	key := NewRequestKey(r).String()

	n, err := c.storage.redis.HDel(ctx, c.storage.containerKey(c.name), key).Result()
	observe(BackendRedis, "delete", err)
	if err != nil {
		return false, fmt.Errorf("redis hdel: %w", err)
	}
	return n > 0, nil
}

func (c *redisContainer) Keys(ctx context.Context) ([]RequestKey, error) {
	raw, err := c.storage.redis.HKeys(ctx, c.storage.containerKey(c.name)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	return parseKeys(raw)
}
