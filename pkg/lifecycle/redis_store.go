package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisPrefix namespaces all keys written by RedisStateStore.
const DefaultRedisPrefix = "cache-agent"

// RedisStateStore stores registration state in Redis, one key per field.
type RedisStateStore struct {
	redis  *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisStateStore creates a Redis-backed state store.
func NewRedisStateStore(redisClient *redis.Client, prefix string, logger zerolog.Logger) *RedisStateStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStateStore{
		redis:  redisClient,
		prefix: prefix,
		logger: logger,
	}
}

func (r *RedisStateStore) key(suffix string) string {
	return r.prefix + ":" + suffix
}

// Load retrieves the registration state from Redis.
// Returns an empty state if no data exists in Redis.
func (r *RedisStateStore) Load(ctx context.Context) (*State, error) {
	keys := []string{
		r.key(RedisKeyPhase),
		r.key(RedisKeyGeneration),
		r.key(RedisKeyInstanceID),
		r.key(RedisKeyCached),
		r.key(RedisKeyFailed),
		r.key(RedisKeyInstalledAt),
		r.key(RedisKeyActivatedAt),
		r.key(RedisKeyUpdatedAt),
	}
	values, err := r.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("get lifecycle state: %w", err)
	}

	// If no state exists in Redis, return an empty state
	if values[0] == nil {
		r.logger.Debug().Msg("No lifecycle state in Redis")
		return &State{}, nil
	}

	str := func(i int) string {
		s, _ := values[i].(string)
		return s
	}

	state := &State{
		Phase:      Phase(str(0)),
		Generation: str(1),
		InstanceID: str(2),
	}
	for i, dst := range map[int]*int{3: &state.CachedAssets, 4: &state.FailedAssets} {
		if str(i) == "" {
			continue
		}
		n, err := strconv.Atoi(str(i))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", keys[i], err)
		}
		*dst = n
	}
	for i, dst := range map[int]*time.Time{5: &state.InstalledAt, 6: &state.ActivatedAt, 7: &state.UpdatedAt} {
		if str(i) == "" {
			continue
		}
		if err := json.Unmarshal([]byte(str(i)), dst); err != nil {
			return nil, fmt.Errorf("parse %s: %w", keys[i], err)
		}
	}

	return state, nil
}

// Save stores the registration state atomically.
func (r *RedisStateStore) Save(ctx context.Context, s *State) error {
	if s == nil {
		return errors.New("state cannot be nil")
	}

	times := map[string]time.Time{
		RedisKeyInstalledAt: s.InstalledAt,
		RedisKeyActivatedAt: s.ActivatedAt,
		RedisKeyUpdatedAt:   s.UpdatedAt,
	}

	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(RedisKeyPhase), string(s.Phase), 0)
		pipe.Set(ctx, r.key(RedisKeyGeneration), s.Generation, 0)
		pipe.Set(ctx, r.key(RedisKeyInstanceID), s.InstanceID, 0)
		pipe.Set(ctx, r.key(RedisKeyCached), s.CachedAssets, 0)
		pipe.Set(ctx, r.key(RedisKeyFailed), s.FailedAssets, 0)
		for suffix, t := range times {
			if t.IsZero() {
				pipe.Del(ctx, r.key(suffix))
				continue
			}
			data, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", suffix, err)
			}
			pipe.Set(ctx, r.key(suffix), data, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store lifecycle state in redis: %w", err)
	}

	r.logger.Debug().
		Str("phase", string(s.Phase)).
		Str("generation", s.Generation).
		Msg("Lifecycle state stored")
	return nil
}
