package ephemeral

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store over a *redis.Client, grounded on the
// teacher's Pipeline-based rate limiter (internal/auth/ratelimit.go) and
// its NewRedisClient bootstrap (internal/platform/redis.go).
type RedisStore struct {
	client *redis.Client
}

// NewRedisClient creates a go-redis client from a URL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}

// NewRedisStore wraps an existing redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) wrap(err error) error {
	if err == nil || err == redis.Nil {
		return nil
	}
	return &ErrUnavailable{Cause: err}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, &ErrUnavailable{Cause: err}
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.wrap(s.client.Set(ctx, key, value, ttl).Err())
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.wrap(s.client.Del(ctx, key).Err())
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, &ErrUnavailable{Cause: err}
	}
	return ok, nil
}

// ZAddExpire adds a scored member and sets the key's TTL in a single
// pipelined round trip, mirroring the Incr+Expire pipeline in
// internal/auth/ratelimit.go.
func (s *RedisStore) ZAddExpire(ctx context.Context, key string, member ZMember, ttl time.Duration) error {
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: member.Score, Member: member.Member})
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return s.wrap(err)
}

func (s *RedisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	return s.wrap(s.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Err())
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, &ErrUnavailable{Cause: err}
	}
	return n, nil
}

func (s *RedisStore) ZMinScore(ctx context.Context, key string) (float64, bool, error) {
	res, err := s.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return 0, false, &ErrUnavailable{Cause: err}
	}
	if len(res) == 0 {
		return 0, false, nil
	}
	return res[0].Score, true, nil
}

func (s *RedisStore) ZCountMatching(ctx context.Context, key string, min, max float64, substr string) (int64, error) {
	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return 0, &ErrUnavailable{Cause: err}
	}
	var count int64
	for _, m := range members {
		if strings.Contains(m, substr) {
			count++
		}
	}
	return count, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.wrap(s.client.Ping(ctx).Err())
}

func formatScore(f float64) string {
	return fmt.Sprintf("%f", f)
}
