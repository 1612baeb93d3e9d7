package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGenStore keeps generations next to values held in a Redis provider.
// A TTL on generation keys bounds growth. Reads and bumps both extend it, so
// only keys idle for a whole TTL expire; an expired generation reads as 0 and
// the matching value frame then fails validation and self-heals.
type RedisGenStore struct {
	rdb redis.UniversalClient
	ns  string        // should match the cache namespace (session scoped)
	ttl time.Duration // 0 disables expiry
}

var _ GenStore = (*RedisGenStore)(nil)

// NewRedisGenStore creates a Redis-backed generation store. If ttl <= 0, keys
// do not expire. The client is not closed by Close.
func NewRedisGenStore(client redis.UniversalClient, namespace string, ttl time.Duration) *RedisGenStore {
	return &RedisGenStore{rdb: client, ns: namespace, ttl: ttl}
}

func (s *RedisGenStore) key(k string) string { return "gen:" + s.ns + ":" + k }

func (s *RedisGenStore) Snapshot(ctx context.Context, storageKey string) (uint64, error) {
	var res string
	var err error
	if s.ttl > 0 {
		res, err = s.rdb.GetEx(ctx, s.key(storageKey), s.ttl).Result()
	} else {
		res, err = s.rdb.Get(ctx, s.key(storageKey)).Result()
	}
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis gen parse: %w", err)
	}
	return u, nil
}

// Bump increments the generation. With a TTL, INCR and EXPIRE are pipelined in
// one round trip.
func (s *RedisGenStore) Bump(ctx context.Context, storageKey string) (uint64, error) {
	k := s.key(storageKey)
	if s.ttl <= 0 {
		return s.rdb.Incr(ctx, k).Uint64()
	}
	var incr *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

func (s *RedisGenStore) Forget(ctx context.Context, storageKeys ...string) error {
	if len(storageKeys) == 0 {
		return nil
	}
	keys := make([]string, len(storageKeys))
	for i, k := range storageKeys {
		keys[i] = s.key(k)
	}
	return s.rdb.Del(ctx, keys...).Err()
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisGenStore) Close(context.Context) error { return nil }
