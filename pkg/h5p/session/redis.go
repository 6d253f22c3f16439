package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each session in a Redis hash that expires ttl after the
// last write. Lists live in their own keys next to the hash.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. Keys are prefix + session id.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(sid string) string {
	return s.prefix + sid
}

func (s *RedisStore) listKey(sid, key string) string {
	return s.prefix + sid + ":" + key
}

func (s *RedisStore) Get(ctx context.Context, sid, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.key(sid), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read session: %w", err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, sid, key, value string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(sid), key, value)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key(sid), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

func (s *RedisStore) Pull(ctx context.Context, sid, key string) (string, bool, error) {
	var get *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.HGet(ctx, s.key(sid), key)
		pipe.HDel(ctx, s.key(sid), key)
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to pull session value: %w", err)
	}
	return get.Val(), true, nil
}

func (s *RedisStore) Append(ctx context.Context, sid, key, value string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.listKey(sid, key), value)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.listKey(sid, key), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append session value: %w", err)
	}
	return nil
}

func (s *RedisStore) PullList(ctx context.Context, sid, key string) ([]string, error) {
	var values *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		values = pipe.LRange(ctx, s.listKey(sid, key), 0, -1)
		pipe.Del(ctx, s.listKey(sid, key))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pull session list: %w", err)
	}
	return values.Val(), nil
}

var _ Store = (*RedisStore)(nil)
