package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of a single *redis.Client.
type RedisStore struct {
	client *redis.Client
	opts   *redis.Options
}

// NewRedisStore dials Redis using opts and pings it to fail fast on a bad
// address, matching the teacher's startup-handshake convention.
func NewRedisStore(ctx context.Context, opts *redis.Options) (*RedisStore, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errKind(errors.New("redis ping failed"), err)
	}
	return &RedisStore{client: client, opts: opts}, nil
}

func (s *RedisStore) HashSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	return s.client.HSet(ctx, key, values...).Err()
}

func (s *RedisStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	res, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if res == nil {
		return map[string]string{}, nil
	}
	return res, nil
}

func (s *RedisStore) HashField(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) ListPushRight(ctx context.Context, list, value string) error {
	return s.client.RPush(ctx, list, value).Err()
}

func (s *RedisStore) ListPopLeftBlocking(ctx context.Context, list string, timeout time.Duration) (string, bool, error) {
	res, err := s.client.BLPop(ctx, timeout, list).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	// BLPop returns [listName, value].
	if len(res) < 2 {
		return "", false, nil
	}
	return res[1], true, nil
}

func (s *RedisStore) SetIfAbsentWithTTL(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) ExtendTTL(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) RemainingTTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if d < 0 {
		// -1: no TTL set. -2: key does not exist. Both mean "nothing remaining".
		return 0, nil
	}
	return d, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Duplicate returns a new RedisStore with its own *redis.Client sharing the
// same options, so a blocking pop on one connection never stalls another.
func (s *RedisStore) Duplicate() Store {
	return &RedisStore{client: redis.NewClient(s.opts), opts: s.opts}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func errKind(base, cause error) error {
	return errors.Join(base, cause)
}
