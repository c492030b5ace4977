package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "msglog:pending"

// pushScript appends the ID to the list only when the membership set did not
// already hold it, so list and set move together.
var pushScript = redis.NewScript(`
if redis.call('SADD', KEYS[2], ARGV[1]) == 1 then
  return redis.call('RPUSH', KEYS[1], ARGV[1])
end
return 0
`)

// RedisStore is a PendingStore backed by a Redis list plus a membership set.
// Pending IDs survive process restarts and can be shared by several nodes.
type RedisStore struct {
	client  *redis.Client
	listKey string
	setKey  string
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix namespaces the Redis keys.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.listKey = prefix
		s.setKey = prefix + ":ids"
	}
}

// NewRedisStore constructs a Redis-backed pending store.
func NewRedisStore(client *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client:  client,
		listKey: defaultKeyPrefix,
		setKey:  defaultKeyPrefix + ":ids",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisStore) Push(ctx context.Context, id int64) error {
	if err := pushScript.Run(ctx, s.client, []string{s.listKey, s.setKey}, id).Err(); err != nil {
		return fmt.Errorf("push pending id: %w", err)
	}
	return nil
}

func (s *RedisStore) Peek(ctx context.Context, limit int) ([]int64, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	vals, err := s.client.LRange(ctx, s.listKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("peek pending ids: %w", err)
	}
	ids := make([]int64, 0, len(vals))
	for _, v := range vals {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse pending id %q: %w", v, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Remove drops the IDs from both keys in one MULTI/EXEC.
func (s *RedisStore) Remove(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.LRem(ctx, s.listKey, 0, id)
		}
		pipe.SRem(ctx, s.setKey, members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove pending ids: %w", err)
	}
	return nil
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, s.listKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count pending ids: %w", err)
	}
	return int(n), nil
}
