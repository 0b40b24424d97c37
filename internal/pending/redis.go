package pending

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/starford/snippets/internal/apperr"
)

// RedisConfig describes the Redis set holding pending ids.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

const defaultRedisKey = "snippets:pending"

// RedisQueue stores pending ids in a Redis set.
type RedisQueue struct {
	client *redis.Client
	key    string
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg RedisConfig) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisQueueWithClient(client, cfg.Key)
}

// NewRedisQueueWithClient wraps an existing client.
func NewRedisQueueWithClient(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisQueue{client: client, key: key}
}

// Enqueue adds id to the set.
func (q *RedisQueue) Enqueue(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := q.client.SAdd(ctx, q.key, id).Err(); err != nil {
		return apperr.WriteFailed("pending: sadd", err)
	}
	return nil
}

// Dequeue removes id from the set.
func (q *RedisQueue) Dequeue(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := q.client.SRem(ctx, q.key, id).Err(); err != nil {
		return apperr.WriteFailed("pending: srem", err)
	}
	return nil
}

// List returns the pending ids in lexical order.
func (q *RedisQueue) List(ctx context.Context) ([]string, error) {
	ids, err := q.client.SMembers(ctx, q.key).Result()
	if err != nil {
		return nil, fmt.Errorf("pending: smembers: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Len returns the set cardinality.
func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.SCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("pending: scard: %w", err)
	}
	return int(n), nil
}

// Close releases the underlying client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
