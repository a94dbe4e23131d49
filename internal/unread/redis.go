package unread

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// genTTLFactor keeps generation keys alive well past any value they guard.
const genTTLFactor = 10

// RedisCache shares unread counts between API replicas.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{
		client: client,
		prefix: "unread:",
		ttl:    ttl,
	}
}

func (c *RedisCache) countKey(recipientID string) string {
	return c.prefix + recipientID + ":count"
}

func (c *RedisCache) genKey(recipientID string) string {
	return c.prefix + recipientID + ":gen"
}

func (c *RedisCache) Lookup(ctx context.Context, recipientID string) (int, int64, bool, error) {
	values, err := c.client.MGet(ctx, c.countKey(recipientID), c.genKey(recipientID)).Result()
	if err != nil {
		return 0, 0, false, fmt.Errorf("lookup unread count: %w", err)
	}
	gen, err := parseInt(values[1])
	if err != nil {
		return 0, 0, false, fmt.Errorf("decode unread generation: %w", err)
	}
	if values[0] == nil {
		return 0, gen, false, nil
	}
	count, err := parseInt(values[0])
	if err != nil {
		return 0, 0, false, fmt.Errorf("decode unread count: %w", err)
	}
	return int(count), gen, true, nil
}

func (c *RedisCache) Store(ctx context.Context, recipientID string, gen int64, count int) error {
	genKey := c.genKey(recipientID)
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.countKey(recipientID), count, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store unread count: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, recipientID string) error {
	genKey := c.genKey(recipientID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, c.ttl*genTTLFactor)
		pipe.Del(ctx, c.countKey(recipientID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate unread count: %w", err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func parseInt(value any) (int64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected value %T", value)
	}
}
