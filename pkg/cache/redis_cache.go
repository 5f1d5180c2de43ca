// Package cache provides the Redis-backed implementation of the Cache
// outbound port (core/port/out.Cache): generic key/value, hash, list, set,
// sorted-set, pub/sub, and lock primitives used by the write/sync pipelines
// and the session/hold TTL bookkeeping.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Redis-backed Cache implementation.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	return c.client.Get(ctx, key).Bytes()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *RedisCache) GetString(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func (c *RedisCache) SetString(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) GetInt(ctx context.Context, key string) (int64, error) {
	return c.client.Get(ctx, key).Int64()
}

func (c *RedisCache) SetInt(ctx context.Context, key string, value int64, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, key).Result()
}

func (c *RedisCache) IncrBy(ctx context.Context, key string, value int64) (int64, error) {
	return c.client.IncrBy(ctx, key, value).Result()
}

func (c *RedisCache) Decr(ctx context.Context, key string) (int64, error) {
	return c.client.Decr(ctx, key).Result()
}

func (c *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Expire(ctx, key, ttl).Err()
}

func (c *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.client.TTL(ctx, key).Result()
}

func (c *RedisCache) HGet(ctx context.Context, key, field string) ([]byte, error) {
	return c.client.HGet(ctx, key, field).Bytes()
}

func (c *RedisCache) HSet(ctx context.Context, key, field string, value []byte) error {
	return c.client.HSet(ctx, key, field, value).Err()
}

func (c *RedisCache) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	raw, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(raw))
	for k, v := range raw {
		out[k] = []byte(v)
	}
	return out, nil
}

func (c *RedisCache) HDel(ctx context.Context, key string, fields ...string) error {
	return c.client.HDel(ctx, key, fields...).Err()
}

func (c *RedisCache) LPush(ctx context.Context, key string, values ...[]byte) error {
	return c.client.LPush(ctx, key, toAnySlice(values)...).Err()
}

func (c *RedisCache) RPush(ctx context.Context, key string, values ...[]byte) error {
	return c.client.RPush(ctx, key, toAnySlice(values)...).Err()
}

func (c *RedisCache) LPop(ctx context.Context, key string) ([]byte, error) {
	return c.client.LPop(ctx, key).Bytes()
}

func (c *RedisCache) RPop(ctx context.Context, key string) ([]byte, error) {
	return c.client.RPop(ctx, key).Bytes()
}

func (c *RedisCache) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	vals, err := c.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	return toByteSlices(vals), nil
}

func (c *RedisCache) LLen(ctx context.Context, key string) (int64, error) {
	return c.client.LLen(ctx, key).Result()
}

func (c *RedisCache) SAdd(ctx context.Context, key string, members ...[]byte) error {
	return c.client.SAdd(ctx, key, toAnySlice(members)...).Err()
}

func (c *RedisCache) SRem(ctx context.Context, key string, members ...[]byte) error {
	return c.client.SRem(ctx, key, toAnySlice(members)...).Err()
}

func (c *RedisCache) SMembers(ctx context.Context, key string) ([][]byte, error) {
	vals, err := c.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	return toByteSlices(vals), nil
}

func (c *RedisCache) SIsMember(ctx context.Context, key string, member []byte) (bool, error) {
	return c.client.SIsMember(ctx, key, member).Result()
}

func (c *RedisCache) ZAdd(ctx context.Context, key string, score float64, member []byte) error {
	return c.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (c *RedisCache) ZRem(ctx context.Context, key string, members ...[]byte) error {
	return c.client.ZRem(ctx, key, toAnySlice(members)...).Err()
}

func (c *RedisCache) ZRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	vals, err := c.client.ZRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	return toByteSlices(vals), nil
}

func (c *RedisCache) ZRangeByScore(ctx context.Context, key string, min, max float64) ([][]byte, error) {
	vals, err := c.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", min),
		Max: fmt.Sprintf("%f", max),
	}).Result()
	if err != nil {
		return nil, err
	}
	return toByteSlices(vals), nil
}

func (c *RedisCache) Publish(ctx context.Context, channel string, message []byte) error {
	return c.client.Publish(ctx, channel, message).Err()
}

func (c *RedisCache) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := c.client.Subscribe(ctx, channel)
	out := make(chan []byte)
	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				out <- []byte(msg.Payload)
			}
		}
	}()
	return out, nil
}

// Lock acquires a best-effort distributed lock via SET NX PX. Used to
// serialize tentative-hold creation and drift reconciliation across
// replicas of the same mailbox actor.
func (c *RedisCache) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, "lock:"+key, "1", ttl).Result()
}

func (c *RedisCache) Unlock(ctx context.Context, key string) error {
	return c.client.Del(ctx, "lock:"+key).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func toAnySlice(values [][]byte) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func toByteSlices(values []string) [][]byte {
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out
}
