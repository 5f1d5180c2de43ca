package messaging

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"tminus/core/port/out"
)

// SyncPollStream is the single shared stream the Sync Pipeline's
// consumer group drains; unlike writes, polls don't need per-account
// ordering since each poll is independent and idempotent.
const SyncPollStream = "sync:poll"

// RedisSyncQueue implements out.SyncQueue using a single Redis Stream.
type RedisSyncQueue struct {
	client *redis.Client
}

func NewRedisSyncQueue(client *redis.Client) *RedisSyncQueue {
	return &RedisSyncQueue{client: client}
}

func (q *RedisSyncQueue) Enqueue(ctx context.Context, task *out.SyncPollTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal sync poll task: %w", err)
	}

	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: SyncPollStream,
		ID:     "*",
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue sync poll task: %w", err)
	}
	return nil
}

var _ out.SyncQueue = (*RedisSyncQueue)(nil)
