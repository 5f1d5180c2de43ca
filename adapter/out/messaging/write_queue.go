package messaging

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"tminus/core/port/out"
)

const writeStreamPrefix = "write:account:"
const writeDeadLetterPrefix = "dlq:write:account:"

// WriteStream returns the per-account Redis Stream name the Write
// Pipeline's consumer group reads from. One stream per account keeps
// that account's writes strictly ordered without a global lock.
func WriteStream(accountID string) string {
	return writeStreamPrefix + accountID
}

// RedisWriteQueue implements out.WriteQueue using Redis Streams, one
// stream per target account.
type RedisWriteQueue struct {
	client *redis.Client
}

func NewRedisWriteQueue(client *redis.Client) *RedisWriteQueue {
	return &RedisWriteQueue{client: client}
}

func (q *RedisWriteQueue) Enqueue(ctx context.Context, task *out.WriteTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal write task: %w", err)
	}

	stream := WriteStream(task.TargetAccount.String())
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue write task to %s: %w", stream, err)
	}
	return nil
}

func (q *RedisWriteQueue) DeadLetter(ctx context.Context, task *out.WriteTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal write task: %w", err)
	}

	stream := writeDeadLetterPrefix + task.TargetAccount.String()
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to dead-letter write task to %s: %w", stream, err)
	}
	return nil
}

var _ out.WriteQueue = (*RedisWriteQueue)(nil)
