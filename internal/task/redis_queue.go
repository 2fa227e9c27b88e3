package task

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"TextRelay/pkg/logger"
)

// RedisQueue 使用 Redis list 实现调度队列。任务只投递一次，处理失败不会重新入队。
type RedisQueue struct {
	client *redis.Client
	queue  string
	wait   time.Duration
}

// NewRedisQueue 基于已有客户端创建 Redis 队列。list 为空时使用键方案下的 dispatch 命名空间。
// Close 会关闭该客户端，因此不要与结果存储共用同一个客户端。
func NewRedisQueue(client *redis.Client, scheme KeyScheme, list string, blockWait time.Duration) *RedisQueue {
	if list == "" {
		list = scheme.Key(NamespaceDispatch, "queue")
	}
	if blockWait <= 0 {
		blockWait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: list, wait: blockWait}
}

var _ Queue = (*RedisQueue)(nil)

// Name 返回 list 的键名。
func (q *RedisQueue) Name() string {
	return q.queue
}

// Publish 将任务投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, taskID string) error {
	if err := q.client.LPush(ctx, q.queue, taskID).Err(); err != nil {
		return queueFailure(err, "Redis 发布任务失败")
	}
	return nil
}

// Consume 通过 BRPOP 从 Redis 获取任务，阻塞直到 ctx 结束或连接关闭。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				if ctx.Err() != nil {
					errCh <- ctx.Err()
					return
				}
				values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
				switch {
				case errors.Is(err, redis.Nil):
					continue
				case errors.Is(err, context.Canceled), errors.Is(err, redis.ErrClosed):
					errCh <- err
					return
				case err != nil:
					logger.L().Warn("Redis 取任务失败", slog.Any("error", err))
					select {
					case <-ctx.Done():
					case <-time.After(time.Second):
					}
					continue
				}
				if len(values) != 2 {
					continue
				}
				taskID := values[1]
				if err := handler(ctx, taskID); err != nil {
					logger.L().Warn("处理任务失败", slog.String("task_id", taskID), slog.Any("error", err))
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
