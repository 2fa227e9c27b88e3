package task

import (
	"context"

	xerrors "TextRelay/internal/errors"
)

// Handler 处理来自调度队列的任务 ID。返回的错误只用于记录，队列不会重新投递。
type Handler func(ctx context.Context, taskID string) error

// Producer 负责向队列投递任务。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 负责从队列中消费任务。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// ErrQueueClosed 表示队列已关闭。
var ErrQueueClosed = xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")

func queueFailure(err error, message string) error {
	return xerrors.Wrap(xerrors.CodeQueueFailure, err, message)
}
