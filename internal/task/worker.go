package task

import (
	"context"

	xerrors "TextRelay/internal/errors"
)

// Worker 从调度队列消费任务 ID，并交给 Manager 执行。
type Worker struct {
	manager     *Manager
	consumer    Consumer
	workerCount int
}

// WorkerOption 定义可选配置。
type WorkerOption func(*Worker)

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) WorkerOption {
	return func(w *Worker) {
		if workers > 0 {
			w.workerCount = workers
		}
	}
}

// NewWorker 构造 Worker。
func NewWorker(manager *Manager, consumer Consumer, opts ...WorkerOption) *Worker {
	w := &Worker{manager: manager, consumer: consumer, workerCount: 1}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Start 启动消费循环，阻塞直到 ctx 结束。ctx 取消时正在执行的任务以 CANCELLED 结束。
func (w *Worker) Start(ctx context.Context) error {
	if w.consumer == nil || w.manager == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return w.consumer.Consume(ctx, w.workerCount, w.manager.Process)
}
