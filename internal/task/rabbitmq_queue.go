package task

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"TextRelay/pkg/logger"
)

const (
	defaultRabbitMQQueue = "textrelay.dispatch"
	// dispatchMessageType 标记任务调度消息，消费端丢弃其他类型。
	dispatchMessageType = "textrelay.task"
)

// RabbitMQConfig 描述 RabbitMQ 调度队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 以 RabbitMQ 队列承载待处理的任务 ID。
//
// 发布使用 publisher confirm，Broker 确认后 Publish 才返回；未确认时 Submit 会把任务记为失败。
// 消费端在 Process 返回后确认消息，执行失败不重新投递，失败原因已写入任务记录。
// 关闭过程中才送达的消息会退回队列，由下次启动的 Worker 处理。
type RabbitMQQueue struct {
	conn       *amqp.Connection
	pub        *amqp.Channel
	sub        *amqp.Channel
	queue      string
	persistent bool

	pubMu  sync.Mutex
	closed atomic.Bool
}

var _ Queue = (*RabbitMQQueue)(nil)

// NewRabbitMQQueue 连接 Broker 并声明调度队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, queueFailure(errors.New("empty url"), "RabbitMQ URL 不能为空")
	}
	name := cfg.Queue
	if name == "" {
		name = defaultRabbitMQQueue
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, queueFailure(err, "连接 RabbitMQ 失败")
	}
	q := &RabbitMQQueue{conn: conn, queue: name, persistent: cfg.Durable}
	if err := q.setup(cfg); err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.L().Info("RabbitMQ 调度队列已就绪", slog.String("queue", name), slog.Bool("durable", cfg.Durable))
	return q, nil
}

func (q *RabbitMQQueue) setup(cfg RabbitMQConfig) error {
	var err error
	if q.pub, err = q.conn.Channel(); err != nil {
		return queueFailure(err, "创建 RabbitMQ 发布通道失败")
	}
	if err := q.pub.Confirm(false); err != nil {
		return queueFailure(err, "开启 RabbitMQ 发布确认失败")
	}
	if _, err := q.pub.QueueDeclare(q.queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		return queueFailure(err, "声明 RabbitMQ 队列失败")
	}
	if q.sub, err = q.conn.Channel(); err != nil {
		return queueFailure(err, "创建 RabbitMQ 消费通道失败")
	}
	if cfg.Prefetch > 0 {
		if err := q.sub.Qos(cfg.Prefetch, 0, false); err != nil {
			return queueFailure(err, "设置 RabbitMQ 预取数量失败")
		}
	}
	return nil
}

// Publish 投递任务 ID 并等待 Broker 确认。
func (q *RabbitMQQueue) Publish(ctx context.Context, taskID string) error {
	if q == nil || q.closed.Load() {
		return ErrQueueClosed
	}
	msg := amqp.Publishing{
		ContentType: "text/plain",
		Type:        dispatchMessageType,
		MessageId:   taskID,
		Timestamp:   time.Now().UTC(),
		Body:        []byte(taskID),
	}
	if q.persistent {
		msg.DeliveryMode = amqp.Persistent
	}

	q.pubMu.Lock()
	confirm, err := q.pub.PublishWithDeferredConfirmWithContext(ctx, "", q.queue, false, false, msg)
	q.pubMu.Unlock()
	if err != nil {
		return queueFailure(err, "RabbitMQ 发布任务失败")
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return queueFailure(err, "等待 RabbitMQ 发布确认失败")
	}
	if !acked {
		return queueFailure(errors.New("nack"), "RabbitMQ 拒绝了任务消息")
	}
	return nil
}

// Consume 以手动确认模式消费调度队列，阻塞直到 ctx 结束或连接断开。
//
// 连接断开时返回 QUEUE_FAILURE；未确认的消息由 Broker 重新入队。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.closed.Load() {
		return ErrQueueClosed
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	deliveries, err := q.sub.ConsumeWithContext(ctx, q.queue, "", false, false, false, false, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return queueFailure(err, "订阅 RabbitMQ 队列失败")
	}

	var wg sync.WaitGroup
	for range workerCount {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				q.deliver(ctx, d, handler)
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if q.closed.Load() {
		return ErrQueueClosed
	}
	return queueFailure(amqp.ErrClosed, "RabbitMQ 订阅已断开")
}

func (q *RabbitMQQueue) deliver(ctx context.Context, d amqp.Delivery, handler Handler) {
	if ctx.Err() != nil {
		_ = d.Nack(false, true)
		return
	}
	taskID := strings.TrimSpace(string(d.Body))
	if taskID == "" || (d.Type != "" && d.Type != dispatchMessageType) {
		logger.L().Warn("丢弃无法识别的调度消息", slog.String("message_id", d.MessageId), slog.String("type", d.Type))
		_ = d.Reject(false)
		return
	}
	if err := handler(ctx, taskID); err != nil {
		logger.L().Warn("处理任务失败", slog.String("task_id", taskID), slog.Any("error", err))
	}
	if err := d.Ack(false); err != nil {
		logger.L().Warn("确认调度消息失败", slog.String("task_id", taskID), slog.Any("error", err))
	}
}

// Close 关闭连接，可重复调用。
func (q *RabbitMQQueue) Close() error {
	if q == nil || !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := q.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return queueFailure(err, "关闭 RabbitMQ 连接失败")
	}
	return nil
}
