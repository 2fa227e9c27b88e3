package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "TextRelay/internal/errors"
	"TextRelay/internal/llm"
	"TextRelay/internal/observability/alerting"
	"TextRelay/internal/observability/metrics"
	"TextRelay/pkg/logger"
)

// Archiver 接收进入终态的任务，用于历史归档。
type Archiver interface {
	Archive(ctx context.Context, task *Task) error
}

// Manager 负责任务的创建、后台执行与查询。
type Manager struct {
	store     ResultStore
	producer  Producer
	processor llm.Client
	archiver  Archiver
	alerts    alerting.Dispatcher
	now       func() time.Time

	provisionalTTL   time.Duration
	retention        time.Duration
	processorTimeout time.Duration
}

// Option 定义可选配置。
type Option func(*Manager)

// WithClock 替换时间来源，主要用于测试过期逻辑。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRetention 设置终态记录的保留时长。
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithProvisionalTTL 设置 pending/running 记录的临时过期时间。
func WithProvisionalTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.provisionalTTL = d
		}
	}
}

// WithProcessorTimeout 设置单次处理器调用的超时。
func WithProcessorTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.processorTimeout = d
		}
	}
}

// WithArchiver 配置终态任务归档。
func WithArchiver(a Archiver) Option {
	return func(m *Manager) {
		m.archiver = a
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(m *Manager) {
		m.alerts = d
	}
}

// NewManager 构造任务管理器。producer 为 nil 时 Submit 不可用，仅支持同步与流式调用。
func NewManager(store ResultStore, producer Producer, processor llm.Client, opts ...Option) *Manager {
	m := &Manager{
		store:            store,
		producer:         producer,
		processor:        processor,
		now:              time.Now,
		provisionalTTL:   time.Hour,
		retention:        time.Hour,
		processorTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Backend 返回结果存储的后端名称。
func (m *Manager) Backend() string {
	if m.store == nil {
		return ""
	}
	return m.store.Backend()
}

// HealthCheck 探测结果存储。
func (m *Manager) HealthCheck(ctx context.Context) error {
	if m.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return m.store.HealthCheck(ctx)
}

// Submit 校验请求，写入 pending 记录并投递到调度队列，立即返回。
func (m *Manager) Submit(ctx context.Context, req llm.Request) (*Task, error) {
	if m.store == nil || m.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	req, err := llm.Prepare(req)
	if err != nil {
		return nil, err
	}

	now := m.now()
	task := &Task{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Status:    StatusPending,
		Input:     req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Put(ctx, task.ID, task, m.provisionalTTL); err != nil {
		logger.L().Error("写入任务失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return nil, err
	}
	if err := m.producer.Publish(ctx, task.ID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("task_id", task.ID))
		wrapped := err
		if xerrors.CodeOf(err) == xerrors.CodeUnknown {
			wrapped = queueFailure(err, "发布任务到队列失败")
		}
		failed := task.fail(describeFailure(wrapped), m.now(), m.retention)
		if putErr := m.store.Put(context.WithoutCancel(ctx), task.ID, failed, m.retention); putErr != nil {
			metrics.TerminalWriteLost()
			logger.L().Error("终态写入失败", slog.Any("error", putErr), slog.String("task_id", task.ID), slog.String("status", string(failed.Status)))
		}
		return nil, wrapped
	}
	metrics.TaskSubmitted(string(task.Kind))
	logger.Audit().InfoContext(ctx, "任务已提交",
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Kind)),
		slog.Int("text_length", len([]rune(req.Text))),
	)
	return task.Clone(), nil
}

// GetStatus 返回任务的当前记录。不存在与已过期统一返回 ErrTaskNotFound。
func (m *Manager) GetStatus(ctx context.Context, id string) (*Task, error) {
	if m.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrTaskNotFound
	}
	task, found, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found || task.Expired(m.now()) {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// Execute 同步执行请求，不写入任何记录。
func (m *Manager) Execute(ctx context.Context, req llm.Request) (string, error) {
	if m.processor == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	req, err := llm.Prepare(req)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, m.processorTimeout)
	defer cancel()
	result, err := m.processor.Generate(ctx, req)
	if err != nil {
		return "", classifyProcessorError(err)
	}
	if result == "" {
		return "", emptyOutput()
	}
	return result, nil
}

// WaitUntilCompleted 轮询任务直到进入终态或 ctx 结束。
func (m *Manager) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := m.GetStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Status.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放队列与存储。
func (m *Manager) Close() error {
	var errs []error
	if m.producer != nil {
		errs = append(errs, m.producer.Close())
	}
	if m.store != nil {
		errs = append(errs, m.store.Close())
	}
	return stdErrors.Join(errs...)
}

// Process 执行一次后台任务：pending → running → completed/failed。
//
// 只处理仍为 pending 的记录，重复投递的 ID 会被跳过。终态写入失败时记录停留在 running，
// 直到临时 TTL 过期后对轮询方不可见；该情况记录为异常但不重试。
func (m *Manager) Process(ctx context.Context, id string) error {
	if m.store == nil || m.processor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, found, err := m.store.Get(ctx, id)
	if err != nil {
		logger.L().Error("读取任务失败", slog.Any("error", err), slog.String("task_id", id))
		return err
	}
	if !found || task.Expired(m.now()) {
		logger.L().Debug("跳过任务", slog.String("task_id", id), slog.String("reason", "not found"))
		return nil
	}
	if task.Status != StatusPending {
		logger.L().Debug("跳过任务", slog.String("task_id", id), slog.String("reason", string(task.Status)))
		return nil
	}

	started := m.now()
	running := task.transition(StatusRunning, started)
	if err := m.store.Put(ctx, id, running, m.provisionalTTL); err != nil {
		logger.L().Error("标记任务运行状态失败", slog.Any("error", err), slog.String("task_id", id))
		return m.finish(ctx, task, "", err, started)
	}
	logger.Audit().InfoContext(ctx, "任务开始执行", slog.String("task_id", id), slog.String("kind", string(task.Kind)))

	pctx, cancel := context.WithTimeout(ctx, m.processorTimeout)
	result, procErr := m.processor.Generate(pctx, running.Input)
	cancel()
	if procErr != nil {
		procErr = classifyProcessorError(procErr)
	} else if result == "" {
		procErr = emptyOutput()
	}
	return m.finish(ctx, running, result, procErr, started)
}

// finish 写入终态记录。写入使用不随 ctx 取消的上下文，保证关闭时仍能落盘。
func (m *Manager) finish(ctx context.Context, base *Task, result string, cause error, started time.Time) error {
	wctx := context.WithoutCancel(ctx)
	now := m.now()
	var next *Task
	if cause != nil {
		next = base.fail(describeFailure(cause), now, m.retention)
	} else {
		next = base.complete(result, now, m.retention)
	}

	if err := m.store.Put(wctx, next.ID, next, m.retention); err != nil {
		metrics.TerminalWriteLost()
		lost := xerrors.Wrap(xerrors.CodeStoreUnavailable, err, "终态写入失败，任务结果丢失",
			xerrors.WithMetadata("status", string(next.Status)),
			xerrors.WithAlert(true))
		logger.L().Error("终态写入失败", slog.Any("error", err), slog.String("task_id", next.ID), slog.String("status", string(next.Status)))
		m.emitAlert(wctx, lost, next.ID)
		return lost
	}

	metrics.TaskFinished(string(next.Kind), string(next.Status), now.Sub(started))
	attrs := []any{
		slog.String("task_id", next.ID),
		slog.String("kind", string(next.Kind)),
		slog.String("status", string(next.Status)),
		slog.Duration("elapsed", now.Sub(started)),
	}
	if next.Error != nil {
		attrs = append(attrs, slog.String("error_code", string(next.Error.Code)), slog.String("error", next.Error.Message))
		logger.Audit().WarnContext(ctx, "任务执行失败", attrs...)
	} else {
		logger.Audit().InfoContext(ctx, "任务执行成功", attrs...)
	}

	if m.archiver != nil {
		if err := m.archiver.Archive(wctx, next); err != nil {
			archiveErr := xerrors.Wrap(xerrors.CodeArchiveFailure, err, "归档任务失败")
			logger.L().Warn("归档任务失败", slog.Any("error", err), slog.String("task_id", next.ID))
			m.emitAlert(wctx, archiveErr, next.ID)
		}
	}
	return nil
}

func (m *Manager) emitAlert(ctx context.Context, err error, taskID string) {
	if m.alerts == nil || !xerrors.ShouldAlert(err) {
		return
	}
	if notifyErr := m.alerts.Notify(ctx, alerting.EventFromError(err, taskID)); notifyErr != nil {
		logger.L().Error("告警通知失败", slog.Any("error", notifyErr), slog.String("task_id", taskID))
	}
}

// emptyOutput 处理器成功返回但没有任何内容时视为处理失败。
func emptyOutput() error {
	return xerrors.New(xerrors.CodeProcessorFailure, "处理器返回空结果")
}

// classifyProcessorError 为没有错误码的处理器错误补充错误码。
func classifyProcessorError(err error) error {
	if err == nil || xerrors.CodeOf(err) != xerrors.CodeUnknown {
		return err
	}
	info := describeFailure(err)
	return xerrors.Wrap(info.Code, err, "处理器调用失败")
}
