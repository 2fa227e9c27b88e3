package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	xerrors "TextRelay/internal/errors"
	"TextRelay/internal/observability/alerting"
	"TextRelay/internal/observability/metrics"
	"TextRelay/pkg/logger"
)

// Selection 描述启动时选定的结果存储。
type Selection struct {
	Store    ResultStore
	Backend  string
	Degraded bool
	// Reason 记录降级原因，未降级时为 nil。
	Reason error
}

// SelectStore 在启动时探测首选存储，不可用时关闭它并改用 fallback 构造的存储。
//
// 选择只发生一次，运行期间不会切换后端。降级会记录日志、更新指标并发出告警。
func SelectStore(ctx context.Context, preferred ResultStore, fallback func() ResultStore, healthTimeout time.Duration, alerts alerting.Dispatcher) Selection {
	log := logger.Named("store")
	if preferred != nil {
		probeCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		err := preferred.HealthCheck(probeCtx)
		cancel()
		if err == nil {
			log.Info("结果存储就绪", slog.String("backend", preferred.Backend()))
			metrics.SetStoreBackend(preferred.Backend(), false)
			metrics.SetStoreHealthy(true)
			return Selection{Store: preferred, Backend: preferred.Backend()}
		}
		_ = preferred.Close()
		reason := xerrors.Wrap(xerrors.CodeStoreUnavailable, err, "首选结果存储不可用，降级为内存存储",
			xerrors.WithMetadata("backend", preferred.Backend()),
			xerrors.WithAlert(true))
		log.Warn("结果存储降级", slog.String("from", preferred.Backend()), slog.Any("error", err))
		if alerts != nil {
			if notifyErr := alerts.Notify(ctx, alerting.EventFromError(reason, "")); notifyErr != nil {
				log.Warn("发送降级告警失败", slog.Any("error", notifyErr))
			}
		}
		store := fallback()
		metrics.SetStoreBackend(store.Backend(), true)
		metrics.SetStoreHealthy(true)
		return Selection{Store: store, Backend: store.Backend(), Degraded: true, Reason: reason}
	}
	store := fallback()
	log.Info("结果存储就绪", slog.String("backend", store.Backend()))
	metrics.SetStoreBackend(store.Backend(), false)
	metrics.SetStoreHealthy(true)
	return Selection{Store: store, Backend: store.Backend()}
}

// HealthMonitor 周期性探测结果存储并上报状态，只用于观测，不会切换后端。
type HealthMonitor struct {
	store    ResultStore
	interval time.Duration
	timeout  time.Duration

	mu      sync.RWMutex
	lastErr error
	checked time.Time
}

// NewHealthMonitor 创建健康监视器。
func NewHealthMonitor(store ResultStore, interval, timeout time.Duration) *HealthMonitor {
	return &HealthMonitor{store: store, interval: interval, timeout: timeout}
}

// Run 阻塞直到 ctx 结束。interval 不大于 0 时只探测一次。
func (m *HealthMonitor) Run(ctx context.Context) {
	m.Probe(ctx)
	if m.interval <= 0 {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe 立即执行一次探测并返回结果。
func (m *HealthMonitor) Probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.store.HealthCheck(probeCtx)
	cancel()

	m.mu.Lock()
	prev := m.lastErr
	m.lastErr = err
	m.checked = time.Now()
	m.mu.Unlock()

	metrics.SetStoreHealthy(err == nil)
	switch {
	case err != nil && prev == nil:
		logger.Named("store").Warn("结果存储健康检查失败", slog.String("backend", m.store.Backend()), slog.Any("error", err))
	case err == nil && prev != nil:
		logger.Named("store").Info("结果存储恢复", slog.String("backend", m.store.Backend()))
	}
	return err
}

// Healthy 返回最近一次探测是否成功。
func (m *HealthMonitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr == nil
}

// LastProbe 返回最近一次探测的时间与错误。
func (m *HealthMonitor) LastProbe() (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checked, m.lastErr
}
