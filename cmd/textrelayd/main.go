package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"TextRelay/internal/api"
	"TextRelay/internal/auth"
	"TextRelay/internal/config"
	"TextRelay/internal/llm/provider"
	"TextRelay/internal/observability/alerting"
	"TextRelay/internal/observability/metrics"
	"TextRelay/internal/storage/history"
	"TextRelay/internal/storage/redis"
	"TextRelay/internal/task"
	"TextRelay/pkg/logger"
)

const memorySweepInterval = time.Minute

// main 是 TextRelay 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("textrelayd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("textrelayd")

	alerts := buildAlerts(cfg.Alerting)

	scheme, err := task.NewKeyScheme(cfg.Store.Prefix)
	if err != nil {
		return err
	}
	selection, err := selectStore(ctx, cfg, scheme, alerts)
	if err != nil {
		return err
	}

	llmSel, err := provider.New(ctx, cfg.LLM)
	if err != nil {
		_ = selection.Store.Close()
		return err
	}

	queue, err := buildQueue(cfg, scheme, selection)
	if err != nil {
		_ = selection.Store.Close()
		return err
	}

	opts := []task.Option{
		task.WithRetention(cfg.Task.Retention),
		task.WithProvisionalTTL(cfg.Task.ProvisionalTTL),
		task.WithProcessorTimeout(cfg.Task.ProcessorTimeout),
		task.WithAlertDispatcher(alerts),
	}
	var archive *history.Repository
	if cfg.History.Driver != "" && cfg.History.Driver != "none" {
		archive, err = history.Open(ctx, history.Config{Driver: cfg.History.Driver, DSN: cfg.History.DSN})
		if err != nil {
			_ = queue.Close()
			_ = selection.Store.Close()
			return err
		}
		defer archive.Close()
		opts = append(opts, task.WithArchiver(archive))
	}

	manager := task.NewManager(selection.Store, queue, llmSel.Client, opts...)
	defer func() {
		if err := manager.Close(); err != nil {
			lg.Warn("关闭任务服务失败", slog.Any("error", err))
		}
	}()

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	bgCtx, cancelBG := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancelBG()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		worker := task.NewWorker(manager, queue, task.WithWorkerCount(cfg.Task.Workers))
		if err := worker.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	if selection.Backend == "redis" && cfg.Store.HealthInterval > 0 {
		monitor := task.NewHealthMonitor(selection.Store, cfg.Store.HealthInterval, cfg.Store.HealthTimeout)
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitor.Run(bgCtx)
		}()
	}

	if cfg.Server.MetricsAddress != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.StartServer(bgCtx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	serverOpts := []api.Option{
		api.WithVerifier(verifier),
		api.WithMetricsRoute(cfg.Server.MetricsAddress == ""),
		api.WithInfo(api.Info{
			Provider:         llmSel.Name,
			ProviderDegraded: llmSel.Degraded,
			StoreDegraded:    selection.Degraded,
			HealthTimeout:    cfg.Store.HealthTimeout,
		}),
	}
	if archive != nil {
		serverOpts = append(serverOpts, api.WithHistory(archive))
	}
	server := api.NewServer(manager, serverOpts...)

	lg.Info("TextRelay 已启动",
		slog.String("address", cfg.Server.Address),
		slog.String("store", selection.Backend),
		slog.String("provider", llmSel.Name),
	)
	err = server.Start(ctx, cfg.Server.Address, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	lg.Info("TextRelay 正在退出")
	return nil
}

func buildAlerts(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.WebhookURL, cfg.Timeout))
	}
	return alerting.NewFanout(notifiers...)
}

func selectStore(ctx context.Context, cfg *config.Config, scheme task.KeyScheme, alerts alerting.Dispatcher) (task.Selection, error) {
	fallback := func() task.ResultStore {
		return task.NewMemoryStore(scheme, memorySweepInterval)
	}
	var preferred task.ResultStore
	if cfg.Store.Driver == "redis" {
		client, err := redis.NewClient(redis.Config{
			Address:   cfg.Store.Redis.Address,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			OpTimeout: cfg.Store.OpTimeout,
		})
		if err != nil {
			return task.Selection{}, err
		}
		preferred = task.NewRedisStore(client, scheme, cfg.Store.OpTimeout)
	}
	return task.SelectStore(ctx, preferred, fallback, cfg.Store.HealthTimeout, alerts), nil
}

// buildQueue 创建调度队列。结果存储已降级时 Redis 队列同样不可用，改用内存队列。
func buildQueue(cfg *config.Config, scheme task.KeyScheme, selection task.Selection) (task.Queue, error) {
	qc := cfg.Task.Queue
	switch qc.Driver {
	case "", "memory":
		return task.NewMemoryQueue(qc.Size), nil
	case "redis":
		if selection.Degraded {
			logger.Named("textrelayd").Warn("Redis 不可用，调度队列改用内存实现")
			return task.NewMemoryQueue(qc.Size), nil
		}
		client, err := redis.NewClient(redis.Config{
			Address:   cfg.Store.Redis.Address,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			OpTimeout: cfg.Store.OpTimeout,
		})
		if err != nil {
			return nil, err
		}
		return task.NewRedisQueue(client, scheme, qc.Redis.List, qc.Redis.BlockWait), nil
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      qc.RabbitMQ.URL,
			Queue:    qc.RabbitMQ.Queue,
			Prefetch: qc.RabbitMQ.Prefetch,
			Durable:  qc.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", qc.Driver)
	}
}
