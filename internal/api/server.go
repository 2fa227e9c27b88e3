package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"TextRelay/internal/auth"
	"TextRelay/internal/observability/metrics"
	"TextRelay/internal/storage/history"
	"TextRelay/internal/task"
	"TextRelay/pkg/logger"
)

// HistoryReader 读取归档的任务。
type HistoryReader interface {
	ListLatest(ctx context.Context, limit int) ([]history.Record, error)
}

// Info 描述启动时选定的后端，供健康检查展示。
type Info struct {
	Version          string
	Provider         string
	ProviderDegraded bool
	StoreDegraded    bool
	HealthTimeout    time.Duration
}

// Server 负责暴露 REST 接口。
type Server struct {
	manager  *task.Manager
	history  HistoryReader
	verifier *auth.Verifier
	info     Info
	metrics  bool
}

// Option 定义可选配置。
type Option func(*Server)

// WithHistory 启用历史查询接口。
func WithHistory(h HistoryReader) Option {
	return func(s *Server) {
		s.history = h
	}
}

// WithVerifier 为 /api 路由启用 JWT 认证。
func WithVerifier(v *auth.Verifier) Option {
	return func(s *Server) {
		s.verifier = v
	}
}

// WithInfo 设置健康检查展示的服务信息。
func WithInfo(info Info) Option {
	return func(s *Server) {
		s.info = info
	}
}

// WithMetricsRoute 控制是否在主路由上挂载 /metrics。
func WithMetricsRoute(enabled bool) Option {
	return func(s *Server) {
		s.metrics = enabled
	}
}

// NewServer 构造 API 服务实例。
func NewServer(manager *task.Manager, opts ...Option) *Server {
	s := &Server{manager: manager, metrics: true}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.info.Version == "" {
		s.info.Version = "1.0.0"
	}
	if s.info.HealthTimeout <= 0 {
		s.info.HealthTimeout = 3 * time.Second
	}
	return s
}

// Router 返回挂载了全部路由的处理器。
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(logger.Named("http").Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)
	r.Use(observe)
	r.Use(cors)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	if s.metrics {
		r.Handle("/metrics", metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.verifier.Middleware())

		r.Get("/functions", s.handleFunctions)

		r.Post("/translate", s.handleTranslate)
		r.Post("/translate/async", s.handleTranslateAsync)
		r.Post("/translate/stream", s.handleTranslateStream)

		r.Post("/summarize", s.handleSummarize)
		r.Post("/summarize/async", s.handleSummarizeAsync)
		r.Post("/summarize/stream", s.handleSummarizeStream)

		r.Get("/task/{id}", s.handleTaskDetail)
		r.Get("/tasks/stats", s.handleStats)
		r.Get("/tasks/history", s.handleHistory)
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context, addr string, readTimeout, writeTimeout, shutdownTimeout time.Duration) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           withContext(ctx, s.Router()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Named("http").Info("HTTP 服务已启动", slog.String("address", addr))

	select {
	case <-ctx.Done():
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// observe 按路由模板记录请求指标。
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ObserveHTTPRequest(route, r.Method, status, time.Since(start))
	})
}

// cors 允许任意来源调用接口。
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
