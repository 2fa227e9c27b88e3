package llm

import (
	"context"
	"errors"
	"iter"
	"log/slog"

	"TextRelay/pkg/logger"
)

// Fallback 在主处理器失败时改用备用处理器（通常是模拟实现）。
//
// 流式调用只在第一个片段产生之前降级；一旦已经输出内容，后续错误原样交给调用方，
// 避免把两个处理器的输出拼接在一起。
type Fallback struct {
	primary   Client
	secondary Client
	name      string
}

// NewFallback 构造降级处理器。name 用于日志中标识主处理器。
func NewFallback(name string, primary, secondary Client) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, name: name}
}

var _ Client = (*Fallback)(nil)

// Generate 调用主处理器，失败时返回备用处理器的结果。
func (f *Fallback) Generate(ctx context.Context, req Request) (string, error) {
	result, err := f.primary.Generate(ctx, req)
	if err == nil || !f.shouldDegrade(ctx, err) {
		return result, err
	}
	f.logDegrade(req, err, "generate")
	return f.secondary.Generate(ctx, req)
}

// GenerateStream 流式调用主处理器，首个片段之前失败时切换到备用处理器。
func (f *Fallback) GenerateStream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		emitted := false
		for fragment, err := range f.primary.GenerateStream(ctx, req) {
			if err != nil {
				if emitted || !f.shouldDegrade(ctx, err) {
					yield("", err)
					return
				}
				f.logDegrade(req, err, "stream")
				for fragment, err := range f.secondary.GenerateStream(ctx, req) {
					if !yield(fragment, err) || err != nil {
						return
					}
				}
				return
			}
			emitted = true
			if !yield(fragment, nil) {
				return
			}
		}
	}
}

func (f *Fallback) shouldDegrade(ctx context.Context, err error) bool {
	if f.secondary == nil || ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (f *Fallback) logDegrade(req Request, err error, mode string) {
	logger.L().Warn("处理器调用失败，降级为模拟输出",
		slog.String("provider", f.name),
		slog.String("kind", string(req.Kind)),
		slog.String("mode", mode),
		slog.Any("error", err),
	)
}
