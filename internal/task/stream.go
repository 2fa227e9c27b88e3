package task

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	xerrors "TextRelay/internal/errors"
	"TextRelay/internal/llm"
	"TextRelay/internal/observability/metrics"
	"TextRelay/pkg/logger"
)

// ChunkType 标识流式输出中的片段类型。
type ChunkType string

const (
	ChunkFragment ChunkType = "chunk"
	ChunkDone     ChunkType = "done"
	ChunkError    ChunkType = "error"
)

// Chunk 是流式输出的一个单元：内容片段、携带完整结果的结束标记或错误标记。
type Chunk struct {
	Type    ChunkType    `json:"type"`
	Content string       `json:"content,omitempty"`
	Result  string       `json:"full_result,omitempty"`
	Code    xerrors.Code `json:"code,omitempty"`
	Message string       `json:"message,omitempty"`
}

// Terminal 判断片段是否为结束标记。
func (c Chunk) Terminal() bool {
	return c.Type == ChunkDone || c.Type == ChunkError
}

// StreamOptions 控制流式调用的行为。
type StreamOptions struct {
	// Persist 为 true 时分配任务 ID，并以与异步任务相同的方式保存最终结果。
	Persist bool
}

// Stream 是一次流式调用，Chunks 只能被消费一次。
type Stream struct {
	// TaskID 仅在持久化时非空。
	TaskID string

	m        *Manager
	ctx      context.Context
	req      llm.Request
	record   *Task
	started  time.Time
	consumed atomic.Bool
}

// Stream 校验请求并准备一次流式调用，处理器在消费 Chunks 时才开始工作。
func (m *Manager) Stream(ctx context.Context, req llm.Request, opts StreamOptions) (*Stream, error) {
	if m.processor == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	req, err := llm.Prepare(req)
	if err != nil {
		return nil, err
	}
	s := &Stream{m: m, ctx: ctx, req: req, started: m.now()}
	if !opts.Persist {
		return s, nil
	}
	if m.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	record := &Task{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Status:    StatusRunning,
		Input:     req,
		CreatedAt: s.started,
		UpdatedAt: s.started,
	}
	if err := m.store.Put(ctx, record.ID, record, m.provisionalTTL); err != nil {
		return nil, err
	}
	s.TaskID = record.ID
	s.record = record
	return s, nil
}

// Chunks 返回按处理器产生顺序排列的片段序列，最后一个元素总是 done 或 error 标记。
//
// 序列是拉取式的：只有消费方请求下一个片段时处理器才继续产生。消费方提前停止时，
// 处理器调用的 ctx 被取消；持久化的流记录为 CANCELLED。
//
// 空片段直接丢弃，不会交给消费方；其余片段原样转发，不做合并。所有片段都为空时以
// PROCESSOR_FAILURE 错误标记结束。
func (s *Stream) Chunks() iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			yield(Chunk{Type: ChunkError, Code: CodeStreamConsumed, Message: ErrStreamConsumed.Message()})
			return
		}
		ctx, cancel := context.WithTimeout(s.ctx, s.m.processorTimeout)
		defer cancel()

		kind := string(s.req.Kind)
		var full strings.Builder
		for fragment, err := range s.m.processor.GenerateStream(ctx, s.req) {
			if err != nil {
				err = classifyProcessorError(err)
				info := describeFailure(err)
				s.persist("", err)
				metrics.StreamFinished(kind, "error")
				yield(Chunk{Type: ChunkError, Code: info.Code, Message: info.Message})
				return
			}
			if fragment == "" {
				continue
			}
			full.WriteString(fragment)
			if !yield(Chunk{Type: ChunkFragment, Content: fragment}) {
				s.persist("", xerrors.New(xerrors.CodeCancelled, "客户端已断开连接"))
				metrics.StreamFinished(kind, "abandoned")
				return
			}
		}
		result := full.String()
		if result == "" {
			err := emptyOutput()
			info := describeFailure(err)
			s.persist("", err)
			metrics.StreamFinished(kind, "error")
			yield(Chunk{Type: ChunkError, Code: info.Code, Message: info.Message})
			return
		}
		s.persist(result, nil)
		metrics.StreamFinished(kind, "done")
		yield(Chunk{Type: ChunkDone, Result: result})
	}
}

func (s *Stream) persist(result string, cause error) {
	if s.record == nil {
		return
	}
	if err := s.m.finish(s.ctx, s.record, result, cause, s.started); err != nil {
		logger.L().Warn("保存流式结果失败", slog.String("task_id", s.TaskID), slog.Any("error", err))
	}
}
