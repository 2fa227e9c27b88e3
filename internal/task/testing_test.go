package task

import (
	"context"
	"io"
	"iter"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "TextRelay/internal/errors"
	"TextRelay/internal/llm"
	"TextRelay/pkg/logger"
)

// fakeClock 是可手动推进的时钟。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// scriptedProcessor 按脚本返回结果或片段。
type scriptedProcessor struct {
	result    string
	err       error
	fragments []string
	streamErr error
	latency   time.Duration
	gate      chan struct{}

	calls    atomic.Int32
	produced atomic.Int32
	lastReq  atomic.Pointer[llm.Request]
}

func (p *scriptedProcessor) Generate(ctx context.Context, req llm.Request) (string, error) {
	p.calls.Add(1)
	p.lastReq.Store(&req)
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.err != nil {
		return "", p.err
	}
	return p.result, nil
}

func (p *scriptedProcessor) GenerateStream(ctx context.Context, req llm.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		p.calls.Add(1)
		p.lastReq.Store(&req)
		for _, f := range p.fragments {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			p.produced.Add(1)
			if !yield(f, nil) {
				return
			}
		}
		if p.streamErr != nil {
			yield("", p.streamErr)
		}
	}
}

var _ llm.Client = (*scriptedProcessor)(nil)

// flakyStore 包装 MemoryStore，可按调用注入写入失败。
type flakyStore struct {
	*MemoryStore
	failPut func(t *Task) error
}

func (s *flakyStore) Put(ctx context.Context, id string, t *Task, ttl time.Duration) error {
	if s.failPut != nil {
		if err := s.failPut(t); err != nil {
			return err
		}
	}
	return s.MemoryStore.Put(ctx, id, t, ttl)
}

// unreachableStore 模拟无法连接的首选存储。
type unreachableStore struct {
	*MemoryStore
	closed atomic.Bool
}

func (s *unreachableStore) HealthCheck(context.Context) error {
	return xerrors.New(xerrors.CodeStoreUnavailable, "connection refused")
}

func (s *unreachableStore) Backend() string { return "redis" }

func (s *unreachableStore) Close() error {
	s.closed.Store(true)
	return s.MemoryStore.Close()
}

// failingProducer 的 Publish 总是失败。
type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error {
	return xerrors.New(xerrors.CodeQueueFailure, "broker down")
}

func (failingProducer) Close() error { return nil }

// recordingArchiver 记录归档的任务。
type recordingArchiver struct {
	mu    sync.Mutex
	tasks []*Task
}

func (a *recordingArchiver) Archive(_ context.Context, t *Task) error {
	a.mu.Lock()
	a.tasks = append(a.tasks, t.Clone())
	a.mu.Unlock()
	return nil
}

func (a *recordingArchiver) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tasks)
}

func TestMain(m *testing.M) {
	logger.UseWriter(io.Discard, "json")
	os.Exit(m.Run())
}
