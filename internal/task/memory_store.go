package task

import (
	"context"
	"sync"
	"time"

	xerrors "TextRelay/internal/errors"
)

// MemoryStore 是进程内的结果存储，作为 Redis 不可用时的降级后端。
//
// 记录以编码后的字节保存，与 Redis 后端的读写语义保持一致：单键读写原子，无跨键事务。
// 过期记录在读取时视为不存在，并由后台清理协程定期删除。
type MemoryStore struct {
	entries sync.Map // key -> *memoryEntry
	scheme  KeyScheme
	ns      string
	now     func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type memoryEntry struct {
	data     []byte
	deadline time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.deadline.IsZero() && !now.Before(e.deadline)
}

// MemoryStoreOption 定义可选配置。
type MemoryStoreOption func(*MemoryStore)

// WithMemoryClock 替换时间来源，主要用于测试。
func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore 创建内存存储。sweepInterval 大于 0 时启动后台清理协程。
func NewMemoryStore(scheme KeyScheme, sweepInterval time.Duration, opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		scheme: scheme,
		ns:     NamespaceTask,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if sweepInterval > 0 {
		go s.sweepLoop(sweepInterval)
	} else {
		close(s.done)
	}
	return s
}

var _ ResultStore = (*MemoryStore)(nil)

// Put 写入记录。
func (s *MemoryStore) Put(ctx context.Context, id string, task *Task, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStoreUnavailable, err, "写入内存存储被取消")
	}
	data, err := encodeTask(task)
	if err != nil {
		return err
	}
	entry := &memoryEntry{data: data}
	if ttl > 0 {
		entry.deadline = s.now().Add(ttl)
	}
	s.entries.Store(s.scheme.Key(s.ns, id), entry)
	return nil
}

// Get 读取记录。
func (s *MemoryStore) Get(ctx context.Context, id string) (*Task, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeStoreUnavailable, err, "读取内存存储被取消")
	}
	value, ok := s.entries.Load(s.scheme.Key(s.ns, id))
	if !ok {
		return nil, false, nil
	}
	entry := value.(*memoryEntry)
	if entry.expired(s.now()) {
		return nil, false, nil
	}
	task, err := decodeTask(id, entry.data)
	if err != nil {
		return nil, false, err
	}
	return task, true, nil
}

// Delete 删除记录。
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.entries.Delete(s.scheme.Key(s.ns, id))
	return nil
}

// HealthCheck 内存存储始终可用。
func (s *MemoryStore) HealthCheck(context.Context) error {
	return nil
}

// IDs 列出未过期的任务 ID。
func (s *MemoryStore) IDs(ctx context.Context) ([]string, error) {
	now := s.now()
	var ids []string
	s.entries.Range(func(key, value any) bool {
		if ctx.Err() != nil {
			return false
		}
		if value.(*memoryEntry).expired(now) {
			return true
		}
		ns, id, err := s.scheme.Parse(key.(string))
		if err == nil && ns == s.ns {
			ids = append(ids, id)
		}
		return true
	})
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStoreUnavailable, err, "扫描内存存储被取消")
	}
	return ids, nil
}

// Backend 返回后端名称。
func (s *MemoryStore) Backend() string {
	return "memory"
}

// Close 停止后台清理协程并丢弃所有记录。
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		s.entries.Clear()
	})
	return nil
}

// Len 返回当前保存的条目数（含尚未清理的过期条目）。
func (s *MemoryStore) Len() int {
	n := 0
	s.entries.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	now := s.now()
	s.entries.Range(func(key, value any) bool {
		if value.(*memoryEntry).expired(now) {
			s.entries.CompareAndDelete(key, value)
		}
		return true
	})
}
