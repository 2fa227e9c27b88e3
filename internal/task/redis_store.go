package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "TextRelay/internal/errors"
)

// RedisStore 将任务记录以 JSON 形式保存在 Redis 中，写入使用 SET ... EX 原子设置过期时间。
type RedisStore struct {
	client    *redis.Client
	scheme    KeyScheme
	ns        string
	opTimeout time.Duration
	scanCount int64
}

// NewRedisStore 基于已有客户端创建存储。Close 会关闭该客户端。
func NewRedisStore(client *redis.Client, scheme KeyScheme, opTimeout time.Duration) *RedisStore {
	if opTimeout <= 0 {
		opTimeout = 3 * time.Second
	}
	return &RedisStore{
		client:    client,
		scheme:    scheme,
		ns:        NamespaceTask,
		opTimeout: opTimeout,
		scanCount: 200,
	}
}

var _ ResultStore = (*RedisStore)(nil)

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// Put 写入记录。
func (s *RedisStore) Put(ctx context.Context, id string, task *Task, ttl time.Duration) error {
	data, err := encodeTask(task)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.client.Set(ctx, s.scheme.Key(s.ns, id), data, ttl).Err(); err != nil {
		return unavailable(err, fmt.Sprintf("写入任务 %s 失败", id))
	}
	return nil
}

// Get 读取记录。
func (s *RedisStore) Get(ctx context.Context, id string) (*Task, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	data, err := s.client.Get(ctx, s.scheme.Key(s.ns, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable(err, fmt.Sprintf("读取任务 %s 失败", id))
	}
	task, err := decodeTask(id, data)
	if err != nil {
		return nil, false, err
	}
	return task, true, nil
}

// Delete 删除记录，键不存在时同样返回 nil。
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.client.Del(ctx, s.scheme.Key(s.ns, id)).Err(); err != nil {
		return unavailable(err, fmt.Sprintf("删除任务 %s 失败", id))
	}
	return nil
}

// HealthCheck 通过 PING 探测 Redis。
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable(err, "Redis 健康检查失败")
	}
	return nil
}

// IDs 使用 SCAN 遍历命名空间，不会阻塞 Redis。
func (s *RedisStore) IDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, s.scheme.Pattern(s.ns), s.scanCount).Iterator()
	for iter.Next(ctx) {
		_, id, err := s.scheme.Parse(iter.Val())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable(err, "扫描任务键失败")
	}
	return ids, nil
}

// Backend 返回后端名称。
func (s *RedisStore) Backend() string {
	return "redis"
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func unavailable(err error, message string) error {
	return xerrors.Wrap(xerrors.CodeStoreUnavailable, err, message)
}
