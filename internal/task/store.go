package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	xerrors "TextRelay/internal/errors"
)

// ResultStore 抽象任务记录的持久化，Redis 与内存实现遵循同一契约。
type ResultStore interface {
	// Put 整体写入记录并设置过期时间。
	Put(ctx context.Context, id string, task *Task, ttl time.Duration) error
	// Get 返回记录；不存在或已过期时 found 为 false。无法解码时返回 ErrStoreCorrupt。
	Get(ctx context.Context, id string) (task *Task, found bool, err error)
	// Delete 尽力删除记录，可重复调用。
	Delete(ctx context.Context, id string) error
	// HealthCheck 是廉价的存活探测。
	HealthCheck(ctx context.Context) error
	// IDs 通过前缀扫描列出当前命名空间下的任务 ID。
	IDs(ctx context.Context) ([]string, error)
	// Backend 返回后端名称，用于日志与指标。
	Backend() string
	Close() error
}

func encodeTask(task *Task) ([]byte, error) {
	if task == nil || task.ID == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "任务记录缺少 ID")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "序列化任务失败")
	}
	return data, nil
}

// decodeTask 解码记录并检查基本不变量，任何不满足都视为损坏而不是不存在。
func decodeTask(id string, data []byte) (*Task, error) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStoreCorrupt, err, fmt.Sprintf("任务 %s 的记录无法解码", id))
	}
	switch {
	case task.ID != id:
		return nil, xerrors.New(xerrors.CodeStoreCorrupt, fmt.Sprintf("任务 %s 的记录 ID 不匹配: %q", id, task.ID))
	case !IsValidStatus(task.Status):
		return nil, xerrors.New(xerrors.CodeStoreCorrupt, fmt.Sprintf("任务 %s 的状态非法: %q", id, task.Status))
	case task.Status == StatusFailed && task.Error == nil:
		return nil, xerrors.New(xerrors.CodeStoreCorrupt, fmt.Sprintf("任务 %s 失败但缺少错误信息", id))
	case task.Status == StatusFailed && task.Result != "":
		return nil, xerrors.New(xerrors.CodeStoreCorrupt, fmt.Sprintf("任务 %s 失败但携带结果", id))
	case task.Status == StatusCompleted && (task.Error != nil || task.Result == ""):
		return nil, xerrors.New(xerrors.CodeStoreCorrupt, fmt.Sprintf("任务 %s 已完成但结果与错误信息不一致", id))
	case (task.Status == StatusPending || task.Status == StatusRunning) && (task.Result != "" || task.Error != nil):
		return nil, xerrors.New(xerrors.CodeStoreCorrupt, fmt.Sprintf("任务 %s 未结束却携带终态字段", id))
	}
	return &task, nil
}
