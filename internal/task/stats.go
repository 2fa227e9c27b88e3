package task

import (
	"context"
	"errors"
	"log/slog"

	"TextRelay/pkg/logger"
)

// TaskStats 聚合了任务状态的统计信息，常用于仪表盘或健康检查。
type TaskStats struct {
	Backend         string `json:"backend"`
	Total           int    `json:"total"`
	Pending         int    `json:"pending"`
	Running         int    `json:"running"`
	Completed       int    `json:"completed"`
	Failed          int    `json:"failed"`
	Corrupt         int    `json:"corrupt,omitempty"`
	OldestUpdatedAt int64  `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64  `json:"newest_updated_at,omitempty"`
}

// Stats 通过前缀扫描统计当前存储中的任务。扫描期间过期或删除的记录被忽略。
func (m *Manager) Stats(ctx context.Context) (TaskStats, error) {
	stats := TaskStats{Backend: m.Backend()}
	ids, err := m.store.IDs(ctx)
	if err != nil {
		return stats, err
	}
	now := m.now()
	for _, id := range ids {
		task, found, err := m.store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrStoreCorrupt) {
				stats.Corrupt++
				continue
			}
			return stats, err
		}
		if !found || task.Expired(now) {
			continue
		}
		stats.Total++
		switch task.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
		updated := task.UpdatedAt.Unix()
		if stats.OldestUpdatedAt == 0 || updated < stats.OldestUpdatedAt {
			stats.OldestUpdatedAt = updated
		}
		if updated > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = updated
		}
	}
	if stats.Corrupt > 0 {
		logger.L().Warn("统计时发现损坏的任务记录", slog.Int("count", stats.Corrupt))
	}
	return stats, nil
}
