package task

import (
	"context"
	stdErrors "errors"
	"time"

	xerrors "TextRelay/internal/errors"
	"TextRelay/internal/llm"
)

// Status 表示任务在生命周期中的状态。状态只能沿 pending → running → completed/failed 前进。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// ErrorInfo 是记录在失败任务上的结构化错误。
type ErrorInfo struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

// Task 描述一次翻译或总结任务。记录在每次状态变化时整体替换。
type Task struct {
	ID        string      `json:"task_id"`
	Kind      llm.Kind    `json:"kind"`
	Status    Status      `json:"status"`
	Input     llm.Request `json:"input"`
	Result    string      `json:"result,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	ExpireAt  time.Time   `json:"expire_at,omitzero"`
}

// Clone 返回任务的深拷贝。
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cloned := *t
	if t.Error != nil {
		e := *t.Error
		cloned.Error = &e
	}
	return &cloned
}

// Expired 判断任务是否已超过保留期限。未进入终态的任务没有 expire_at。
func (t *Task) Expired(now time.Time) bool {
	return !t.ExpireAt.IsZero() && !now.Before(t.ExpireAt)
}

// transition 基于当前记录生成下一状态的新记录，不修改原记录。
func (t *Task) transition(status Status, now time.Time) *Task {
	next := t.Clone()
	next.Status = status
	next.UpdatedAt = now
	return next
}

// complete 生成 completed 终态记录。
func (t *Task) complete(result string, now time.Time, retention time.Duration) *Task {
	next := t.transition(StatusCompleted, now)
	next.Result = result
	next.Error = nil
	next.ExpireAt = now.Add(retention)
	return next
}

// fail 生成 failed 终态记录。
func (t *Task) fail(info *ErrorInfo, now time.Time, retention time.Duration) *Task {
	next := t.transition(StatusFailed, now)
	next.Result = ""
	next.Error = info
	next.ExpireAt = now.Add(retention)
	return next
}

var (
	// ErrTaskNotFound 表示任务不存在或已过期，两者对调用方不作区分。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrStoreUnavailable 表示结果存储无法在超时时间内访问。
	ErrStoreUnavailable = xerrors.New(xerrors.CodeStoreUnavailable, "")
	// ErrStoreCorrupt 表示记录存在但无法解码。
	ErrStoreCorrupt = xerrors.New(xerrors.CodeStoreCorrupt, "")
	// ErrStreamConsumed 表示流式结果已经被消费过一次。
	ErrStreamConsumed = xerrors.New(CodeStreamConsumed, "stream already consumed")
)

const (
	CodeTaskNotFound   xerrors.Code = "TASK_NOT_FOUND"
	CodeStreamConsumed xerrors.Code = "STREAM_CONSUMED"
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:    "task not found",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: 404,
	})
	xerrors.Register(CodeStreamConsumed, xerrors.Attributes{
		Message:    "stream already consumed",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: 409,
	})
}

// describeFailure 将处理器或存储错误转换为任务上记录的结构化错误。
func describeFailure(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	code := xerrors.CodeOf(err)
	switch {
	case code != xerrors.CodeUnknown:
	case stdErrors.Is(err, context.DeadlineExceeded):
		code = xerrors.CodeTimeout
	case stdErrors.Is(err, context.Canceled):
		code = xerrors.CodeCancelled
	default:
		code = xerrors.CodeProcessorFailure
	}
	return &ErrorInfo{Code: code, Message: err.Error()}
}
