package history

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	xerrors "TextRelay/internal/errors"
	"TextRelay/internal/task"
)

// Record 是一条归档的终态任务。
type Record struct {
	TaskID       string    `json:"task_id"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	Text         string    `json:"text"`
	SourceLang   string    `json:"source_lang,omitempty"`
	TargetLang   string    `json:"target_lang,omitempty"`
	MaxLength    int       `json:"max_length,omitempty"`
	Result       string    `json:"result,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// FromTask 将任务记录转换为归档记录。
func FromTask(t *task.Task) Record {
	r := Record{
		TaskID:     t.ID,
		Kind:       string(t.Kind),
		Status:     string(t.Status),
		Text:       t.Input.Text,
		SourceLang: t.Input.SourceLang,
		TargetLang: t.Input.TargetLang,
		MaxLength:  t.Input.MaxLength,
		Result:     t.Result,
		CreatedAt:  t.CreatedAt,
		FinishedAt: t.UpdatedAt,
	}
	if t.Error != nil {
		r.ErrorCode = string(t.Error.Code)
		r.ErrorMessage = t.Error.Message
	}
	return r
}

// Repository 基于 database/sql 的归档仓库。
type Repository struct {
	db      *sql.DB
	driver  string
	dialect dialectInfo
}

var _ task.Archiver = (*Repository)(nil)

// Open 连接数据库并执行迁移。
func Open(ctx context.Context, cfg Config) (*Repository, error) {
	db, info, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "打开归档数据库失败")
	}
	if err := runMigrations(ctx, db, cfg.Driver, info.goose); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "归档数据库迁移失败")
	}
	return &Repository{db: db, driver: cfg.Driver, dialect: info}, nil
}

// Driver 返回数据库驱动名称。
func (r *Repository) Driver() string {
	return r.driver
}

// Archive 实现 task.Archiver。
func (r *Repository) Archive(ctx context.Context, t *task.Task) error {
	if t == nil || !t.Status.Terminal() {
		return nil
	}
	return r.Append(ctx, FromTask(t))
}

// Append 追加一条记录，同一任务重复归档时保留第一条。
func (r *Repository) Append(ctx context.Context, rec Record) error {
	stmt := r.dialect.insert + ` task_history
        (task_id, kind, status, input_text, source_lang, target_lang, max_length, result, error_code, error_message, created_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if r.driver == "postgres" {
		stmt += " ON CONFLICT (task_id) DO NOTHING"
	}
	_, err := r.db.ExecContext(ctx, r.rebind(stmt),
		rec.TaskID, rec.Kind, rec.Status, rec.Text, rec.SourceLang, rec.TargetLang, rec.MaxLength,
		rec.Result, rec.ErrorCode, rec.ErrorMessage, rec.CreatedAt.UnixMilli(), rec.FinishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("写入归档记录失败: %w", err)
	}
	return nil
}

// ListLatest 按完成时间倒序返回最近的记录。
func (r *Repository) ListLatest(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, r.rebind(`SELECT task_id, kind, status, input_text, source_lang, target_lang, max_length,
        COALESCE(result, ''), error_code, COALESCE(error_message, ''), created_at, finished_at
        FROM task_history ORDER BY finished_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("查询归档记录失败: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec               Record
			created, finished int64
		)
		if err := rows.Scan(&rec.TaskID, &rec.Kind, &rec.Status, &rec.Text, &rec.SourceLang, &rec.TargetLang, &rec.MaxLength,
			&rec.Result, &rec.ErrorCode, &rec.ErrorMessage, &created, &finished); err != nil {
			return nil, fmt.Errorf("解析归档记录失败: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(created).UTC()
		rec.FinishedAt = time.UnixMilli(finished).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历归档记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭数据库连接。
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// rebind 将 ? 占位符转换为 PostgreSQL 的 $n 形式。
func (r *Repository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}
