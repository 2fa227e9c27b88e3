package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "TextRelay/internal/errors"
	"TextRelay/internal/llm"
	"TextRelay/internal/task"
)

func openSQLite(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(context.Background(), Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "history.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestArchiveAndListLatest(t *testing.T) {
	repo := openSQLite(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	completed := &task.Task{
		ID:        "t-1",
		Kind:      llm.KindTranslate,
		Status:    task.StatusCompleted,
		Input:     llm.Request{Kind: llm.KindTranslate, Text: "你好世界", SourceLang: "auto", TargetLang: "英文"},
		Result:    "Hello world",
		CreatedAt: base,
		UpdatedAt: base.Add(time.Second),
	}
	failed := &task.Task{
		ID:        "t-2",
		Kind:      llm.KindSummarize,
		Status:    task.StatusFailed,
		Input:     llm.Request{Kind: llm.KindSummarize, Text: "long text", MaxLength: 200},
		Error:     &task.ErrorInfo{Code: xerrors.CodeProcessorUnavailable, Message: "down"},
		CreatedAt: base,
		UpdatedAt: base.Add(2 * time.Second),
	}
	require.NoError(t, repo.Archive(ctx, completed))
	require.NoError(t, repo.Archive(ctx, failed))
	// 重复归档被忽略。
	require.NoError(t, repo.Archive(ctx, completed))

	records, err := repo.ListLatest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "t-2", records[0].TaskID)
	assert.Equal(t, string(xerrors.CodeProcessorUnavailable), records[0].ErrorCode)
	assert.Equal(t, 200, records[0].MaxLength)

	assert.Equal(t, "t-1", records[1].TaskID)
	assert.Equal(t, "Hello world", records[1].Result)
	assert.Equal(t, "英文", records[1].TargetLang)
	assert.True(t, records[1].FinishedAt.Equal(base.Add(time.Second)))
}

func TestArchiveSkipsNonTerminal(t *testing.T) {
	repo := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, repo.Archive(ctx, &task.Task{ID: "p", Status: task.StatusRunning}))
	records, err := repo.ListLatest(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle", DSN: "x"})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}

func TestRebindForPostgres(t *testing.T) {
	r := &Repository{driver: "postgres"}
	assert.Equal(t, "SELECT $1, $2", r.rebind("SELECT ?, ?"))
	r.driver = "mysql"
	assert.Equal(t, "SELECT ?, ?", r.rebind("SELECT ?, ?"))
}
