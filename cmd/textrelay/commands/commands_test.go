package commands

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"TextRelay/internal/api"
	"TextRelay/internal/llm/simulated"
	"TextRelay/internal/task"
	"TextRelay/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.UseWriter(io.Discard, "json")
	os.Exit(m.Run())
}

func startServer(t *testing.T) string {
	t.Helper()
	store := task.NewMemoryStore(task.MustKeyScheme("cli"), 0)
	queue := task.NewMemoryQueue(16)
	manager := task.NewManager(store, queue, simulated.New(simulated.WithDelay(0)))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = task.NewWorker(manager, queue).Start(ctx) }()

	srv := httptest.NewServer(api.NewServer(manager).Router())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = manager.Close()
	})
	return srv.URL
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := New()
	cmd.Writer = &out
	cmd.Reader = strings.NewReader("来自标准输入的文本")
	err := cmd.Run(context.Background(), append([]string{"textrelay"}, args...))
	return out.String(), err
}

func TestTranslateText(t *testing.T) {
	url := startServer(t)

	out, err := run(t, "--url", url, "translate", "--source", "zh", "--target", "en", "你好")
	require.NoError(t, err)
	assert.Equal(t, "[模拟EN] 你好\n", out)
}

func TestSummarizeFromStdinAsYAML(t *testing.T) {
	url := startServer(t)

	out, err := run(t, "--url", url, "--output", "yaml", "summarize", "-")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "模拟总结: 来自标准输入的文本", decoded["summary"])
	assert.Equal(t, 200, decoded["max_length"])
}

func TestSubmitThenWait(t *testing.T) {
	url := startServer(t)

	id, err := run(t, "--url", url, "submit", "translate", "--target", "en", "任务")
	require.NoError(t, err)
	id = strings.TrimSpace(id)
	require.NotEmpty(t, id)

	out, err := run(t, "--url", url, "wait", "--interval", "10ms", "--timeout", "2s", id)
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "[模拟en] 任务")
}

func TestStatusUnknownTask(t *testing.T) {
	url := startServer(t)

	_, err := run(t, "--url", url, "status", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TASK_NOT_FOUND")
}

func TestStreamPrintsChunks(t *testing.T) {
	url := startServer(t)

	out, err := run(t, "--url", url, "stream", "translate", "--source", "en", "--target", "中文", "hello", "world")
	require.NoError(t, err)
	assert.Equal(t, "[模拟中文] hello world \n", out)
}

func TestFunctionsJSON(t *testing.T) {
	url := startServer(t)

	out, err := run(t, "--url", url, "--output", "json", "functions")
	require.NoError(t, err)
	assert.Contains(t, out, `"zh_to_en"`)
	assert.Contains(t, out, `"summarize"`)
}

func TestTokenIssuesVerifiableJWT(t *testing.T) {
	out, err := run(t, "token", "--secret", "0123456789abcdef-secret", "--subject", "ops", "--ttl", time.Minute.String())
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(strings.TrimSpace(out), ".")))
}

func TestMissingInput(t *testing.T) {
	_, err := run(t, "translate")
	assert.Error(t, err)
}

func TestToYAMLUsesJSONFieldNames(t *testing.T) {
	data, err := toYAML(struct {
		TaskID string `json:"task_id"`
	}{TaskID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "task_id: abc\n", string(data))
}
