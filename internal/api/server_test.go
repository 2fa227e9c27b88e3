package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TextRelay/internal/auth"
	"TextRelay/internal/llm"
	"TextRelay/internal/llm/simulated"
	"TextRelay/internal/storage/history"
	"TextRelay/internal/task"
	"TextRelay/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.UseWriter(io.Discard, "json")
	os.Exit(m.Run())
}

type stubHistory struct {
	records []history.Record
	limit   int
}

func (h *stubHistory) ListLatest(_ context.Context, limit int) ([]history.Record, error) {
	h.limit = limit
	return h.records, nil
}

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *task.Manager, *task.MemoryQueue) {
	t.Helper()
	store := task.NewMemoryStore(task.MustKeyScheme("apitest"), 0)
	queue := task.NewMemoryQueue(64)
	manager := task.NewManager(store, queue, simulated.New(simulated.WithDelay(0)))
	t.Cleanup(func() { _ = manager.Close() })

	srv := httptest.NewServer(NewServer(manager, opts...).Router())
	t.Cleanup(srv.Close)
	return srv, manager, queue
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthAndFunctions(t *testing.T) {
	srv, _, _ := newTestServer(t, WithInfo(Info{Provider: "simulated", ProviderDegraded: true, StoreDegraded: true}))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeBody(t, resp)
	assert.Equal(t, "degraded", health["status"])
	assert.Equal(t, "memory", health["store_backend"])
	assert.Equal(t, "disconnected", health["redis_status"])

	resp, err = http.Get(srv.URL + "/api/functions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Len(t, body["data"], 3)
}

func TestSyncTranslateAndSummarize(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/translate", map[string]any{
		"text": "你好世界", "source_lang": "zh", "target_lang": "en",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "翻译成功", body["message"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "你好世界", data["original_text"])
	assert.Equal(t, "[模拟EN] 你好世界", data["translated_text"])
	assert.Equal(t, "zh", data["source_lang"])

	resp = postJSON(t, srv.URL+"/api/summarize", map[string]any{"text": "一段需要总结的文字"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	data = body["data"].(map[string]any)
	assert.Equal(t, "模拟总结: 一段需要总结的文字", data["summary"])
	assert.EqualValues(t, 200, data["max_length"])
}

func TestValidationErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/translate", map[string]any{"text": "   "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "VALIDATION_FAILED", body["code"])

	raw, err := http.Post(srv.URL+"/api/summarize", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)

	resp = postJSON(t, srv.URL+"/api/summarize", map[string]any{"text": strings.Repeat("字", 10001)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAsyncSubmitAndPoll(t *testing.T) {
	srv, manager, queue := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = task.NewWorker(manager, queue, task.WithWorkerCount(2)).Start(ctx) }()

	resp := postJSON(t, srv.URL+"/api/translate/async", map[string]any{"text": "你好", "target_lang": "en"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	accepted := decodeBody(t, resp)
	assert.Equal(t, "pending", accepted["status"])
	assert.Equal(t, "翻译任务已提交，请使用task_id轮询结果", accepted["message"])
	id, _ := accepted["task_id"].(string)
	require.NotEmpty(t, id)

	var last map[string]any
	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/api/task/" + id)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		if r.StatusCode != http.StatusOK {
			return false
		}
		var out map[string]any
		if json.NewDecoder(r.Body).Decode(&out) != nil {
			return false
		}
		last = out["data"].(map[string]any)
		return last["status"] == "completed"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "[模拟en] 你好", last["result"])
	assert.Equal(t, id, last["task_id"])
}

func TestUnknownTaskReturnsNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/task/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "TASK_NOT_FOUND", body["code"])
	assert.Equal(t, "任务不存在", body["message"])
}

func readEvents(t *testing.T, r io.Reader) []map[string]any {
	t.Helper()
	var events []map[string]any
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var event map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &event))
		events = append(events, event)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestStreamEmitsStartChunksAndDone(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/translate/stream", map[string]any{
		"text": "hello big world", "source_lang": "en", "target_lang": "中文",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp.Body)
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "start", events[0]["type"])
	assert.Equal(t, "开始翻译", events[0]["message"])
	assert.NotContains(t, events[0], "task_id")

	var joined strings.Builder
	for _, e := range events[1 : len(events)-1] {
		assert.Equal(t, "chunk", e["type"])
		joined.WriteString(e["content"].(string))
	}
	last := events[len(events)-1]
	assert.Equal(t, "done", last["type"])
	assert.Equal(t, joined.String(), last["full_result"])
	assert.Contains(t, last["full_result"], "hello big world")
}

func TestPersistedStreamIsPollable(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/summarize/stream?persist=true", map[string]any{"text": "短文本"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := readEvents(t, resp.Body)
	require.NotEmpty(t, events)
	id, _ := events[0]["task_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "开始总结", events[0]["message"])

	r, err := http.Get(srv.URL + "/api/task/" + id)
	require.NoError(t, err)
	defer r.Body.Close()
	require.Equal(t, http.StatusOK, r.StatusCode)
	data := decodeBody(t, r)["data"].(map[string]any)
	assert.Equal(t, "completed", data["status"])
}

func TestStreamValidationFailsBeforeEvents(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/summarize/stream", map[string]any{"text": ""})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
}

func TestStatsAndHistory(t *testing.T) {
	records := []history.Record{{TaskID: "t-1", Kind: "translate", Status: "completed"}}
	hist := &stubHistory{records: records}
	srv, manager, _ := newTestServer(t, WithHistory(hist))

	_, err := manager.Submit(context.Background(), llm.Request{Kind: llm.KindTranslate, Text: "统计"})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/tasks/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody(t, resp)["data"].(map[string]any)
	assert.EqualValues(t, 1, stats["total"])
	assert.EqualValues(t, 1, stats["pending"])

	resp, err = http.Get(srv.URL + "/api/tasks/history?limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, hist.limit)
	assert.Len(t, decodeBody(t, resp)["data"], 1)

	resp, err = http.Get(srv.URL + "/api/tasks/history?limit=abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryDisabled(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/tasks/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthProtectsAPIRoutes(t *testing.T) {
	verifier, err := auth.NewVerifier("0123456789abcdef-secret", "textrelay")
	require.NoError(t, err)
	srv, _, _ := newTestServer(t, WithVerifier(verifier))

	resp, err := http.Get(srv.URL + "/api/functions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := verifier.Issue("client", time.Minute)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/functions", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestMetricsRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_ = postJSON(t, srv.URL+"/api/translate", map[string]any{"text": "hi"})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "textrelay_http_requests_total")
	assert.Contains(t, string(body), `/api/translate`)
}
