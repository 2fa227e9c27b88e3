package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerRendersRecordedMetrics(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	ObserveHTTPRequest("/api/translate", "POST", 200, 120*time.Millisecond)
	ObserveHTTPRequest("/api/translate", "POST", 503, time.Second)
	TaskSubmitted("translate")
	TaskFinished("translate", "completed", 2*time.Second)
	StreamFinished("summarize", "abandoned")
	TerminalWriteLost()
	SetStoreBackend("memory", true)
	SetStoreHealthy(false)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, `textrelay_http_requests_total{handler="/api/translate",method="POST",code="200"} 1`)
	assert.Contains(t, text, `textrelay_http_request_errors_total{handler="/api/translate",method="POST"} 1`)
	assert.Contains(t, text, `textrelay_http_request_duration_seconds_bucket{handler="/api/translate",method="POST",le="0.25"} 1`)
	assert.Contains(t, text, `textrelay_tasks_submitted_total{kind="translate"} 1`)
	assert.Contains(t, text, `textrelay_tasks_finished_total{kind="translate",status="completed"} 1`)
	assert.Contains(t, text, `textrelay_task_processing_seconds_count{kind="translate"} 1`)
	assert.Contains(t, text, `textrelay_streams_total{kind="summarize",outcome="abandoned"} 1`)
	assert.Contains(t, text, `textrelay_terminal_writes_lost_total 1`)
	assert.Contains(t, text, `textrelay_store_degraded{backend="memory"} 1`)
	assert.Contains(t, text, `textrelay_store_healthy{backend="memory"} 0`)
}

func TestCurrentSnapshot(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	TaskSubmitted("summarize")
	TaskSubmitted("summarize")
	TaskFinished("summarize", "failed", time.Millisecond)

	snap := Current()
	assert.Equal(t, uint64(2), snap.Submitted["summarize"])
	assert.Equal(t, uint64(1), snap.Finished["summarize/failed"])
	assert.True(t, snap.StoreHealthy)
}

func TestEscapeLabelValues(t *testing.T) {
	assert.Equal(t, `a\"b\\c`, escape("a\"b\\c\n"))
}
