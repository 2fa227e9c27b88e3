package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"TextRelay/internal/llm"
	"TextRelay/internal/task"
	"TextRelay/pkg/logger"
)

type startEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	TaskID  string `json:"task_id,omitempty"`
}

// stream 以 server-sent events 输出处理结果：start 事件、若干 chunk 事件，最后是 done 或 error。
// 请求校验失败时在写出事件流之前返回普通 JSON 错误。
func (s *Server) stream(w http.ResponseWriter, r *http.Request, req llm.Request, startMessage string) {
	persist := r.URL.Query().Get("persist") == "true"
	st, err := s.manager.Stream(r.Context(), req, task.StreamOptions{Persist: persist})
	if err != nil {
		writeError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if !writeEvent(w, rc, startEvent{Type: "start", Message: startMessage, TaskID: st.TaskID}) {
		return
	}
	for chunk := range st.Chunks() {
		if !writeEvent(w, rc, chunk) {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Named("http").Error("编码事件失败", slog.Any("error", err))
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return false
	}
	if err := rc.Flush(); err != nil {
		return false
	}
	return true
}
