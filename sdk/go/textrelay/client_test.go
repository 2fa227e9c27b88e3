package textrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestTranslateDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/translate" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Fatalf("expected bearer token, got %q", got)
		}
		var req TranslateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"message": "翻译成功",
			"data": Translation{
				OriginalText:   req.Text,
				TranslatedText: "hello",
				SourceLang:     "auto",
				TargetLang:     req.TargetLang,
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetAccessToken("token")

	got, err := client.Translate(context.Background(), TranslateRequest{Text: "你好", TargetLang: "英文"})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if got.TranslatedText != "hello" || got.OriginalText != "你好" {
		t.Fatalf("unexpected translation: %+v", got)
	}
}

func TestAPIErrorIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "code": "TASK_NOT_FOUND", "message": "任务不存在"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Task(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Code != "TASK_NOT_FOUND" {
		t.Fatalf("unexpected error: %#v", err)
	}
}

func TestWaitPollsUntilTerminal(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/task/task-1" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		status := StatusRunning
		if polls.Add(1) >= 3 {
			status = StatusCompleted
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    Task{TaskID: "task-1", Status: status, Result: "done"},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	task, err := client.Wait(ctx, "task-1", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if task.Status != StatusCompleted || polls.Load() != 3 {
		t.Fatalf("unexpected result %+v after %d polls", task, polls.Load())
	}
}

func TestStreamParsesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("persist") != "true" {
			t.Fatalf("expected persist query, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"type":"start","message":"开始总结","task_id":"t-9"}`,
			`{"type":"chunk","content":"模拟 "}`,
			`{"type":"chunk","content":"总结 "}`,
			`{"type":"done","full_result":"模拟 总结 "}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	var types []string
	var last Event
	for event, err := range client.StreamSummarize(context.Background(), SummarizeRequest{Text: "x"}, StreamOptions{Persist: true}) {
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		types = append(types, event.Type)
		last = event
	}
	if len(types) != 4 || types[0] != EventStart || types[3] != EventDone {
		t.Fatalf("unexpected events: %v", types)
	}
	if last.FullResult != "模拟 总结 " {
		t.Fatalf("unexpected full result %q", last.FullResult)
	}
}

func TestStreamReportsTruncation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"start\",\"message\":\"开始翻译\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"chunk\",\"content\":\"Hel\"}\n\n")
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	var types []string
	var streamErr error
	for event, err := range client.StreamTranslate(context.Background(), TranslateRequest{Text: "x"}, StreamOptions{}) {
		if err != nil {
			streamErr = err
			break
		}
		types = append(types, event.Type)
	}
	if len(types) != 2 || types[1] != EventChunk {
		t.Fatalf("unexpected events: %v", types)
	}
	if !errors.Is(streamErr, ErrStreamTruncated) {
		t.Fatalf("expected truncation error, got %v", streamErr)
	}
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	if _, err := NewClient("localhost:8000", nil); err == nil {
		t.Fatal("expected error for url without scheme")
	}
}
