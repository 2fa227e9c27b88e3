package textrelay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
)

// Event types carried in the stream.
const (
	EventStart = "start"
	EventChunk = "chunk"
	EventDone  = "done"
	EventError = "error"
)

// Event is one server-sent event of a translate or summarize stream.
type Event struct {
	Type       string `json:"type"`
	Message    string `json:"message,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
	Content    string `json:"content,omitempty"`
	FullResult string `json:"full_result,omitempty"`
	Code       string `json:"code,omitempty"`
}

// ErrStreamTruncated is returned when the connection closes before a done or
// error event arrives.
var ErrStreamTruncated = errors.New("stream ended without terminal event")

// StreamOptions controls streaming calls.
type StreamOptions struct {
	// Persist asks the server to record the result so it can be polled.
	Persist bool
}

// StreamTranslate opens a translation stream.
func (c *Client) StreamTranslate(ctx context.Context, req TranslateRequest, opts StreamOptions) iter.Seq2[Event, error] {
	return c.stream(ctx, "/api/translate/stream", req, opts)
}

// StreamSummarize opens a summarization stream.
func (c *Client) StreamSummarize(ctx context.Context, req SummarizeRequest, opts StreamOptions) iter.Seq2[Event, error] {
	return c.stream(ctx, "/api/summarize/stream", req, opts)
}

// stream 发起请求并逐个解析 data 行。中途停止迭代会关闭连接，服务端随之取消处理。
func (c *Client) stream(ctx context.Context, endpoint string, payload any, opts StreamOptions) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		if opts.Persist {
			endpoint += "?persist=true"
		}
		body, err := json.Marshal(payload)
		if err != nil {
			yield(Event{}, fmt.Errorf("encode request: %w", err))
			return
		}
		req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			yield(Event{}, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.streamHTTP.Do(req)
		if err != nil {
			yield(Event{}, fmt.Errorf("perform request: %w", err))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			yield(Event{}, decodeAPIError(resp))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line, ok := strings.CutPrefix(scanner.Text(), "data:")
			if !ok {
				continue
			}
			var event Event
			if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &event); err != nil {
				yield(Event{}, fmt.Errorf("decode event: %w", err))
				return
			}
			if !yield(event, nil) {
				return
			}
			if event.Type == EventDone || event.Type == EventError {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(Event{}, fmt.Errorf("read stream: %w", err))
			return
		}
		yield(Event{}, ErrStreamTruncated)
	}
}
