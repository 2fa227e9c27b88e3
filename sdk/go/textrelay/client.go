package textrelay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Streaming calls ignore it.
const DefaultHTTPTimeout = 90 * time.Second

// Task statuses reported by the server.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Client wraps the HTTP interactions with the TextRelay REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	streamHTTP *http.Client

	mu          sync.RWMutex
	accessToken string
}

// TranslateRequest is the payload of the translate endpoints.
type TranslateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang,omitempty"`
	TargetLang string `json:"target_lang,omitempty"`
}

// SummarizeRequest is the payload of the summarize endpoints.
type SummarizeRequest struct {
	Text      string `json:"text"`
	MaxLength int    `json:"max_length,omitempty"`
}

// Translation is the result of a synchronous translation.
type Translation struct {
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text"`
	SourceLang     string `json:"source_lang"`
	TargetLang     string `json:"target_lang"`
}

// Summary is the result of a synchronous summarization.
type Summary struct {
	OriginalText string `json:"original_text"`
	Summary      string `json:"summary"`
	MaxLength    int    `json:"max_length"`
}

// Submission is returned by the async endpoints.
type Submission struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TaskInput echoes the normalized request stored with a task.
type TaskInput struct {
	Kind       string `json:"kind"`
	Text       string `json:"text"`
	SourceLang string `json:"source_lang,omitempty"`
	TargetLang string `json:"target_lang,omitempty"`
	MaxLength  int    `json:"max_length,omitempty"`
}

// TaskError describes why a task failed.
type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Task is the polled state of an async task.
type Task struct {
	TaskID    string     `json:"task_id"`
	Kind      string     `json:"kind"`
	Status    string     `json:"status"`
	Input     TaskInput  `json:"input"`
	Result    string     `json:"result,omitempty"`
	Error     *TaskError `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpireAt  *time.Time `json:"expire_at,omitempty"`
}

// Terminal reports whether the task reached completed or failed.
func (t Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// Function describes one capability listed by the server.
type Function struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("textrelay api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("textrelay api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 returned by the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message"`
}

// NewClient instantiates a client for the TextRelay API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	stream := httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
		stream = &http.Client{}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, streamHTTP: stream}, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken sets the bearer token sent with every /api request.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// Functions lists the capabilities offered by the server.
func (c *Client) Functions(ctx context.Context) ([]Function, error) {
	var out envelope[[]Function]
	if err := c.get(ctx, "/api/functions", &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Translate runs a synchronous translation.
func (c *Client) Translate(ctx context.Context, req TranslateRequest) (Translation, error) {
	var out envelope[Translation]
	if err := c.post(ctx, "/api/translate", req, &out); err != nil {
		return Translation{}, err
	}
	return out.Data, nil
}

// Summarize runs a synchronous summarization.
func (c *Client) Summarize(ctx context.Context, req SummarizeRequest) (Summary, error) {
	var out envelope[Summary]
	if err := c.post(ctx, "/api/summarize", req, &out); err != nil {
		return Summary{}, err
	}
	return out.Data, nil
}

// SubmitTranslate enqueues a translation and returns its task id.
func (c *Client) SubmitTranslate(ctx context.Context, req TranslateRequest) (Submission, error) {
	var out Submission
	err := c.post(ctx, "/api/translate/async", req, &out)
	return out, err
}

// SubmitSummarize enqueues a summarization and returns its task id.
func (c *Client) SubmitSummarize(ctx context.Context, req SummarizeRequest) (Submission, error) {
	var out Submission
	err := c.post(ctx, "/api/summarize/async", req, &out)
	return out, err
}

// Task fetches the current state of a task.
func (c *Client) Task(ctx context.Context, taskID string) (Task, error) {
	var out envelope[Task]
	if err := c.get(ctx, "/api/task/"+url.PathEscape(taskID), &out); err != nil {
		return Task{}, err
	}
	return out.Data, nil
}

// Wait polls a task until it is terminal or ctx ends.
func (c *Client) Wait(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := c.Task(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if task.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(c.httpClient, req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(c.httpClient, req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel.Path = path.Join(c.baseURL.Path, rel.Path)
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(httpClient *http.Client, req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, apiErr)
	}
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return apiErr
}
