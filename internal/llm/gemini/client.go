// Package gemini adapts the Google Gen AI SDK to llm.Client.
package gemini

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"strings"

	"google.golang.org/genai"

	xerrors "TextRelay/internal/errors"
	"TextRelay/internal/llm"
)

const defaultModel = "gemini-2.0-flash"

// Config 描述 Gemini API 的访问参数。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	HTTPClient  *http.Client
}

// Client 调用 Gemini 生成翻译与总结。
type Client struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewClient 创建 Gemini 客户端。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeProcessorUnavailable, "未提供 Gemini API Key")
	}
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeProcessorUnavailable, err, "创建 Gemini 客户端失败")
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	temperature := llm.Temperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	return &Client{client: client, model: model, temperature: float32(temperature)}, nil
}

var _ llm.Client = (*Client)(nil)

// Generate 调用 GenerateContent。
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(llm.BuildPrompt(req)), c.config())
	if err != nil {
		return "", classify(err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", xerrors.New(xerrors.CodeProcessorFailure, "Gemini 未返回文本")
	}
	return text, nil
}

// GenerateStream 调用 GenerateContentStream，按顺序输出文本片段。
func (c *Client) GenerateStream(ctx context.Context, req llm.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, genai.Text(llm.BuildPrompt(req)), c.config()) {
			if err != nil {
				yield("", classify(err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

func (c *Client) config() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{Temperature: genai.Ptr(c.temperature)}
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return xerrors.Wrap(xerrors.CodeCancelled, err, "Gemini 调用已取消")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "Gemini 调用超时")
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code == http.StatusUnauthorized || apiErr.Code >= http.StatusInternalServerError {
			return xerrors.Wrap(xerrors.CodeProcessorUnavailable, err, "Gemini 服务不可用")
		}
		return xerrors.Wrap(xerrors.CodeProcessorFailure, err, "Gemini 请求被拒绝")
	}
	return xerrors.Wrap(xerrors.CodeProcessorUnavailable, err, "Gemini 调用失败")
}
