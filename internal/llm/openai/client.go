// Package openai adapts OpenAI-compatible chat completion endpoints (OpenAI,
// Qianwen compatible mode, Anthropic's compatibility layer) to llm.Client.
package openai

import (
	"context"
	"errors"
	"iter"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	xerrors "TextRelay/internal/errors"
	"TextRelay/internal/llm"
)

const (
	defaultModelName = "gpt-3.5-turbo"
	defaultTimeout   = 60 * time.Second
)

// 预置的兼容端点。
const (
	QianwenBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	ClaudeBaseURL  = "https://api.anthropic.com/v1/"
)

// Config 描述了调用 Chat Completions 接口所需的信息。
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	// Temperature 为 nil 时使用 llm.Temperature，0 原样下发。
	Temperature *float64
	MaxRetries  int
	Timeout     time.Duration
}

// Client 通过 openai-go SDK 调用模型。
type Client struct {
	client      openai.Client
	provider    string
	model       string
	temperature float64
}

// NewClient 根据配置创建客户端。未提供 API Key 时返回 PROCESSOR_UNAVAILABLE。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeProcessorUnavailable, "未提供 "+provider+" API Key")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	temperature := llm.Temperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(timeout),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Client{
		client:      openai.NewClient(opts...),
		provider:    provider,
		model:       model,
		temperature: temperature,
	}, nil
}

var _ llm.Client = (*Client)(nil)

// Generate 调用 Chat Completions 并返回第一条候选结果。
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return "", c.classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", xerrors.New(xerrors.CodeProcessorFailure, c.provider+" 未返回候选结果")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// GenerateStream 以流式方式调用 Chat Completions，逐个输出增量内容。
func (c *Client) GenerateStream(ctx context.Context, req llm.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(req))
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !yield(choice.Delta.Content, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield("", c.classify(err))
		}
	}
}

func (c *Client) params(req llm.Request) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(llm.BuildPrompt(req)),
		},
		Temperature: openai.Float(c.temperature),
	}
}

// classify 将 SDK 错误映射为统一错误码：限流、服务端错误与网络故障视为不可用，
// 其余 4xx 视为处理失败。
func (c *Client) classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return xerrors.Wrap(xerrors.CodeCancelled, err, c.provider+" 调用已取消")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, c.provider+" 调用超时")
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusUnauthorized,
			apiErr.StatusCode >= http.StatusInternalServerError:
			return xerrors.Wrap(xerrors.CodeProcessorUnavailable, err, c.provider+" 服务不可用")
		default:
			return xerrors.Wrap(xerrors.CodeProcessorFailure, err, c.provider+" 请求被拒绝")
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return xerrors.Wrap(xerrors.CodeProcessorUnavailable, err, c.provider+" 网络异常")
	}
	return xerrors.Wrap(xerrors.CodeProcessorFailure, err, c.provider+" 调用失败")
}
