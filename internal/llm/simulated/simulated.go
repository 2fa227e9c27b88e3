// Package simulated provides a text processor that fabricates deterministic
// output without calling any model. It serves as the degraded provider and as
// a stand-in during local development.
package simulated

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"TextRelay/internal/llm"
)

const summaryPreviewRunes = 50

// Client 生成模拟的翻译与总结结果。
type Client struct {
	delay time.Duration
}

// Option 定义可选配置。
type Option func(*Client)

// WithDelay 设置生成结果前（流式为每个片段前）的等待时间。
func WithDelay(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.delay = d
		}
	}
}

// New 创建模拟处理器。
func New(opts ...Option) *Client {
	c := &Client{delay: 100 * time.Millisecond}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

var _ llm.Client = (*Client)(nil)

// Generate 返回完整的模拟结果。
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	return Render(req), nil
}

// GenerateStream 按空白切分模拟结果，逐词输出。
func (c *Client) GenerateStream(ctx context.Context, req llm.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, word := range strings.Fields(Render(req)) {
			if err := c.wait(ctx); err != nil {
				yield("", err)
				return
			}
			if !yield(word+" ", nil) {
				return
			}
		}
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Render 计算请求对应的模拟输出。
func Render(req llm.Request) string {
	switch req.Kind {
	case llm.KindTranslate:
		switch {
		case isChinese(req.SourceLang) && isEnglish(req.TargetLang):
			return "[模拟EN] " + req.Text
		case isEnglish(req.SourceLang) && isChinese(req.TargetLang):
			return "[模拟中文] " + req.Text
		default:
			return fmt.Sprintf("[模拟%s] %s", req.TargetLang, req.Text)
		}
	case llm.KindSummarize:
		runes := []rune(req.Text)
		if len(runes) > summaryPreviewRunes {
			return "模拟总结: " + string(runes[:summaryPreviewRunes]) + "..."
		}
		return "模拟总结: " + req.Text
	default:
		return req.Text
	}
}

func isChinese(lang string) bool {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "中文", "zh", "zh-cn", "chinese":
		return true
	}
	return false
}

func isEnglish(lang string) bool {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "英文", "en", "english":
		return true
	}
	return false
}
