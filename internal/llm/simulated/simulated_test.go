package simulated

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TextRelay/internal/llm"
)

func TestRender(t *testing.T) {
	cases := []struct {
		name string
		req  llm.Request
		want string
	}{
		{"zh to en", llm.Request{Kind: llm.KindTranslate, Text: "你好世界", SourceLang: "中文", TargetLang: "英文"}, "[模拟EN] 你好世界"},
		{"en to zh", llm.Request{Kind: llm.KindTranslate, Text: "hello", SourceLang: "英文", TargetLang: "中文"}, "[模拟中文] hello"},
		{"other target", llm.Request{Kind: llm.KindTranslate, Text: "hello", SourceLang: "auto", TargetLang: "日文"}, "[模拟日文] hello"},
		{"short summary", llm.Request{Kind: llm.KindSummarize, Text: "短文本"}, "模拟总结: 短文本"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Render(tc.req))
		})
	}

	long := strings.Repeat("长", 60)
	assert.Equal(t, "模拟总结: "+strings.Repeat("长", 50)+"...", Render(llm.Request{Kind: llm.KindSummarize, Text: long}))
}

func TestGenerateStreamSplitsWords(t *testing.T) {
	c := New(WithDelay(0))
	req := llm.Request{Kind: llm.KindTranslate, Text: "good morning", SourceLang: "英文", TargetLang: "中文"}

	var fragments []string
	for fragment, err := range c.GenerateStream(context.Background(), req) {
		require.NoError(t, err)
		fragments = append(fragments, fragment)
	}
	assert.Equal(t, []string{"[模拟中文] ", "good ", "morning "}, fragments)
}

func TestGenerateHonoursCancellation(t *testing.T) {
	c := New(WithDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Generate(ctx, llm.Request{Kind: llm.KindSummarize, Text: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerateStreamStopsWhenConsumerBreaks(t *testing.T) {
	c := New(WithDelay(0))
	req := llm.Request{Kind: llm.KindSummarize, Text: "a b c d e f"}

	count := 0
	for range c.GenerateStream(context.Background(), req) {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}
