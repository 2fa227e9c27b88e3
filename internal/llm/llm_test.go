package llm

import (
	"context"
	stdErrors "errors"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "TextRelay/internal/errors"
)

type scriptedClient struct {
	result    string
	err       error
	fragments []string
	streamErr error
	calls     int
}

func (c *scriptedClient) Generate(context.Context, Request) (string, error) {
	c.calls++
	return c.result, c.err
}

func (c *scriptedClient) GenerateStream(context.Context, Request) iter.Seq2[string, error] {
	c.calls++
	return func(yield func(string, error) bool) {
		for _, f := range c.fragments {
			if !yield(f, nil) {
				return
			}
		}
		if c.streamErr != nil {
			yield("", c.streamErr)
		}
	}
}

func collect(seq iter.Seq2[string, error]) ([]string, error) {
	var out []string
	for fragment, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, fragment)
	}
	return out, nil
}

func TestPrepareAppliesDefaults(t *testing.T) {
	req, err := Prepare(Request{Kind: "Translate", Text: "  你好\x00世界  "})
	require.NoError(t, err)
	assert.Equal(t, KindTranslate, req.Kind)
	assert.Equal(t, "你好世界", req.Text)
	assert.Equal(t, DefaultSourceLang, req.SourceLang)
	assert.Equal(t, DefaultTargetLang, req.TargetLang)

	sum, err := Prepare(Request{Kind: KindSummarize, Text: "text"})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxLength, sum.MaxLength)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]Request{
		"unknown kind": {Kind: "rewrite", Text: "x"},
		"empty text":   {Kind: KindTranslate, Text: "   "},
		"too long":     {Kind: KindSummarize, Text: strings.Repeat("字", MaxTextLength+1)},
		"negative max": {Kind: KindSummarize, Text: "x", MaxLength: -1},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Prepare(req)
			require.Error(t, err)
			assert.True(t, stdErrors.Is(err, ErrInvalidRequest))
			assert.Equal(t, xerrors.CodeValidation, xerrors.CodeOf(err))
		})
	}
}

func TestValidateCountsRunes(t *testing.T) {
	_, err := Prepare(Request{Kind: KindSummarize, Text: strings.Repeat("字", MaxTextLength)})
	assert.NoError(t, err)
}

func TestPreprocess(t *testing.T) {
	in := "第一段\n\n\n\n第二段\t\t有  空格\u200b。\x07"
	assert.Equal(t, "第一段\n\n第二段 有 空格。", Preprocess(in))
	assert.Equal(t, "", Preprocess(""))
	assert.Equal(t, "ＡＢＣ「引号」", Preprocess("ＡＢＣ「引号」"))
}

func TestBuildPrompt(t *testing.T) {
	assert.Equal(t, "请将以下中文文本翻译成英文，只返回翻译结果：\n\n你好",
		BuildPrompt(Request{Kind: KindTranslate, Text: "你好", SourceLang: "中文", TargetLang: "英文"}))
	assert.Equal(t, "请将以下文本翻译成英文，只返回翻译结果：\n\nhi",
		BuildPrompt(Request{Kind: KindTranslate, Text: "hi", SourceLang: "auto", TargetLang: "英文"}))
	assert.Equal(t, "请对以下文本进行简洁的总结，不超过100字：\n\nbody",
		BuildPrompt(Request{Kind: KindSummarize, Text: "body", MaxLength: 100}))
}

func TestFallbackGenerateDegrades(t *testing.T) {
	primary := &scriptedClient{err: xerrors.New(xerrors.CodeProcessorUnavailable, "no key")}
	secondary := &scriptedClient{result: "simulated"}
	f := NewFallback("openai", primary, secondary)

	out, err := f.Generate(context.Background(), Request{Kind: KindSummarize, Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "simulated", out)
	assert.Equal(t, 1, secondary.calls)
}

func TestFallbackGenerateKeepsCancellation(t *testing.T) {
	primary := &scriptedClient{err: context.Canceled}
	secondary := &scriptedClient{result: "simulated"}
	f := NewFallback("openai", primary, secondary)

	_, err := f.Generate(context.Background(), Request{Kind: KindSummarize, Text: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, secondary.calls)
}

func TestFallbackStreamDegradesBeforeFirstFragment(t *testing.T) {
	primary := &scriptedClient{streamErr: stdErrors.New("connection refused")}
	secondary := &scriptedClient{fragments: []string{"a ", "b "}}
	f := NewFallback("openai", primary, secondary)

	out, err := collect(f.GenerateStream(context.Background(), Request{Kind: KindSummarize, Text: "x"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a ", "b "}, out)
}

func TestFallbackStreamSurfacesLateFailure(t *testing.T) {
	boom := stdErrors.New("stream reset")
	primary := &scriptedClient{fragments: []string{"c1", "c2"}, streamErr: boom}
	secondary := &scriptedClient{fragments: []string{"never"}}
	f := NewFallback("openai", primary, secondary)

	out, err := collect(f.GenerateStream(context.Background(), Request{Kind: KindSummarize, Text: "x"}))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"c1", "c2"}, out)
	assert.Zero(t, secondary.calls)
}
