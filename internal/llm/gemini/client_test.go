package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "TextRelay/internal/errors"
	"TextRelay/internal/llm"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ":streamGenerateContent"):
			w.Header().Set("Content-Type", "text/event-stream")
			for _, part := range []string{"Hello", " world"} {
				fmt.Fprintf(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":%q}]}}]}\n\n", part)
			}
		case strings.HasSuffix(r.URL.Path, ":generateContent"):
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":" 总结完成 "}]}}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeProcessorUnavailable, xerrors.CodeOf(err))
}

func TestTemperatureDefaultsOnlyWhenUnset(t *testing.T) {
	client, err := NewClient(context.Background(), Config{APIKey: "k"})
	require.NoError(t, err)
	assert.InDelta(t, llm.Temperature, client.temperature, 1e-6)

	zero := 0.0
	client, err = NewClient(context.Background(), Config{APIKey: "k", Temperature: &zero})
	require.NoError(t, err)
	assert.Equal(t, float32(0), client.temperature)
}

func TestGenerate(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	client, err := NewClient(context.Background(), Config{APIKey: "k", BaseURL: srv.URL + "/", HTTPClient: srv.Client()})
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), llm.Request{Kind: llm.KindSummarize, Text: "很长的文本"})
	require.NoError(t, err)
	assert.Equal(t, "总结完成", out)
}

func TestGenerateStream(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	client, err := NewClient(context.Background(), Config{APIKey: "k", BaseURL: srv.URL + "/", HTTPClient: srv.Client()})
	require.NoError(t, err)

	var got []string
	for fragment, err := range client.GenerateStream(context.Background(), llm.Request{Kind: llm.KindSummarize, Text: "x"}) {
		require.NoError(t, err)
		got = append(got, fragment)
	}
	assert.Equal(t, []string{"Hello", " world"}, got)
}
