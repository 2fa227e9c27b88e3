package pythonbridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "TextRelay/internal/errors"
	"TextRelay/internal/llm"
)

// 用 sh 代替 python 执行测试脚本，协议与真实脚本一致。
func newShellClient(t *testing.T, script string) *Client {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bridge.sh"), []byte(script), 0o755))
	client, err := NewClient("sh", "bridge.sh", dir)
	require.NoError(t, err)
	return client
}

func TestGenerate(t *testing.T) {
	client := newShellClient(t, `cat >/dev/null
echo '{"result":"  translated  "}'
`)
	out, err := client.Generate(context.Background(), llm.Request{Kind: llm.KindTranslate, Text: "你好", TargetLang: "英文"})
	require.NoError(t, err)
	assert.Equal(t, "translated", out)
}

func TestGenerateScriptFailure(t *testing.T) {
	client := newShellClient(t, `cat >/dev/null
echo "traceback" >&2
exit 3
`)
	_, err := client.Generate(context.Background(), llm.Request{Kind: llm.KindSummarize, Text: "x"})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeProcessorFailure, xerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "traceback")
}

func TestGenerateStream(t *testing.T) {
	client := newShellClient(t, `cat >/dev/null
if [ "$1" != "--stream" ]; then exit 9; fi
echo '{"content":"c1"}'
echo ''
echo '{"content":"c2"}'
echo '{"error":"quota exceeded"}'
`)
	var got []string
	var streamErr error
	for fragment, err := range client.GenerateStream(context.Background(), llm.Request{Kind: llm.KindSummarize, Text: "x"}) {
		if err != nil {
			streamErr = err
			break
		}
		got = append(got, fragment)
	}
	assert.Equal(t, []string{"c1", "c2"}, got)
	require.Error(t, streamErr)
	assert.Contains(t, streamErr.Error(), "quota exceeded")
}

func TestGenerateStreamReportsExitStatus(t *testing.T) {
	client := newShellClient(t, `cat >/dev/null
echo '{"content":"c1"}'
echo "model crashed" >&2
exit 3
`)
	var got []string
	var streamErr error
	for fragment, err := range client.GenerateStream(context.Background(), llm.Request{Kind: llm.KindTranslate, Text: "x"}) {
		if err != nil {
			streamErr = err
			break
		}
		got = append(got, fragment)
	}
	assert.Equal(t, []string{"c1"}, got)
	require.Error(t, streamErr)
	assert.Equal(t, xerrors.CodeProcessorFailure, xerrors.CodeOf(streamErr))
	assert.Contains(t, streamErr.Error(), "model crashed")
}

func TestGenerateStreamStopsScriptOnEarlyExit(t *testing.T) {
	client := newShellClient(t, `cat >/dev/null
echo '{"content":"c1"}'
sleep 30
echo '{"content":"c2"}'
`)
	start := time.Now()
	for fragment, err := range client.GenerateStream(context.Background(), llm.Request{Kind: llm.KindTranslate, Text: "x"}) {
		require.NoError(t, err)
		assert.Equal(t, "c1", fragment)
		break
	}
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestNewClientRequiresScript(t *testing.T) {
	_, err := NewClient("python3", "", "")
	assert.Equal(t, xerrors.CodeProcessorUnavailable, xerrors.CodeOf(err))
}

func TestResolveScriptPath(t *testing.T) {
	assert.Equal(t, "/abs/run.py", ResolveScriptPath("/base", "/abs/run.py"))
	assert.Equal(t, filepath.Join("/base", "run.py"), ResolveScriptPath("/base", "run.py"))
	assert.Equal(t, "run.py", ResolveScriptPath("", "run.py"))
}
