package pythonbridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	xerrors "TextRelay/internal/errors"
	"TextRelay/internal/llm"
)

const waitDelay = 2 * time.Second

// Client 通过调用 Python 脚本完成翻译与总结。
//
// 脚本从标准输入读取一个 JSON 请求。普通模式向标准输出写入 {"result": "..."}；
// 以 --stream 参数启动时逐行输出 {"content": "..."}，出错时输出 {"error": "..."}。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, xerrors.New(xerrors.CodeProcessorUnavailable, "未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: ResolveScriptPath(workingDir, scriptPath),
		workingDir: workingDir,
	}, nil
}

var _ llm.Client = (*Client)(nil)

type bridgeRequest struct {
	Kind       llm.Kind `json:"kind"`
	Text       string   `json:"text"`
	SourceLang string   `json:"source_lang,omitempty"`
	TargetLang string   `json:"target_lang,omitempty"`
	MaxLength  int      `json:"max_length,omitempty"`
	Prompt     string   `json:"prompt"`
}

type bridgeLine struct {
	Result  string `json:"result"`
	Content string `json:"content"`
	Error   string `json:"error"`
}

// Generate 调用外部脚本，并解析输出。
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	command, err := c.command(ctx, req)
	if err != nil {
		return "", err
	}
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", c.runError(ctx, err, stderr.String())
	}

	var resp bridgeLine
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", xerrors.Wrap(xerrors.CodeProcessorFailure, err, "解析 Python 输出失败")
	}
	if resp.Error != "" {
		return "", xerrors.New(xerrors.CodeProcessorFailure, "Python 脚本返回错误: "+resp.Error)
	}
	return strings.TrimSpace(resp.Result), nil
}

// GenerateStream 以 --stream 模式启动脚本，逐行读取输出。停止迭代时脚本进程会被终止。
func (c *Client) GenerateStream(ctx context.Context, req llm.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		command, err := c.command(ctx, req, "--stream")
		if err != nil {
			yield("", err)
			return
		}
		var stderr bytes.Buffer
		command.Stderr = &stderr
		stdout, err := command.StdoutPipe()
		if err != nil {
			yield("", xerrors.Wrap(xerrors.CodeProcessorUnavailable, err, "创建 Python 输出管道失败"))
			return
		}
		if err := command.Start(); err != nil {
			yield("", xerrors.Wrap(xerrors.CodeProcessorUnavailable, err, "启动 Python 脚本失败"))
			return
		}
		// Wait 只能调用一次：正常结束时由循环后读取退出状态，提前返回时由 defer 回收进程。
		wait := sync.OnceValue(command.Wait)
		defer func() {
			cancel()
			_ = wait()
		}()

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var msg bridgeLine
			if err := json.Unmarshal(line, &msg); err != nil {
				yield("", xerrors.Wrap(xerrors.CodeProcessorFailure, err, "解析 Python 流式输出失败"))
				return
			}
			if msg.Error != "" {
				yield("", xerrors.New(xerrors.CodeProcessorFailure, "Python 脚本返回错误: "+msg.Error))
				return
			}
			if msg.Content == "" {
				continue
			}
			if !yield(msg.Content, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", xerrors.Wrap(xerrors.CodeProcessorFailure, err, "读取 Python 输出失败"))
			return
		}
		if err := wait(); err != nil {
			yield("", c.runError(ctx, err, stderr.String()))
		}
	}
}

func (c *Client) command(ctx context.Context, req llm.Request, args ...string) (*exec.Cmd, error) {
	encoded, err := json.Marshal(bridgeRequest{
		Kind:       req.Kind,
		Text:       req.Text,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		MaxLength:  req.MaxLength,
		Prompt:     llm.BuildPrompt(req),
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeProcessorFailure, err, "序列化请求失败")
	}
	command := exec.CommandContext(ctx, c.pythonExec, append([]string{c.scriptPath}, args...)...)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)
	// 脚本派生的子进程可能继续占用输出管道，取消后最多再等待 waitDelay。
	command.WaitDelay = waitDelay
	return command, nil
}

func (c *Client) runError(ctx context.Context, err error, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return xerrors.Wrap(xerrors.CodeTimeout, ctxErr, "Python 脚本执行超时")
		}
		return xerrors.Wrap(xerrors.CodeCancelled, ctxErr, "Python 脚本执行已取消")
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return xerrors.Wrap(xerrors.CodeProcessorFailure, err, fmt.Sprintf("Python 脚本执行失败, stderr=%s", strings.TrimSpace(stderr)))
	}
	return xerrors.Wrap(xerrors.CodeProcessorUnavailable, err, "无法执行 Python 脚本")
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" || filepath.IsAbs(script) || baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
