package commands

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"TextRelay/internal/auth"
	"TextRelay/sdk/go/textrelay"
)

// TranslateAction 同步翻译。
func TranslateAction(ctx context.Context, cmd *cli.Command) error {
	client, req, err := translateInput(cmd)
	if err != nil {
		return err
	}
	result, err := client.Translate(ctx, req)
	if err != nil {
		return err
	}
	return render(cmd, result, result.TranslatedText)
}

// SummarizeAction 同步总结。
func SummarizeAction(ctx context.Context, cmd *cli.Command) error {
	client, req, err := summarizeInput(cmd)
	if err != nil {
		return err
	}
	result, err := client.Summarize(ctx, req)
	if err != nil {
		return err
	}
	return render(cmd, result, result.Summary)
}

// SubmitTranslateAction 提交异步翻译并输出 task_id。
func SubmitTranslateAction(ctx context.Context, cmd *cli.Command) error {
	client, req, err := translateInput(cmd)
	if err != nil {
		return err
	}
	submission, err := client.SubmitTranslate(ctx, req)
	if err != nil {
		return err
	}
	return render(cmd, submission, submission.TaskID)
}

// SubmitSummarizeAction 提交异步总结并输出 task_id。
func SubmitSummarizeAction(ctx context.Context, cmd *cli.Command) error {
	client, req, err := summarizeInput(cmd)
	if err != nil {
		return err
	}
	submission, err := client.SubmitSummarize(ctx, req)
	if err != nil {
		return err
	}
	return render(cmd, submission, submission.TaskID)
}

// StatusAction 查询一次任务状态。
func StatusAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return errors.New("缺少 task_id")
	}
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	task, err := client.Task(ctx, id)
	if err != nil {
		return err
	}
	return render(cmd, task, describeTask(task))
}

// WaitAction 轮询直到任务进入终态。任务失败时返回错误。
func WaitAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return errors.New("缺少 task_id")
	}
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	task, err := client.Wait(ctx, id, cmd.Duration("interval"))
	if err != nil {
		return err
	}
	if err := render(cmd, task, describeTask(task)); err != nil {
		return err
	}
	if task.Status == textrelay.StatusFailed {
		return fmt.Errorf("任务 %s 执行失败", id)
	}
	return nil
}

// StreamTranslateAction 流式翻译，逐段输出。
func StreamTranslateAction(ctx context.Context, cmd *cli.Command) error {
	client, req, err := translateInput(cmd)
	if err != nil {
		return err
	}
	return printStream(cmd, client.StreamTranslate(ctx, req, textrelay.StreamOptions{Persist: cmd.Bool("persist")}))
}

// StreamSummarizeAction 流式总结，逐段输出。
func StreamSummarizeAction(ctx context.Context, cmd *cli.Command) error {
	client, req, err := summarizeInput(cmd)
	if err != nil {
		return err
	}
	return printStream(cmd, client.StreamSummarize(ctx, req, textrelay.StreamOptions{Persist: cmd.Bool("persist")}))
}

// FunctionsAction 列出服务支持的功能。
func FunctionsAction(ctx context.Context, cmd *cli.Command) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	functions, err := client.Functions(ctx)
	if err != nil {
		return err
	}
	lines := make([]string, 0, len(functions))
	for _, fn := range functions {
		lines = append(lines, fmt.Sprintf("%-10s %s  %s", fn.ID, fn.Name, fn.Description))
	}
	return render(cmd, functions, strings.Join(lines, "\n"))
}

// TokenAction 在本地签发令牌，不访问服务。
func TokenAction(_ context.Context, cmd *cli.Command) error {
	verifier, err := auth.NewVerifier(cmd.String("secret"), cmd.String("issuer"))
	if err != nil {
		return err
	}
	if verifier == nil {
		return errors.New("密钥不能为空")
	}
	ttl := cmd.Duration("ttl")
	token, err := verifier.Issue(cmd.String("subject"), ttl)
	if err != nil {
		return err
	}
	out := map[string]string{
		"access_token": token,
		"expires_at":   time.Now().Add(ttl).UTC().Format(time.RFC3339),
	}
	return render(cmd, out, token)
}

func translateInput(cmd *cli.Command) (*textrelay.Client, textrelay.TranslateRequest, error) {
	text, err := inputText(cmd)
	if err != nil {
		return nil, textrelay.TranslateRequest{}, err
	}
	client, err := newClient(cmd)
	if err != nil {
		return nil, textrelay.TranslateRequest{}, err
	}
	return client, textrelay.TranslateRequest{
		Text:       text,
		SourceLang: cmd.String("source"),
		TargetLang: cmd.String("target"),
	}, nil
}

func summarizeInput(cmd *cli.Command) (*textrelay.Client, textrelay.SummarizeRequest, error) {
	text, err := inputText(cmd)
	if err != nil {
		return nil, textrelay.SummarizeRequest{}, err
	}
	client, err := newClient(cmd)
	if err != nil {
		return nil, textrelay.SummarizeRequest{}, err
	}
	return client, textrelay.SummarizeRequest{Text: text, MaxLength: int(cmd.Int("max-length"))}, nil
}

// printStream 在 text 格式下直接拼接片段；json/yaml 格式逐个输出事件。
func printStream(cmd *cli.Command, events iter.Seq2[textrelay.Event, error]) error {
	w := stdout(cmd)
	plain := cmd.String("output") == "" || cmd.String("output") == "text"
	for event, err := range events {
		if err != nil {
			return err
		}
		if event.Type == textrelay.EventError {
			return fmt.Errorf("%s: %s", event.Code, event.Message)
		}
		if !plain {
			if err := render(cmd, event, ""); err != nil {
				return err
			}
			continue
		}
		switch event.Type {
		case textrelay.EventStart:
			if event.TaskID != "" {
				fmt.Fprintf(w, "[task %s]\n", event.TaskID)
			}
		case textrelay.EventChunk:
			fmt.Fprint(w, event.Content)
		case textrelay.EventDone:
			fmt.Fprintln(w)
		}
	}
	return nil
}

func describeTask(task textrelay.Task) string {
	switch task.Status {
	case textrelay.StatusCompleted:
		return fmt.Sprintf("%s completed\n%s", task.TaskID, task.Result)
	case textrelay.StatusFailed:
		if task.Error != nil {
			return fmt.Sprintf("%s failed: %s %s", task.TaskID, task.Error.Code, task.Error.Message)
		}
		return task.TaskID + " failed"
	default:
		return task.TaskID + " " + task.Status
	}
}
