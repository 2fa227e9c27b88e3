// Package commands implements the textrelay command line client.
package commands

import (
	"time"

	"github.com/urfave/cli/v3"
)

// New 构造 textrelay 根命令。
func New() *cli.Command {
	return &cli.Command{
		Name:  "textrelay",
		Usage: "TextRelay 文本翻译与总结服务的命令行客户端",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "服务地址",
				Value:   "http://localhost:8000",
				Sources: cli.EnvVars("TEXTRELAY_URL"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer 令牌",
				Sources: cli.EnvVars("TEXTRELAY_TOKEN"),
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "输出格式 (text|json|yaml)",
				Value: "text",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "translate",
				Usage:     "同步翻译文本",
				ArgsUsage: "<文本|->",
				Flags:     translateFlags(),
				Action:    TranslateAction,
			},
			{
				Name:      "summarize",
				Usage:     "同步总结文本",
				ArgsUsage: "<文本|->",
				Flags:     summarizeFlags(),
				Action:    SummarizeAction,
			},
			{
				Name:  "submit",
				Usage: "提交异步任务",
				Commands: []*cli.Command{
					{
						Name:      "translate",
						Usage:     "提交异步翻译任务",
						ArgsUsage: "<文本|->",
						Flags:     translateFlags(),
						Action:    SubmitTranslateAction,
					},
					{
						Name:      "summarize",
						Usage:     "提交异步总结任务",
						ArgsUsage: "<文本|->",
						Flags:     summarizeFlags(),
						Action:    SubmitSummarizeAction,
					},
				},
			},
			{
				Name:      "status",
				Usage:     "查询任务状态",
				ArgsUsage: "<task_id>",
				Action:    StatusAction,
			},
			{
				Name:      "wait",
				Usage:     "轮询任务直到结束",
				ArgsUsage: "<task_id>",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "interval", Usage: "轮询间隔", Value: time.Second},
					&cli.DurationFlag{Name: "timeout", Usage: "最长等待时间", Value: 5 * time.Minute},
				},
				Action: WaitAction,
			},
			{
				Name:  "stream",
				Usage: "流式调用",
				Commands: []*cli.Command{
					{
						Name:      "translate",
						Usage:     "流式翻译",
						ArgsUsage: "<文本|->",
						Flags:     append(translateFlags(), persistFlag()),
						Action:    StreamTranslateAction,
					},
					{
						Name:      "summarize",
						Usage:     "流式总结",
						ArgsUsage: "<文本|->",
						Flags:     append(summarizeFlags(), persistFlag()),
						Action:    StreamSummarizeAction,
					},
				},
			},
			{
				Name:   "functions",
				Usage:  "列出服务支持的功能",
				Action: FunctionsAction,
			},
			{
				Name:  "token",
				Usage: "使用共享密钥签发访问令牌",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "secret", Usage: "JWT 密钥", Sources: cli.EnvVars("TEXTRELAY_AUTH_JWT_SECRET"), Required: true},
					&cli.StringFlag{Name: "issuer", Usage: "签发方", Sources: cli.EnvVars("TEXTRELAY_AUTH_ISSUER")},
					&cli.StringFlag{Name: "subject", Usage: "调用方标识", Value: "cli"},
					&cli.DurationFlag{Name: "ttl", Usage: "有效期", Value: time.Hour},
				},
				Action: TokenAction,
			},
		},
	}
}

func translateFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "源语言", Value: "auto"},
		&cli.StringFlag{Name: "target", Aliases: []string{"t"}, Usage: "目标语言", Value: "英文"},
	}
}

func summarizeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "max-length", Usage: "总结的最大长度", Value: 200},
	}
}

func persistFlag() cli.Flag {
	return &cli.BoolFlag{Name: "persist", Usage: "保存结果以便之后查询"}
}
