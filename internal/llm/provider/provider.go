// Package provider builds the configured text processor once at startup.
package provider

import (
	"context"
	"log/slog"

	"TextRelay/internal/config"
	xerrors "TextRelay/internal/errors"
	"TextRelay/internal/llm"
	"TextRelay/internal/llm/gemini"
	"TextRelay/internal/llm/openai"
	"TextRelay/internal/llm/pythonbridge"
	"TextRelay/internal/llm/simulated"
	"TextRelay/pkg/logger"
)

// Selection 记录最终选用的处理器。
type Selection struct {
	Client llm.Client
	// Name 为实际生效的提供方名称。
	Name string
	// Degraded 表示配置的提供方无法初始化，已整体改用模拟实现。
	Degraded bool
}

// New 根据配置创建处理器。
//
// 开启 degrade_to_simulated 时：提供方初始化失败则整体使用模拟实现；初始化成功则包一层
// llm.Fallback，单次调用失败时返回模拟输出。
func New(ctx context.Context, cfg config.LLMConfig) (Selection, error) {
	sim := simulated.New(simulated.WithDelay(cfg.Simulated.Delay))
	if cfg.Provider == "simulated" {
		return Selection{Client: sim, Name: "simulated"}, nil
	}

	client, err := build(ctx, cfg)
	if err != nil {
		if !cfg.DegradeToSimulated {
			return Selection{}, err
		}
		logger.L().Warn("处理器初始化失败，使用模拟实现",
			slog.String("provider", cfg.Provider),
			slog.Any("error", err),
		)
		return Selection{Client: sim, Name: "simulated", Degraded: true}, nil
	}
	if cfg.DegradeToSimulated {
		return Selection{Client: llm.NewFallback(cfg.Provider, client, sim), Name: cfg.Provider}, nil
	}
	return Selection{Client: client, Name: cfg.Provider}, nil
}

func build(ctx context.Context, cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewClient(openAIConfig("openai", cfg.OpenAI, cfg))
	case "qianwen":
		pc := cfg.Qianwen
		if pc.BaseURL == "" {
			pc.BaseURL = openai.QianwenBaseURL
		}
		return openai.NewClient(openAIConfig("qianwen", pc, cfg))
	case "claude":
		pc := cfg.Claude
		if pc.BaseURL == "" {
			pc.BaseURL = openai.ClaudeBaseURL
		}
		return openai.NewClient(openAIConfig("claude", pc, cfg))
	case "gemini":
		return gemini.NewClient(ctx, gemini.Config{
			APIKey:      cfg.Gemini.APIKey,
			BaseURL:     cfg.Gemini.BaseURL,
			Model:       cfg.Gemini.Model,
			Temperature: &cfg.Temperature,
		})
	case "python_bridge":
		return pythonbridge.NewClient(cfg.Python.PythonExecutable, cfg.Python.ScriptPath, cfg.Python.WorkingDir)
	default:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未知的处理器: "+cfg.Provider)
	}
}

func openAIConfig(name string, pc config.ProviderConfig, cfg config.LLMConfig) openai.Config {
	return openai.Config{
		Provider:    name,
		APIKey:      pc.APIKey,
		BaseURL:     pc.BaseURL,
		Model:       pc.Model,
		Temperature: &cfg.Temperature,
		MaxRetries:  cfg.MaxRetries,
	}
}
