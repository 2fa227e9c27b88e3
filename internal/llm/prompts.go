package llm

import "fmt"

// Temperature 为翻译与总结使用的默认采样温度。
const Temperature = 0.3

// BuildPrompt 根据请求类型生成发送给模型的提示词。
func BuildPrompt(req Request) string {
	switch req.Kind {
	case KindTranslate:
		return fmt.Sprintf("请将以下%s文本翻译成%s，只返回翻译结果：\n\n%s", sourceLabel(req.SourceLang), req.TargetLang, req.Text)
	case KindSummarize:
		if req.MaxLength > 0 {
			return fmt.Sprintf("请对以下文本进行简洁的总结，不超过%d字：\n\n%s", req.MaxLength, req.Text)
		}
		return "请对以下文本进行简洁的总结：\n\n" + req.Text
	default:
		return req.Text
	}
}

func sourceLabel(lang string) string {
	if lang == "" || lang == DefaultSourceLang {
		return ""
	}
	return lang
}
