package llm

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	blankLines  = regexp.MustCompile(`\n\s*\n\s*\n+`)
	inlineSpace = regexp.MustCompile(`[ \t]+`)
)

// Preprocess 过滤不可见字符并压缩多余空白，保留中文、中文标点与全角字符。
func Preprocess(text string) string {
	if text == "" {
		return ""
	}
	cleaned := strings.Map(func(r rune) rune {
		if keepRune(r) {
			return r
		}
		return -1
	}, text)
	cleaned = blankLines.ReplaceAllString(cleaned, "\n\n")
	cleaned = inlineSpace.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

func keepRune(r rune) bool {
	switch {
	case r >= 0x20 && r <= 0x7e:
		return true
	case unicode.IsSpace(r):
		return true
	case r >= 0x4e00 && r <= 0x9fff:
		return true
	case r >= 0x3000 && r <= 0x303f:
		return true
	case r >= 0xff00 && r <= 0xffef:
		return true
	default:
		return false
	}
}
