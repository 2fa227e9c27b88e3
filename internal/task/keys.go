package task

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// 命名空间常量。同一个 Redis 中不同子系统的键通过命名空间隔离。
const (
	NamespaceTask     = "task"
	NamespaceDispatch = "dispatch"
)

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+(:[A-Za-z0-9_.-]+)*$`)

// KeyScheme 将 (namespace, id) 映射为存储键：<prefix>:<namespace>:<id>。
//
// namespace 与 id 经过转义，转义结果不含 ':' 以及 SCAN 通配符，因此映射是单射的，
// 并且可以安全地用前缀匹配做批量操作。
type KeyScheme struct {
	prefix string
}

// NewKeyScheme 创建键方案。prefix 只允许字母、数字、'_'、'.'、'-'，可用 ':' 分段。
func NewKeyScheme(prefix string) (KeyScheme, error) {
	if !prefixPattern.MatchString(prefix) {
		return KeyScheme{}, fmt.Errorf("非法的键前缀 %q", prefix)
	}
	return KeyScheme{prefix: prefix}, nil
}

// MustKeyScheme 与 NewKeyScheme 相同，前缀非法时 panic。
func MustKeyScheme(prefix string) KeyScheme {
	s, err := NewKeyScheme(prefix)
	if err != nil {
		panic(err)
	}
	return s
}

// Prefix 返回键前缀。
func (s KeyScheme) Prefix() string {
	return s.prefix
}

// Key 生成存储键。
func (s KeyScheme) Key(namespace, id string) string {
	return s.prefix + ":" + url.QueryEscape(namespace) + ":" + url.QueryEscape(id)
}

// Pattern 返回匹配整个命名空间的 SCAN 模式。
func (s KeyScheme) Pattern(namespace string) string {
	return s.prefix + ":" + url.QueryEscape(namespace) + ":*"
}

// Parse 从存储键还原 (namespace, id)，仅用于诊断与统计。
func (s KeyScheme) Parse(key string) (namespace, id string, err error) {
	rest, ok := strings.CutPrefix(key, s.prefix+":")
	if !ok {
		return "", "", fmt.Errorf("键 %q 不属于前缀 %q", key, s.prefix)
	}
	rawNS, rawID, ok := strings.Cut(rest, ":")
	if !ok || strings.Contains(rawID, ":") {
		return "", "", fmt.Errorf("键 %q 格式非法", key)
	}
	if namespace, err = url.QueryUnescape(rawNS); err != nil {
		return "", "", fmt.Errorf("解析命名空间失败: %w", err)
	}
	if id, err = url.QueryUnescape(rawID); err != nil {
		return "", "", fmt.Errorf("解析任务 ID 失败: %w", err)
	}
	return namespace, id, nil
}
