package filesystem

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"unicode"
)

// maxSegmentLength 单个路径段最大长度
const maxSegmentLength = 200

// resolveKey 把对象键转换为 basePath 下的安全路径
//
// 键使用 "/" 分隔；空段、"."、".." 和绝对路径都会被拒绝，
// 每个路径段都会清理平台不允许的字符。
func resolveKey(basePath, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}
	if strings.HasPrefix(key, "/") || filepath.IsAbs(key) {
		return "", fmt.Errorf("absolute object key not allowed: %s", key)
	}

	segments := strings.Split(key, "/")
	cleaned := make([]string, 0, len(segments)+1)
	cleaned = append(cleaned, basePath)
	for _, segment := range segments {
		if segment == "" || segment == "." || segment == ".." {
			return "", fmt.Errorf("invalid object key: %s", key)
		}
		safe := sanitizeSegment(segment)
		if safe == "" {
			return "", fmt.Errorf("invalid object key: %s", key)
		}
		cleaned = append(cleaned, safe)
	}

	full := filepath.Join(cleaned...)
	rel, err := filepath.Rel(basePath, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s", key)
	}
	return full, nil
}

// sanitizeSegment 清理单个路径段，确保跨平台兼容
func sanitizeSegment(segment string) string {
	for _, char := range invalidChars() {
		segment = strings.ReplaceAll(segment, char, "_")
	}

	segment = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, segment)

	segment = limitLength(segment, maxSegmentLength)

	return strings.Trim(segment, " .")
}

// invalidChars 当前平台不允许出现在文件名中的字符
func invalidChars() []string {
	switch runtime.GOOS {
	case "darwin", "linux":
		return []string{"\\", "\x00"}
	default:
		return []string{"<", ">", ":", "\"", "|", "?", "*", "\\", "\x00"}
	}
}

// limitLength 限制长度，尽量保留扩展名
func limitLength(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	ext := filepath.Ext(s)
	name := strings.TrimSuffix(s, ext)

	available := maxLen - len(ext)
	if available <= 0 {
		return s[:maxLen]
	}
	return name[:available] + ext
}
