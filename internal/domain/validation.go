package domain

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// 验证相关的错误定义
var (
	ErrPrefixLength  = errors.New("custom prefix must be between 3 and 20 characters")
	ErrPrefixInvalid = errors.New("custom prefix contains characters not allowed in an address")
	ErrInvalidDomain = errors.New("invalid domain format")
)

// 验证常量
const (
	MinPrefixLength = 3
	MaxPrefixLength = 20

	MaxDomainLength = 253 // 域名最大长度
)

// 域名验证（支持子域名）
var domainRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?(\.[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?)*$`)

// NormalizePrefix 去除首尾空白并转为小写。
func NormalizePrefix(prefix string) string {
	return strings.ToLower(strings.TrimSpace(prefix))
}

// ValidatePrefix 校验自定义前缀。
//
// 长度按字符计算，必须在 3 到 20 之间；不允许出现会破坏地址语法的字符。
func ValidatePrefix(prefix string) error {
	n := utf8.RuneCountInString(prefix)
	if n < MinPrefixLength || n > MaxPrefixLength {
		return ErrPrefixLength
	}
	for _, r := range prefix {
		if unicode.IsSpace(r) || unicode.IsControl(r) || strings.ContainsRune(`@<>,;:"\()[]`, r) {
			return ErrPrefixInvalid
		}
	}
	return nil
}

// ValidateDomain 校验邮件域名。
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > MaxDomainLength {
		return ErrInvalidDomain
	}
	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}
