package domain

import "strings"

// AddressKind 区分地址字段的两种形态。
type AddressKind int

const (
	// AddressText 原始字符串形态，例如无法按 RFC 5322 解析的头部
	AddressText AddressKind = iota
	// AddressStructured 结构化形态，包含一组邮箱
	AddressStructured
)

// Mailbox 结构化地址中的单个邮箱。
type Mailbox struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// AddressValue 是 to/from 字段中的一项。
type AddressValue struct {
	Kind      AddressKind
	Text      string
	Mailboxes []Mailbox
}

// TextAddress 构造字符串形态的地址项。
func TextAddress(text string) AddressValue {
	return AddressValue{Kind: AddressText, Text: text}
}

// StructuredAddress 构造结构化形态的地址项。
func StructuredAddress(boxes ...Mailbox) AddressValue {
	return AddressValue{Kind: AddressStructured, Mailboxes: boxes}
}

// Addresses 返回该项包含的规范化地址，保持原有顺序。
func (v AddressValue) Addresses() []string {
	var out []string
	switch v.Kind {
	case AddressText:
		out = splitTextAddresses(v.Text)
	case AddressStructured:
		for _, box := range v.Mailboxes {
			if addr := NormalizeAddress(box.Address); addr != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}

// AddressField 表示解析后的 to/from 字段：字符串、结构化对象或两者组成的数组。
type AddressField []AddressValue

// Addresses 展平为有序地址列表，过滤空值。
func (f AddressField) Addresses() []string {
	var out []string
	for _, v := range f {
		out = append(out, v.Addresses()...)
	}
	return out
}

// First 返回第一个地址，没有时返回空字符串。
func (f AddressField) First() string {
	for _, v := range f {
		if addrs := v.Addresses(); len(addrs) > 0 {
			return addrs[0]
		}
	}
	return ""
}

// NormalizeAddress 去除空白和尖括号并转为小写。
//
// "Alice <Alice@Example.com>" 归一化为 "alice@example.com"。
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if open := strings.LastIndex(addr, "<"); open >= 0 {
		if end := strings.Index(addr[open:], ">"); end > 0 {
			addr = addr[open+1 : open+end]
		}
	}
	addr = strings.Trim(strings.TrimSpace(addr), "<>")
	return strings.ToLower(addr)
}

// splitTextAddresses 按逗号切分字符串形态的地址列表。
//
// 显示名中可能含逗号，例如 "Doe, John <john@example.com>"，
// 因此连续片段会合并到出现 "@" 为止；末尾不含 "@" 的残片丢弃。
func splitTextAddresses(text string) []string {
	var out []string
	var pending string
	for _, part := range strings.Split(text, ",") {
		if pending != "" {
			pending += "," + part
		} else {
			pending = part
		}
		if !strings.Contains(pending, "@") {
			continue
		}
		if addr := NormalizeAddress(pending); addr != "" {
			out = append(out, addr)
		}
		pending = ""
	}
	return out
}
