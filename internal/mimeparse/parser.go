// Package mimeparse 把原始 RFC 5322 邮件解析为结构化邮件。
package mimeparse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"

	"dropmail/backend/internal/domain"
)

// ErrEmptyMessage 原始邮件为空
var ErrEmptyMessage = errors.New("empty message")

func init() {
	// 常见的历史字符集别名，邮件客户端经常直接写在头部
	charset.RegisterEncoding("gb2312", simplifiedchinese.GBK)
	charset.RegisterEncoding("gbk", simplifiedchinese.GBK)
	charset.RegisterEncoding("x-gbk", simplifiedchinese.GBK)
	charset.RegisterEncoding("gb18030", simplifiedchinese.GB18030)
	charset.RegisterEncoding("big5", traditionalchinese.Big5)
	charset.RegisterEncoding("shift_jis", japanese.ShiftJIS)
	charset.RegisterEncoding("euc-jp", japanese.EUCJP)
	charset.RegisterEncoding("iso-2022-jp", japanese.ISO2022JP)
	charset.RegisterEncoding("euc-kr", korean.EUCKR)
	charset.RegisterEncoding("ks_c_5601-1987", korean.EUCKR)
}

// Parser 原始邮件解析器
type Parser struct {
	logger *zap.Logger
}

// New 创建解析器
func New(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// Parse 解析原始邮件。
//
// 第一个内联 text/plain 与 text/html 分别填充 Text 与 HTML；
// 附件以及带文件名的其他内联部分记为附件，大小为解码后的字节数。
func (p *Parser) Parse(raw []byte) (*domain.ParsedMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyMessage
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil || (err != nil && !recoverable(err)) {
		return nil, fmt.Errorf("parse mail: %w", err)
	}
	if err != nil {
		p.logger.Debug("message header charset not supported", zap.Error(err))
	}
	defer mr.Close()

	h := mr.Header
	parsed := &domain.ParsedMessage{
		From:      addressField(&h, "From"),
		To:        addressField(&h, "To"),
		Subject:   headerText(&h, "Subject"),
		MessageID: strings.TrimSpace(h.Get("Message-Id")),
	}
	if date, err := h.Date(); err == nil {
		parsed.Date = date
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if part == nil || !recoverable(err) {
				// 正文结构损坏时保留已解析的内容
				p.logger.Warn("stop reading message parts", zap.Error(err))
				break
			}
			p.logger.Debug("part charset not supported", zap.Error(err))
		}

		if err := p.readPart(part, parsed); err != nil {
			p.logger.Warn("read message part failed", zap.Error(err))
		}
	}

	return parsed, nil
}

func (p *Parser) readPart(part *mail.Part, parsed *domain.ParsedMessage) error {
	switch h := part.Header.(type) {
	case *mail.InlineHeader:
		contentType, params, _ := h.ContentType()
		switch {
		case contentType == "text/plain" && parsed.Text == "":
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return err
			}
			parsed.Text = string(body)
		case contentType == "text/html" && parsed.HTML == "":
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return err
			}
			parsed.HTML = string(body)
		default:
			name := params["name"]
			if name == "" {
				_, dispParams, _ := h.ContentDisposition()
				name = dispParams["filename"]
			}
			if name == "" {
				return nil
			}
			size, err := io.Copy(io.Discard, part.Body)
			if err != nil {
				return err
			}
			parsed.Attachments = append(parsed.Attachments, domain.ParsedAttachment{
				Filename:    name,
				ContentType: contentType,
				Size:        size,
			})
		}
	case *mail.AttachmentHeader:
		filename, _ := h.Filename()
		contentType, _, _ := h.ContentType()
		size, err := io.Copy(io.Discard, part.Body)
		if err != nil {
			return err
		}
		parsed.Attachments = append(parsed.Attachments, domain.ParsedAttachment{
			Filename:    filename,
			ContentType: contentType,
			Size:        size,
		})
	}
	return nil
}

// addressField 优先按 RFC 5322 解析地址列表，失败时保留解码后的原文
func addressField(h *mail.Header, key string) domain.AddressField {
	if !h.Has(key) {
		return nil
	}

	list, err := h.AddressList(key)
	if err == nil && len(list) > 0 {
		boxes := make([]domain.Mailbox, 0, len(list))
		for _, addr := range list {
			boxes = append(boxes, domain.Mailbox{Name: addr.Name, Address: addr.Address})
		}
		return domain.AddressField{domain.StructuredAddress(boxes...)}
	}

	text := headerText(h, key)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return domain.AddressField{domain.TextAddress(text)}
}

func headerText(h *mail.Header, key string) string {
	text, err := h.Text(key)
	if err != nil {
		return h.Get(key)
	}
	return text
}

func recoverable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
