package domain

import "time"

const (
	// DefaultSubject 邮件缺少主题时使用
	DefaultSubject = "(No Subject)"
	// DefaultAttachmentName 附件缺少文件名时使用
	DefaultAttachmentName = "unnamed"
	// DefaultAttachmentType 附件缺少类型时使用
	DefaultAttachmentType = "application/octet-stream"
)

// Message 表示投递到某个临时地址的一封邮件。
//
// OwnerAddressID 只是接收时地址记录的弱引用，不是外键；地址被清理后邮件仍可独立存在，
// 直到自身的 ExpiresAt。
type Message struct {
	ID                string           `json:"id" gorm:"primaryKey;type:varchar(36)" bson:"_id"`
	OwnerAddressID    string           `json:"emailId" gorm:"type:varchar(36)" bson:"owner_address_id"`
	OwnerAddress      string           `json:"tempEmailAddress" gorm:"type:varchar(255);not null;uniqueIndex:idx_messages_dedup,priority:2;index:idx_messages_owner" bson:"owner_address"`
	ExternalMessageID string           `json:"messageId" gorm:"type:varchar(255);not null;uniqueIndex:idx_messages_dedup,priority:1" bson:"external_message_id"`
	Sender            string           `json:"from" gorm:"type:varchar(320)" bson:"sender"`
	Recipients        []string         `json:"to" gorm:"serializer:json;type:text" bson:"recipients"`
	Subject           string           `json:"subject" gorm:"type:varchar(998)" bson:"subject"`
	Text              string           `json:"text" gorm:"type:text" bson:"text"`
	HTML              string           `json:"html" gorm:"type:text" bson:"html"`
	Attachments       []AttachmentMeta `json:"attachments" gorm:"serializer:json;type:text" bson:"attachments"`
	SourceKey         string           `json:"s3Key,omitempty" gorm:"type:varchar(1024)" bson:"source_key,omitempty"`
	ReceivedAt        time.Time        `json:"receivedAt" gorm:"index:idx_messages_owner" bson:"received_at"`
	IsRead            bool             `json:"isRead" gorm:"default:false" bson:"is_read"`
	ExpiresAt         time.Time        `json:"expiresAt" gorm:"index" bson:"expires_at"`
}

// TableName 指定 gorm 表名。
func (Message) TableName() string {
	return "messages"
}

// AttachmentMeta 附件元数据，附件内容不保留。
type AttachmentMeta struct {
	Filename    string `json:"filename" bson:"filename"`
	ContentType string `json:"contentType" bson:"content_type"`
	Size        int64  `json:"size" bson:"size"`
}

// ParsedAttachment 解析器产出的附件信息，零值表示缺失。
type ParsedAttachment struct {
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Meta 转换为持久化的附件元数据，并补全缺省值。
func (a ParsedAttachment) Meta() AttachmentMeta {
	meta := AttachmentMeta{
		Filename:    a.Filename,
		ContentType: a.ContentType,
		Size:        a.Size,
	}
	if meta.Filename == "" {
		meta.Filename = DefaultAttachmentName
	}
	if meta.ContentType == "" {
		meta.ContentType = DefaultAttachmentType
	}
	if meta.Size < 0 {
		meta.Size = 0
	}
	return meta
}

// ParsedMessage 是 MIME 解析后的结构化邮件。
type ParsedMessage struct {
	From        AddressField       `json:"from"`
	To          AddressField       `json:"to"`
	Subject     string             `json:"subject,omitempty"`
	Text        string             `json:"text,omitempty"`
	HTML        string             `json:"html,omitempty"`
	Attachments []ParsedAttachment `json:"attachments,omitempty"`
	MessageID   string             `json:"messageId,omitempty"`
	Date        time.Time          `json:"date,omitempty"`
}
