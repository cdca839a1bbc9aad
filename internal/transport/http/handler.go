package httptransport

import (
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/middleware"
	"dropmail/backend/internal/service"
)

// Handler 临时邮箱 API 处理器
type Handler struct {
	addresses *service.AddressService
	inbox     *service.InboxService
	ingest    *service.IngestService
	bucket    string
	logger    *zap.Logger
}

// ========== 请求/响应结构体 ==========

type generateEmailRequest struct {
	Duration     string `json:"duration"`     // 10min, 30min, 1hour, 24hours，默认 10min
	CustomPrefix string `json:"customPrefix"` // 自定义前缀，留空随机生成
}

type generateEmailResponse struct {
	Email     string    `json:"email"`
	Duration  string    `json:"duration"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type emailItem struct {
	ID          string                  `json:"id"`
	From        string                  `json:"from"`
	To          []string                `json:"to"`
	Subject     string                  `json:"subject"`
	TextContent string                  `json:"textContent"`
	HTMLContent string                  `json:"htmlContent"`
	ReceivedAt  time.Time               `json:"receivedAt"`
	ExpiresAt   time.Time               `json:"expiresAt"`
	IsRead      bool                    `json:"isRead"`
	Attachments []domain.AttachmentMeta `json:"attachments"`
}

type mailboxResponse struct {
	EmailInfo *domain.AddressInfo `json:"emailInfo"`
	Emails    []emailItem         `json:"emails"`
}

type processEmailRequest struct {
	S3Key      string   `json:"s3Key"`
	BucketName string   `json:"bucketName"`
	Recipients []string `json:"recipients"` // 可选的信封收件人
}

// ========== API 处理器 ==========

// GenerateEmail 生成或续期临时邮箱
func (h *Handler) GenerateEmail(c *gin.Context) {
	var req generateEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	duration, err := domain.ParseDuration(req.Duration)
	if err != nil {
		writeError(c, err)
		return
	}

	addr, err := h.addresses.Generate(c.Request.Context(), duration, req.CustomPrefix)
	if err != nil {
		writeError(c, err)
		return
	}

	Created(c, generateEmailResponse{
		Email:     addr.Address,
		Duration:  string(duration),
		ExpiresAt: addr.ExpiresAt,
	})
}

// ListEmails 返回地址信息与邮件列表
func (h *Handler) ListEmails(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			BadRequest(c, MsgInvalidLimit)
			return
		}
		limit = n
	}

	mailbox, err := h.inbox.Mailbox(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	items := make([]emailItem, 0, len(mailbox.Messages))
	for _, m := range mailbox.Messages {
		attachments := m.Attachments
		if attachments == nil {
			attachments = []domain.AttachmentMeta{}
		}
		items = append(items, emailItem{
			ID:          m.ID,
			From:        m.Sender,
			To:          m.Recipients,
			Subject:     m.Subject,
			TextContent: m.Text,
			HTMLContent: m.HTML,
			ReceivedAt:  m.ReceivedAt,
			ExpiresAt:   m.ExpiresAt,
			IsRead:      m.IsRead,
			Attachments: attachments,
		})
	}

	Success(c, mailboxResponse{EmailInfo: mailbox.Info, Emails: items})
}

// MarkRead 标记邮件已读，按邮件 ID 定位
func (h *Handler) MarkRead(c *gin.Context) {
	ok, err := h.inbox.MarkRead(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		writeError(c, service.ErrMessageNotFound)
		return
	}
	Success(c, gin.H{"read": true})
}

// DeactivateEmail 提前停用地址
func (h *Handler) DeactivateEmail(c *gin.Context) {
	address := domain.NormalizeAddress(c.Param("address"))
	ok, err := h.addresses.Deactivate(c.Request.Context(), address)
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		writeError(c, service.ErrAddressNotFound)
		return
	}
	Success(c, gin.H{"deactivated": true})
}

// ProcessS3Email 处理对象存储中的一封原始邮件
func (h *Handler) ProcessS3Email(c *gin.Context) {
	var req processEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(c, MsgInvalidJSON)
		return
	}
	if req.S3Key == "" {
		BadRequest(c, MsgMissingS3Key)
		return
	}
	if req.BucketName != "" && h.bucket != "" && req.BucketName != h.bucket {
		BadRequest(c, MsgBucketMismatch)
		return
	}
	if key, ok := c.Get(middleware.TriggerKeyContextKey); ok && key != req.S3Key {
		Forbidden(c, MsgTokenKeyMismatch)
		return
	}

	if !h.ingest.IngestWithRecipients(c.Request.Context(), req.S3Key, req.Recipients) {
		h.logger.Warn("s3 email not processed", zap.String("s3_key", req.S3Key))
		ErrorWithData(c, CodeInternalError, MsgProcessFailed, gin.H{"processed": false})
		return
	}

	Success(c, gin.H{"processed": true})
}
