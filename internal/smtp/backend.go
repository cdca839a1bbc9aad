package smtp

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"dropmail/backend/internal/config"
	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/monitoring"
	"dropmail/backend/internal/objectstore"
)

// RecipientChecker 判断地址当前是否可以收信
type RecipientChecker interface {
	IsUsable(ctx context.Context, address string) (bool, error)
}

// Ingester 处理已落盘的原始邮件
type Ingester interface {
	IngestWithRecipients(ctx context.Context, locator string, envelope []string) bool
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收发往当前可用临时地址的邮件，不提供任何中继能力。
// DATA 阶段先把原始邮件写入对象存储，再交给投递流程处理。
type Backend struct {
	recipients RecipientChecker
	objects    objectstore.Store
	ingester   Ingester
	limiter    *ConnectionLimiter
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	maxBytes   int64
	timeout    time.Duration
	now        func() time.Time
}

// NewBackend 创建 SMTP Backend。
func NewBackend(
	recipients RecipientChecker,
	objects objectstore.Store,
	ingester Ingester,
	limiter *ConnectionLimiter,
	logger *zap.Logger,
	metrics *monitoring.Metrics,
) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		recipients: recipients,
		objects:    objects,
		ingester:   ingester,
		limiter:    limiter,
		logger:     logger,
		metrics:    metrics,
		maxBytes:   25 << 20,
		timeout:    30 * time.Second,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NewServer 按配置创建 SMTP 服务器
func NewServer(backend *Backend, cfg config.SMTPConfig) *gosmtp.Server {
	if cfg.MaxMessageBytes > 0 {
		backend.maxBytes = cfg.MaxMessageBytes
	}

	server := gosmtp.NewServer(backend)
	server.Addr = cfg.BindAddr
	server.Domain = cfg.Domain
	server.ReadTimeout = 10 * time.Second
	server.WriteTimeout = 10 * time.Second
	server.MaxMessageBytes = backend.maxBytes
	server.MaxRecipients = 50
	return server
}

// NewSession 创建新的 SMTP 会话，超过连接限制时拒绝。
func (b *Backend) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	if b.limiter != nil && !b.limiter.Acquire() {
		b.metrics.RecordSMTPRejected()
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}
	return &session{backend: b}, nil
}

type session struct {
	backend    *Backend
	from       string
	recipients []string
	released   bool
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt 处理 RCPT 命令，只接受当前可用的临时地址。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := domain.NormalizeAddress(to)
	if !strings.Contains(addr, "@") {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.backend.timeout)
	defer cancel()

	ok, err := s.backend.recipients.IsUsable(ctx, addr)
	if err != nil {
		s.backend.logger.Error("check smtp recipient failed", zap.String("recipient", addr), zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary lookup failure",
		}
	}
	if !ok {
		s.backend.metrics.RecordSMTPRejected()
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "recipient address not found or expired",
		}
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 保存原始邮件并触发投递流程。
func (s *session) Data(r io.Reader) error {
	if len(s.recipients) == 0 {
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "no valid recipients",
		}
	}

	raw, err := io.ReadAll(io.LimitReader(r, s.backend.maxBytes+1))
	if err != nil {
		return err
	}
	if int64(len(raw)) > s.backend.maxBytes {
		return gosmtp.ErrDataTooLarge
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.backend.timeout)
	defer cancel()

	key := s.backend.objectKey()
	if err := s.backend.objects.Put(ctx, key, raw); err != nil {
		s.backend.logger.Error("store inbound message failed", zap.String("key", key), zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary storage failure",
		}
	}

	// 投递失败可能来自存储的瞬时错误，返回临时错误让对端稍后重投
	if !s.backend.ingester.IngestWithRecipients(ctx, key, s.recipients) {
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "message could not be delivered, try again later",
		}
	}

	s.backend.logger.Info("smtp message accepted",
		zap.String("from", s.from),
		zap.Strings("recipients", s.recipients),
		zap.String("key", key),
	)
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束，释放连接许可。
func (s *session) Logout() error {
	if !s.released && s.backend.limiter != nil {
		s.backend.limiter.Release()
	}
	s.released = true
	return nil
}

// objectKey 生成 inbound/<日期>/<uuid>.eml 形式的对象键
func (b *Backend) objectKey() string {
	return fmt.Sprintf("inbound/%s/%s.eml", b.now().Format("2006-01-02"), uuid.NewString())
}
