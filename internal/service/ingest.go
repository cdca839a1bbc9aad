package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/monitoring"
	"dropmail/backend/internal/storage"
)

// fallbackExpiry 写入时地址记录已消失的兜底有效期
const fallbackExpiry = 10 * time.Minute

// ObjectFetcher 按定位符读取原始邮件。
type ObjectFetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// MessageParser 将原始邮件解析为结构化邮件。
type MessageParser interface {
	Parse(raw []byte) (*domain.ParsedMessage, error)
}

// AddressRegistry 是投递流程依赖的地址操作。
type AddressRegistry interface {
	IsUsable(ctx context.Context, address string) (bool, error)
	Get(ctx context.Context, address string) (*domain.TemporaryAddress, error)
	IncrementMessageCount(ctx context.Context, address string) error
}

// IngestService 把一封原始邮件转换为零或多条邮件记录。
type IngestService struct {
	fetcher     ObjectFetcher
	parser      MessageParser
	registry    AddressRegistry
	messages    storage.MessageRepository
	logger      *zap.Logger
	metrics     *monitoring.Metrics
	maxRawBytes int
	now         func() time.Time
}

// IngestOption 配置 IngestService。
type IngestOption func(*IngestService)

// WithMaxRawBytes 限制原始邮件大小，0 表示不限制。
func WithMaxRawBytes(n int) IngestOption {
	return func(s *IngestService) {
		s.maxRawBytes = n
	}
}

// WithIngestMetrics 设置监控指标。
func WithIngestMetrics(m *monitoring.Metrics) IngestOption {
	return func(s *IngestService) {
		s.metrics = m
	}
}

// NewIngestService 创建投递处理服务。
func NewIngestService(fetcher ObjectFetcher, parser MessageParser, registry AddressRegistry, messages storage.MessageRepository, logger *zap.Logger, opts ...IngestOption) *IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &IngestService{
		fetcher:  fetcher,
		parser:   parser,
		registry: registry,
		messages: messages,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest 处理 locator 指向的原始邮件。
//
// 只要至少一个有效收件人完成处理（新写入或去重跳过）就返回 true。
// 读取或解析失败直接返回 false，不做重试。
func (s *IngestService) Ingest(ctx context.Context, locator string) bool {
	return s.IngestWithRecipients(ctx, locator, nil)
}

// IngestWithRecipients 与 Ingest 相同，但 envelope 非空时以信封收件人代替 To 头筛选，
// 用于密送等 To 头不含临时地址的投递。
func (s *IngestService) IngestWithRecipients(ctx context.Context, locator string, envelope []string) bool {
	start := time.Now()
	result := monitoring.IngestFailed
	defer func() {
		s.metrics.RecordIngest(result, time.Since(start))
	}()

	log := s.logger.With(zap.String("locator", locator))

	raw, err := s.fetcher.Fetch(ctx, locator)
	if err != nil {
		result = monitoring.IngestFetchError
		log.Warn("fetch raw message failed", zap.Error(err))
		return false
	}
	if s.maxRawBytes > 0 && len(raw) > s.maxRawBytes {
		result = monitoring.IngestFetchError
		log.Warn("raw message too large", zap.Int("size", len(raw)), zap.Int("limit", s.maxRawBytes))
		return false
	}

	parsed, err := s.parser.Parse(raw)
	if err != nil {
		result = monitoring.IngestParseError
		log.Warn("parse raw message failed", zap.Error(err))
		return false
	}

	candidates := parsed.To.Addresses()
	if len(envelope) > 0 {
		candidates = normalizeAll(envelope)
	}
	valid := s.usableRecipients(ctx, candidates, log)
	if len(valid) == 0 {
		result = monitoring.IngestNoRecipient
		log.Info("no usable recipient, message dropped", zap.Strings("recipients", candidates))
		return false
	}

	externalID := parsed.MessageID
	if externalID == "" {
		externalID = fallbackMessageID(locator)
	}

	processed := 0
	for _, rcpt := range valid {
		if err := s.deliver(ctx, rcpt, externalID, parsed, locator); err != nil {
			s.metrics.RecordRecipientError()
			log.Error("deliver to recipient failed",
				zap.String("recipient", rcpt),
				zap.String("message_id", externalID),
				zap.Error(err))
			continue
		}
		processed++
	}

	if processed == 0 {
		return false
	}
	result = monitoring.IngestStored
	log.Info("message ingested",
		zap.String("message_id", externalID),
		zap.Int("recipients", processed))
	return true
}

func (s *IngestService) usableRecipients(ctx context.Context, recipients []string, log *zap.Logger) []string {
	valid := make([]string, 0, len(recipients))
	seen := make(map[string]struct{}, len(recipients))
	for _, rcpt := range recipients {
		if _, dup := seen[rcpt]; dup {
			continue
		}
		seen[rcpt] = struct{}{}
		ok, err := s.registry.IsUsable(ctx, rcpt)
		if err != nil {
			log.Warn("check recipient failed", zap.String("recipient", rcpt), zap.Error(err))
			continue
		}
		if ok {
			valid = append(valid, rcpt)
		}
	}
	return valid
}

// deliver 为单个收件人去重、写入并更新计数。
func (s *IngestService) deliver(ctx context.Context, rcpt, externalID string, parsed *domain.ParsedMessage, locator string) error {
	exists, err := s.messages.MessageExists(ctx, externalID, rcpt)
	if err != nil {
		return fmt.Errorf("check duplicate: %w", err)
	}

	if exists {
		s.metrics.RecordMessageDeduped()
	} else {
		msg, err := s.buildMessage(ctx, rcpt, externalID, parsed, locator)
		if err != nil {
			return err
		}
		err = s.messages.SaveMessage(ctx, msg)
		switch {
		case errors.Is(err, storage.ErrDuplicateMessage):
			s.metrics.RecordMessageDeduped()
		case err != nil:
			return fmt.Errorf("save message: %w", err)
		default:
			s.metrics.RecordMessageStored(len(msg.Attachments))
		}
	}

	return s.registry.IncrementMessageCount(ctx, rcpt)
}

func (s *IngestService) buildMessage(ctx context.Context, rcpt, externalID string, parsed *domain.ParsedMessage, locator string) (*domain.Message, error) {
	now := s.now()

	// 收件人快照只含所属地址，不暴露同一封邮件的其他收件人或密送地址
	// 过期时间取写入时刻地址的 expiresAt 快照
	expiresAt := now.Add(fallbackExpiry)
	ownerID := ""
	addr, err := s.registry.Get(ctx, rcpt)
	switch {
	case err == nil:
		expiresAt = addr.ExpiresAt
		ownerID = addr.ID
	case errors.Is(err, ErrAddressNotFound):
	default:
		return nil, fmt.Errorf("get owner address: %w", err)
	}

	subject := parsed.Subject
	if subject == "" {
		subject = domain.DefaultSubject
	}

	attachments := make([]domain.AttachmentMeta, 0, len(parsed.Attachments))
	for _, att := range parsed.Attachments {
		attachments = append(attachments, att.Meta())
	}

	return &domain.Message{
		ID:                uuid.NewString(),
		OwnerAddressID:    ownerID,
		OwnerAddress:      rcpt,
		ExternalMessageID: externalID,
		Sender:            parsed.From.First(),
		Recipients:        []string{rcpt},
		Subject:           subject,
		Text:              parsed.Text,
		HTML:              parsed.HTML,
		Attachments:       attachments,
		SourceKey:         locator,
		ReceivedAt:        now,
		IsRead:            false,
		ExpiresAt:         expiresAt,
	}, nil
}

func normalizeAll(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if n := domain.NormalizeAddress(a); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// fallbackMessageID 由定位符派生稳定的邮件 ID，保证缺少 Message-ID 时重复投递仍可去重。
func fallbackMessageID(locator string) string {
	return "generated-" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(locator)).String()
}
