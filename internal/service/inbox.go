package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/monitoring"
	"dropmail/backend/internal/storage"
)

// DefaultListLimit 列表默认返回条数
const DefaultListLimit = 50

// AddressLookup 查询地址记录。
type AddressLookup interface {
	Get(ctx context.Context, address string) (*domain.TemporaryAddress, error)
}

// Mailbox 收件箱视图：地址信息与邮件列表。
type Mailbox struct {
	Info     *domain.AddressInfo `json:"emailInfo"`
	Messages []domain.Message    `json:"emails"`
}

// InboxService 邮件读取服务。
type InboxService struct {
	messages  storage.MessageRepository
	addresses AddressLookup
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	now       func() time.Time
}

// NewInboxService 创建收件箱服务。
func NewInboxService(messages storage.MessageRepository, addresses AddressLookup, logger *zap.Logger, metrics *monitoring.Metrics) *InboxService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InboxService{
		messages:  messages,
		addresses: addresses,
		logger:    logger,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List 返回地址下未过期的邮件，最新在前。
//
// 不检查地址是否仍然激活，邮件按自身 expiresAt 独立可见。
func (s *InboxService) List(ctx context.Context, address string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	messages, err := s.messages.ListMessages(ctx, domain.NormalizeAddress(address), s.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// Mailbox 返回可用地址的信息与邮件，地址不存在或已过期时返回 ErrAddressNotFound。
func (s *InboxService) Mailbox(ctx context.Context, address string, limit int) (*Mailbox, error) {
	address = domain.NormalizeAddress(address)
	addr, err := s.addresses.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !addr.Usable(now) {
		return nil, ErrAddressNotFound
	}

	messages, err := s.List(ctx, address, limit)
	if err != nil {
		return nil, err
	}
	return &Mailbox{Info: addr.Info(now), Messages: messages}, nil
}

// MarkRead 标记邮件已读，邮件不存在时返回 false。重复调用结果不变。
func (s *InboxService) MarkRead(ctx context.Context, id string) (bool, error) {
	ok, err := s.messages.MarkMessageRead(ctx, id)
	if err != nil {
		return false, fmt.Errorf("mark message read: %w", err)
	}
	if ok {
		s.metrics.RecordMessageRead()
	}
	return ok, nil
}

// PurgeExpired 删除快照过期时间已过的邮件。
func (s *InboxService) PurgeExpired(ctx context.Context) (int, error) {
	count, err := s.messages.DeleteExpiredMessages(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired messages: %w", err)
	}
	s.metrics.RecordPurged("messages", count)
	return count, nil
}
