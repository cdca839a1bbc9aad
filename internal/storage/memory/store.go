package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/storage"
)

// Store 使用内存保存地址与邮件数据，主要用于开发验证和测试。
type Store struct {
	mu        sync.RWMutex
	addresses map[string]*domain.TemporaryAddress // address -> record
	messages  map[string]*domain.Message          // messageID -> message
	dedup     map[dedupKey]string                 // (externalMessageID, owner) -> messageID
}

type dedupKey struct {
	externalID string
	owner      string
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		addresses: make(map[string]*domain.TemporaryAddress),
		messages:  make(map[string]*domain.Message),
		dedup:     make(map[dedupKey]string),
	}
}

// CreateAddress 插入新地址。
func (s *Store) CreateAddress(_ context.Context, addr *domain.TemporaryAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.addresses[addr.Address]; ok {
		return storage.ErrAddressExists
	}
	cp := *addr
	s.addresses[addr.Address] = &cp
	return nil
}

// GetAddress 根据完整地址获取记录副本。
func (s *Store) GetAddress(_ context.Context, address string) (*domain.TemporaryAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addr, ok := s.addresses[address]
	if !ok {
		return nil, storage.ErrAddressNotFound
	}
	cp := *addr
	return &cp, nil
}

// ExtendAddress 延长可用地址的有效期。
func (s *Store) ExtendAddress(_ context.Context, address string, expiresAt, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr, ok := s.addresses[address]
	if !ok || !addr.Usable(now) {
		return false, nil
	}
	addr.ExpiresAt = expiresAt
	addr.LastAccessedAt = now
	return true, nil
}

// ReplaceAddress 用新记录覆盖已不可用的同名地址。
func (s *Store) ReplaceAddress(_ context.Context, addr *domain.TemporaryAddress, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.addresses[addr.Address]
	if !ok || existing.Usable(now) {
		return false, nil
	}
	cp := *addr
	s.addresses[addr.Address] = &cp
	return true, nil
}

// DeactivateAddress 停用地址。
func (s *Store) DeactivateAddress(_ context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr, ok := s.addresses[address]
	if !ok || !addr.IsActive {
		return false, nil
	}
	addr.IsActive = false
	return true, nil
}

// IncrementMessageCount 自增邮件计数。
func (s *Store) IncrementMessageCount(_ context.Context, address string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr, ok := s.addresses[address]; ok {
		addr.MessageCount++
		addr.LastAccessedAt = now
	}
	return nil
}

// DeleteExpiredAddresses 删除所有过期地址，返回删除数量。
func (s *Store) DeleteExpiredAddresses(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key, addr := range s.addresses {
		if addr.ExpiresAt.Before(before) {
			delete(s.addresses, key)
			count++
		}
	}
	return count, nil
}

// SaveMessage 保存邮件。
func (s *Store) SaveMessage(_ context.Context, message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedupKey{externalID: message.ExternalMessageID, owner: message.OwnerAddress}
	if _, ok := s.dedup[key]; ok {
		return storage.ErrDuplicateMessage
	}
	cp := copyMessage(message)
	s.messages[message.ID] = cp
	s.dedup[key] = message.ID
	return nil
}

// MessageExists 按去重键检查邮件是否已存在。
func (s *Store) MessageExists(_ context.Context, externalMessageID, ownerAddress string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.dedup[dedupKey{externalID: externalMessageID, owner: ownerAddress}]
	return ok, nil
}

// ListMessages 返回某个地址下未过期的邮件。
func (s *Store) ListMessages(_ context.Context, ownerAddress string, now time.Time, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Message, 0)
	for _, msg := range s.messages {
		if msg.OwnerAddress == ownerAddress && msg.ExpiresAt.After(now) {
			result = append(result, *copyMessage(msg))
		}
	}

	// 接收时间相同时按 ID 倒序，保证顺序不受 map 遍历影响
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].ReceivedAt.Equal(result[j].ReceivedAt) {
			return result[i].ReceivedAt.After(result[j].ReceivedAt)
		}
		return result[i].ID > result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// MarkMessageRead 标记邮件为已读。
func (s *Store) MarkMessageRead(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return false, nil
	}
	msg.IsRead = true
	return true, nil
}

// DeleteExpiredMessages 删除所有过期邮件，返回删除数量。
func (s *Store) DeleteExpiredMessages(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, msg := range s.messages {
		if msg.ExpiresAt.Before(before) {
			delete(s.dedup, dedupKey{externalID: msg.ExternalMessageID, owner: msg.OwnerAddress})
			delete(s.messages, id)
			count++
		}
	}
	return count, nil
}

// Close 内存存储无需释放资源。
func (s *Store) Close() error {
	return nil
}

// Health 内存存储始终健康。
func (s *Store) Health(_ context.Context) error {
	return nil
}

func copyMessage(msg *domain.Message) *domain.Message {
	cp := *msg
	cp.Recipients = append([]string(nil), msg.Recipients...)
	cp.Attachments = append([]domain.AttachmentMeta(nil), msg.Attachments...)
	return &cp
}
