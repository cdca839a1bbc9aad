package storage

import (
	"context"
	"errors"
	"time"

	"dropmail/backend/internal/domain"
)

var (
	// ErrAddressNotFound 地址记录不存在
	ErrAddressNotFound = errors.New("address not found")
	// ErrAddressExists 地址已存在（唯一键冲突）
	ErrAddressExists = errors.New("address already exists")
	// ErrDuplicateMessage 去重键 (externalMessageId, ownerAddress) 冲突
	ErrDuplicateMessage = errors.New("duplicate message")
)

// AddressRepository 定义临时地址数据存取操作。
//
// 所有并发协调都依赖存储层的原子操作：唯一键、条件更新与原子自增。
type AddressRepository interface {
	// CreateAddress 插入新地址，地址已存在时返回 ErrAddressExists。
	CreateAddress(ctx context.Context, addr *domain.TemporaryAddress) error
	// GetAddress 按完整地址查询，不存在时返回 ErrAddressNotFound。
	GetAddress(ctx context.Context, address string) (*domain.TemporaryAddress, error)
	// ExtendAddress 仅当地址在 now 时刻可用时更新 expiresAt 与 lastAccessedAt。
	ExtendAddress(ctx context.Context, address string, expiresAt, now time.Time) (bool, error)
	// ReplaceAddress 仅当同名记录在 now 时刻不可用时整体覆盖为 addr。
	ReplaceAddress(ctx context.Context, addr *domain.TemporaryAddress, now time.Time) (bool, error)
	// DeactivateAddress 将激活的地址置为停用。
	DeactivateAddress(ctx context.Context, address string) (bool, error)
	// IncrementMessageCount 原子自增邮件计数，地址不存在时不做任何事。
	IncrementMessageCount(ctx context.Context, address string, now time.Time) error
	// DeleteExpiredAddresses 删除 expiresAt 早于 before 的全部地址，不论是否激活。
	DeleteExpiredAddresses(ctx context.Context, before time.Time) (int, error)
}

// MessageRepository 定义邮件数据存取操作。
type MessageRepository interface {
	// SaveMessage 保存邮件，去重键冲突时返回 ErrDuplicateMessage。
	SaveMessage(ctx context.Context, message *domain.Message) error
	MessageExists(ctx context.Context, externalMessageID, ownerAddress string) (bool, error)
	// ListMessages 返回 expiresAt 晚于 now 的邮件，按 receivedAt 倒序，最多 limit 条。
	ListMessages(ctx context.Context, ownerAddress string, now time.Time, limit int) ([]domain.Message, error)
	// MarkMessageRead 标记已读，邮件不存在时返回 false。
	MarkMessageRead(ctx context.Context, id string) (bool, error)
	DeleteExpiredMessages(ctx context.Context, before time.Time) (int, error)
}

// Store 定义完整的存储接口。
type Store interface {
	AddressRepository
	MessageRepository

	// 工具方法
	Close() error
	Health(ctx context.Context) error
}
