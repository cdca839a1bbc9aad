package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/storage"
)

const (
	pgUniqueViolation   = "23505"
	mysqlDuplicateEntry = 1062
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 5
	defaultConnLifetime = 5 * time.Minute
)

// Options 连接池与迁移配置
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SkipMigrate     bool // 由 cmd/migrate 单独执行迁移时跳过
}

// Store 基于 GORM 的 SQL 存储实现，支持 PostgreSQL 与 MySQL
type Store struct {
	db *gorm.DB
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建 PostgreSQL 存储实例
func NewStore(dsn string, opts Options) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn), opts)
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string, opts Options) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn), opts)
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, opts Options) (*Store, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 静默模式
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(orDefault(opts.MaxOpenConns, defaultMaxOpenConns))
	sqlDB.SetMaxIdleConns(orDefault(opts.MaxIdleConns, defaultMaxIdleConns))
	lifetime := opts.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = defaultConnLifetime
	}
	sqlDB.SetConnMaxLifetime(lifetime)

	store := &Store{db: db}

	if !opts.SkipMigrate {
		if err := store.Migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return store, nil
}

// Migrate 自动迁移数据库表结构
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.TemporaryAddress{},
		&domain.Message{},
	)
}

// ========== Address Repository ==========

// CreateAddress 插入新地址
func (s *Store) CreateAddress(ctx context.Context, addr *domain.TemporaryAddress) error {
	err := s.db.WithContext(ctx).Create(addr).Error
	if isUniqueViolation(err) {
		return storage.ErrAddressExists
	}
	return err
}

// GetAddress 根据完整地址获取记录
func (s *Store) GetAddress(ctx context.Context, address string) (*domain.TemporaryAddress, error) {
	var addr domain.TemporaryAddress
	err := s.db.WithContext(ctx).Where("address = ?", address).First(&addr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAddressNotFound
		}
		return nil, err
	}
	return &addr, nil
}

// ExtendAddress 条件更新：仅当地址在 now 时刻可用
func (s *Store) ExtendAddress(ctx context.Context, address string, expiresAt, now time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&domain.TemporaryAddress{}).
		Where("address = ? AND is_active = ? AND expires_at > ?", address, true, now).
		Updates(map[string]interface{}{
			"expires_at":       expiresAt,
			"last_accessed_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReplaceAddress 条件覆盖：仅当同名记录已停用或已过期
func (s *Store) ReplaceAddress(ctx context.Context, addr *domain.TemporaryAddress, now time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&domain.TemporaryAddress{}).
		Where("address = ? AND (is_active = ? OR expires_at <= ?)", addr.Address, false, now).
		Updates(map[string]interface{}{
			"id":               addr.ID,
			"domain":           addr.Domain,
			"created_at":       addr.CreatedAt,
			"expires_at":       addr.ExpiresAt,
			"is_active":        true,
			"message_count":    0,
			"last_accessed_at": addr.LastAccessedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// DeactivateAddress 停用激活的地址
func (s *Store) DeactivateAddress(ctx context.Context, address string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&domain.TemporaryAddress{}).
		Where("address = ? AND is_active = ?", address, true).
		Update("is_active", false)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// IncrementMessageCount 原子自增邮件计数，地址不存在时影响 0 行
func (s *Store) IncrementMessageCount(ctx context.Context, address string, now time.Time) error {
	return s.db.WithContext(ctx).
		Model(&domain.TemporaryAddress{}).
		Where("address = ?", address).
		Updates(map[string]interface{}{
			"message_count":    gorm.Expr("message_count + 1"),
			"last_accessed_at": now,
		}).Error
}

// DeleteExpiredAddresses 删除过期地址，不论是否激活
func (s *Store) DeleteExpiredAddresses(ctx context.Context, before time.Time) (int, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&domain.TemporaryAddress{})
	return int(result.RowsAffected), result.Error
}

// ========== Message Repository ==========

// SaveMessage 保存邮件，去重键冲突返回 ErrDuplicateMessage
func (s *Store) SaveMessage(ctx context.Context, message *domain.Message) error {
	err := s.db.WithContext(ctx).Create(message).Error
	if isUniqueViolation(err) {
		return storage.ErrDuplicateMessage
	}
	return err
}

// MessageExists 按去重键检查邮件是否存在
func (s *Store) MessageExists(ctx context.Context, externalMessageID, ownerAddress string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("external_message_id = ? AND owner_address = ?", externalMessageID, ownerAddress).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}

// ListMessages 返回未过期邮件，按接收时间倒序
func (s *Store) ListMessages(ctx context.Context, ownerAddress string, now time.Time, limit int) ([]domain.Message, error) {
	messages := make([]domain.Message, 0)
	err := s.db.WithContext(ctx).
		Where("owner_address = ? AND expires_at > ?", ownerAddress, now).
		Order("received_at DESC, id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// MarkMessageRead 标记邮件为已读
//
// MySQL 对未变化的行返回 0 影响行数，因此需要再确认一次记录是否存在。
func (s *Store) MarkMessageRead(ctx context.Context, id string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", id).
		Update("is_read", true)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&domain.Message{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteExpiredMessages 删除快照过期时间已过的邮件
func (s *Store) DeleteExpiredMessages(ctx context.Context, before time.Time) (int, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&domain.Message{})
	return int(result.RowsAffected), result.Error
}

// ========== 工具方法 ==========

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// isUniqueViolation 识别各驱动的唯一键冲突
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return true
	}
	return false
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
