package hybrid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/storage"
	"dropmail/backend/internal/storage/redis"
)

// Store 在持久化存储之上叠加 Redis 地址缓存。
//
// 地址读取优先命中缓存，任何地址变更都会先落库再删除缓存。
// 缓存故障只记录日志，不影响主存储结果。
type Store struct {
	storage.Store
	cache  *redis.AddressCache
	logger *zap.Logger
	now    func() time.Time
}

// NewStore 创建混合存储
func NewStore(primary storage.Store, cache *redis.AddressCache, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		Store:  primary,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// GetAddress 先查缓存，未命中时回源并回填
func (s *Store) GetAddress(ctx context.Context, address string) (*domain.TemporaryAddress, error) {
	cached, err := s.cache.Get(ctx, address)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, redis.ErrCacheMiss) {
		s.logger.Warn("address cache read failed", zap.String("address", address), zap.Error(err))
	}

	addr, err := s.Store.GetAddress(ctx, address)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, addr, s.now()); err != nil {
		s.logger.Warn("address cache write failed", zap.String("address", address), zap.Error(err))
	}
	return addr, nil
}

func (s *Store) CreateAddress(ctx context.Context, addr *domain.TemporaryAddress) error {
	if err := s.Store.CreateAddress(ctx, addr); err != nil {
		return err
	}
	s.invalidate(ctx, addr.Address)
	return nil
}

func (s *Store) ExtendAddress(ctx context.Context, address string, expiresAt, now time.Time) (bool, error) {
	ok, err := s.Store.ExtendAddress(ctx, address, expiresAt, now)
	if err == nil && ok {
		s.invalidate(ctx, address)
	}
	return ok, err
}

func (s *Store) ReplaceAddress(ctx context.Context, addr *domain.TemporaryAddress, now time.Time) (bool, error) {
	ok, err := s.Store.ReplaceAddress(ctx, addr, now)
	if err == nil && ok {
		s.invalidate(ctx, addr.Address)
	}
	return ok, err
}

func (s *Store) DeactivateAddress(ctx context.Context, address string) (bool, error) {
	ok, err := s.Store.DeactivateAddress(ctx, address)
	if err == nil && ok {
		s.invalidate(ctx, address)
	}
	return ok, err
}

func (s *Store) IncrementMessageCount(ctx context.Context, address string, now time.Time) error {
	if err := s.Store.IncrementMessageCount(ctx, address, now); err != nil {
		return err
	}
	s.invalidate(ctx, address)
	return nil
}

// DeleteExpiredAddresses 只清理主存储，缓存条目的保留时间本身不会超过地址有效期
func (s *Store) DeleteExpiredAddresses(ctx context.Context, before time.Time) (int, error) {
	return s.Store.DeleteExpiredAddresses(ctx, before)
}

func (s *Store) invalidate(ctx context.Context, address string) {
	if err := s.cache.Delete(ctx, address); err != nil {
		s.logger.Warn("address cache invalidation failed", zap.String("address", address), zap.Error(err))
	}
}

// Health 同时检查主存储与缓存
func (s *Store) Health(ctx context.Context) error {
	if err := s.Store.Health(ctx); err != nil {
		return err
	}
	if err := s.cache.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Close 关闭主存储与缓存连接
func (s *Store) Close() error {
	return errors.Join(s.Store.Close(), s.cache.Close())
}
