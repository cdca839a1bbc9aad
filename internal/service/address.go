package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/monitoring"
	"dropmail/backend/internal/storage"
)

var (
	ErrInvalidDuration = domain.ErrInvalidDuration
	ErrPrefixLength    = domain.ErrPrefixLength
	ErrPrefixInvalid   = domain.ErrPrefixInvalid
	ErrAddressNotFound = errors.New("address not found or expired")
	ErrMessageNotFound = errors.New("message not found")
)

const (
	randomPrefixLength   = 8
	randomPrefixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	// generateAttempts 覆盖 创建/续期/覆盖 之间的并发竞争
	generateAttempts = 3
)

// AddressService 管理临时地址的生命周期。
type AddressService struct {
	repo    storage.AddressRepository
	domain  string
	logger  *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
}

// NewAddressService 创建地址服务，mailDomain 为生成地址使用的域名。
func NewAddressService(repo storage.AddressRepository, mailDomain string, logger *zap.Logger, metrics *monitoring.Metrics) *AddressService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AddressService{
		repo:    repo,
		domain:  strings.ToLower(strings.TrimSpace(mailDomain)),
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Domain 返回服务使用的邮件域名。
func (s *AddressService) Domain() string {
	return s.domain
}

// Generate 生成或续期一个临时地址。
//
// 同名地址仍可用时原地延长 expiresAt 并返回同一地址；已过期或停用但尚未清理的记录会被新记录覆盖。
func (s *AddressService) Generate(ctx context.Context, duration domain.Duration, customPrefix string) (*domain.TemporaryAddress, error) {
	if !duration.Valid() {
		return nil, ErrInvalidDuration
	}

	prefix := domain.NormalizePrefix(customPrefix)
	custom := prefix != ""
	if custom {
		if err := domain.ValidatePrefix(prefix); err != nil {
			return nil, err
		}
	} else {
		var err error
		if prefix, err = randomPrefix(randomPrefixLength); err != nil {
			return nil, fmt.Errorf("generate prefix: %w", err)
		}
	}

	address := fmt.Sprintf("%s@%s", prefix, s.domain)

	for attempt := 0; attempt < generateAttempts; attempt++ {
		now := s.now()
		expiresAt := now.Add(duration.Offset())

		existing, err := s.repo.GetAddress(ctx, address)
		switch {
		case errors.Is(err, storage.ErrAddressNotFound):
			record := s.newRecord(address, now, expiresAt)
			err = s.repo.CreateAddress(ctx, record)
			if errors.Is(err, storage.ErrAddressExists) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("create address: %w", err)
			}
			s.metrics.RecordAddressGenerated(string(duration), custom)
			s.logger.Info("address generated",
				zap.String("address", address),
				zap.String("duration", string(duration)),
				zap.Time("expires_at", expiresAt))
			return record, nil

		case err != nil:
			return nil, fmt.Errorf("get address: %w", err)

		case existing.Usable(now):
			ok, err := s.repo.ExtendAddress(ctx, address, expiresAt, now)
			if err != nil {
				return nil, fmt.Errorf("extend address: %w", err)
			}
			if !ok {
				continue
			}
			existing.ExpiresAt = expiresAt
			existing.LastAccessedAt = now
			s.metrics.RecordAddressExtended()
			s.logger.Info("address extended",
				zap.String("address", address),
				zap.Time("expires_at", expiresAt))
			return existing, nil

		default:
			record := s.newRecord(address, now, expiresAt)
			ok, err := s.repo.ReplaceAddress(ctx, record, now)
			if err != nil {
				return nil, fmt.Errorf("replace address: %w", err)
			}
			if !ok {
				continue
			}
			s.metrics.RecordAddressGenerated(string(duration), custom)
			s.logger.Info("stale address replaced",
				zap.String("address", address),
				zap.Time("expires_at", expiresAt))
			return record, nil
		}
	}

	return nil, fmt.Errorf("generate address %s: too much contention", address)
}

// IsUsable 地址存在、激活且未过期时返回 true。
func (s *AddressService) IsUsable(ctx context.Context, address string) (bool, error) {
	addr, err := s.repo.GetAddress(ctx, address)
	if errors.Is(err, storage.ErrAddressNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get address: %w", err)
	}
	return addr.Usable(s.now()), nil
}

// Get 返回地址记录，不存在时返回 ErrAddressNotFound。
func (s *AddressService) Get(ctx context.Context, address string) (*domain.TemporaryAddress, error) {
	addr, err := s.repo.GetAddress(ctx, address)
	if errors.Is(err, storage.ErrAddressNotFound) {
		return nil, ErrAddressNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get address: %w", err)
	}
	return addr, nil
}

// Info 返回地址信息，不检查是否可用。
func (s *AddressService) Info(ctx context.Context, address string) (*domain.AddressInfo, error) {
	addr, err := s.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	return addr.Info(s.now()), nil
}

// Deactivate 停用地址，仅当存在激活记录并被修改时返回 true。
func (s *AddressService) Deactivate(ctx context.Context, address string) (bool, error) {
	ok, err := s.repo.DeactivateAddress(ctx, address)
	if err != nil {
		return false, fmt.Errorf("deactivate address: %w", err)
	}
	if ok {
		s.metrics.RecordAddressDeactivated()
		s.logger.Info("address deactivated", zap.String("address", address))
	}
	return ok, nil
}

// IncrementMessageCount 原子自增邮件计数，地址不存在时静默忽略。
func (s *AddressService) IncrementMessageCount(ctx context.Context, address string) error {
	if err := s.repo.IncrementMessageCount(ctx, address, s.now()); err != nil {
		return fmt.Errorf("increment message count: %w", err)
	}
	return nil
}

// PurgeExpired 删除 expiresAt 早于当前时间的全部地址，不论是否激活，返回删除数量。
func (s *AddressService) PurgeExpired(ctx context.Context) (int, error) {
	count, err := s.repo.DeleteExpiredAddresses(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired addresses: %w", err)
	}
	s.metrics.RecordPurged("addresses", count)
	return count, nil
}

func (s *AddressService) newRecord(address string, now, expiresAt time.Time) *domain.TemporaryAddress {
	return &domain.TemporaryAddress{
		ID:             uuid.NewString(),
		Address:        address,
		Domain:         s.domain,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
		IsActive:       true,
		MessageCount:   0,
		LastAccessedAt: now,
	}
}

func randomPrefix(n int) (string, error) {
	limit := big.NewInt(int64(len(randomPrefixAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		buf[i] = randomPrefixAlphabet[idx.Int64()]
	}
	return string(buf), nil
}
