package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"dropmail/backend/internal/domain"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// AddressCache 以地址为键缓存地址记录
type AddressCache struct {
	client *Client
	ttl    time.Duration
}

// NewAddressCache 创建地址缓存，ttl 为单条记录的最长保留时间
func NewAddressCache(client *Client, ttl time.Duration) *AddressCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &AddressCache{client: client, ttl: ttl}
}

func addressKey(address string) string {
	return fmt.Sprintf("address:%s", address)
}

// Get 获取缓存的地址记录，未命中时返回 ErrCacheMiss
func (c *AddressCache) Get(ctx context.Context, address string) (*domain.TemporaryAddress, error) {
	data, err := c.client.rdb.Get(ctx, addressKey(address)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var addr domain.TemporaryAddress
	if err := json.Unmarshal(data, &addr); err != nil {
		return nil, err
	}
	return &addr, nil
}

// Set 写入地址记录，保留时间不超过记录自身的剩余有效期；已过期的记录不缓存
func (c *AddressCache) Set(ctx context.Context, addr *domain.TemporaryAddress, now time.Time) error {
	ttl := c.ttl
	if remaining := addr.ExpiresAt.Sub(now); remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(addr)
	if err != nil {
		return err
	}
	return c.client.rdb.Set(ctx, addressKey(addr.Address), data, ttl).Err()
}

// Delete 删除缓存的地址记录
func (c *AddressCache) Delete(ctx context.Context, address string) error {
	return c.client.rdb.Del(ctx, addressKey(address)).Err()
}

// Ping 检查缓存后端连通性
func (c *AddressCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

// Close 关闭缓存使用的 Redis 连接
func (c *AddressCache) Close() error {
	return c.client.Close()
}
